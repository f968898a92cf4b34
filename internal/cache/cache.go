// Package cache deduplicates analysis work. The key is (content hash,
// analysis type, provider): the same bytes analysed the same way by
// the same provider always yield the same result, so a live cache hit
// skips the provider call entirely. Expiry is lazy; an expired entry
// is simply a miss.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/prism/internal/intake"
)

// Backend is the persistence the durable cache runs on. Satisfied by
// db.DB and memstore.Store.
type Backend interface {
	GetCacheEntry(ctx context.Context, hash, analysisType, provider string) (*intake.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, e *intake.CacheEntry) error
	GetResult(ctx context.Context, id uuid.UUID) (*intake.AnalysisResult, error)
}

// Cache maps content hashes to prior analysis results through the
// backing store's cache table.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given entry lifetime. A non-positive
// ttl falls back to the 30-day default.
func New(backend Backend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = intake.DefaultCacheTTL
	}
	return &Cache{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Lookup returns the cached result for the given key, or nil on miss.
// A dangling entry (result row gone) is treated as a miss rather than
// an error so a pruned results table never wedges dispatch.
func (c *Cache) Lookup(ctx context.Context, hash, analysisType, provider string) (*intake.AnalysisResult, error) {
	if hash == "" {
		return nil, nil
	}
	entry, err := c.backend.GetCacheEntry(ctx, hash, analysisType, provider)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	result, err := c.backend.GetResult(ctx, entry.ResultID)
	if err != nil {
		if intake.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache result fetch: %w", err)
	}
	return result, nil
}

// Store records that hash was analysed and produced r. Last write
// wins when two workers race on the same key.
func (c *Cache) Store(ctx context.Context, hash string, r *intake.AnalysisResult) error {
	if hash == "" {
		return nil
	}
	now := c.now()
	entry := &intake.CacheEntry{
		ContentHash:  hash,
		AnalysisType: r.AnalysisType,
		Provider:     r.Provider,
		ResultID:     r.ID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
	}
	if err := c.backend.UpsertCacheEntry(ctx, entry); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
