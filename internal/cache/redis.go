package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/prism/internal/intake"
)

// RedisCache is an alternative cache layer keeping the full serialized
// result in Redis instead of a pointer into the results table. Useful
// when the dashboard and workers share a Redis but not a database.
// Expiry is delegated to Redis key TTLs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = intake.DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(hash, analysisType, provider string) string {
	return fmt.Sprintf("prism:analysis:%s:%s:%s", hash, analysisType, provider)
}

// Lookup returns the cached result for the given key, or nil on miss.
func (c *RedisCache) Lookup(ctx context.Context, hash, analysisType, provider string) (*intake.AnalysisResult, error) {
	if hash == "" {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, redisKey(hash, analysisType, provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache lookup: %w", err)
	}
	var result intake.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// A corrupt value is a miss; the next Store overwrites it.
		return nil, nil
	}
	return &result, nil
}

// Store serializes r under the cache key with the configured TTL.
func (c *RedisCache) Store(ctx context.Context, hash string, r *intake.AnalysisResult) error {
	if hash == "" {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis cache encode: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(hash, r.AnalysisType, r.Provider), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache store: %w", err)
	}
	return nil
}
