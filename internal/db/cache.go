package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/prism/internal/intake"
)

// UpsertCacheEntry stores a cache entry, overwriting any existing
// entry for the same (content hash, analysis type, provider) key.
// Latest wins.
func (db *DB) UpsertCacheEntry(ctx context.Context, e *intake.CacheEntry) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO analysis_cache (content_hash, analysis_type, provider, result_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (content_hash, analysis_type, provider)
		 DO UPDATE SET result_id = $4, expires_at = $5, created_at = NOW()
		 RETURNING created_at`,
		e.ContentHash, e.AnalysisType, e.Provider, e.ResultID, e.ExpiresAt,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry returns the live cache entry for a key, or nil if
// there is none or it has expired. Expiry is lazy: expired rows are
// filtered here and cleaned up opportunistically by PurgeExpiredCache.
func (db *DB) GetCacheEntry(ctx context.Context, hash, analysisType, provider string) (*intake.CacheEntry, error) {
	var e intake.CacheEntry
	err := db.pool.QueryRow(ctx,
		`SELECT content_hash, analysis_type, provider, result_id, created_at, expires_at
		 FROM analysis_cache
		 WHERE content_hash = $1 AND analysis_type = $2 AND provider = $3 AND expires_at > NOW()`,
		hash, analysisType, provider,
	).Scan(&e.ContentHash, &e.AnalysisType, &e.Provider, &e.ResultID, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &e, nil
}

// PurgeExpiredCache removes expired cache rows. Not on any strict
// schedule; the worker runs it periodically in the background.
func (db *DB) PurgeExpiredCache(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM analysis_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
