package db

import (
	"context"
	"fmt"
)

// schema is applied by Migrate. Status values are plain text columns;
// transition rules are enforced in code, not by database constraints,
// so the invariants hold regardless of backend.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS file_registry (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		original_filename VARCHAR(500) NOT NULL,
		storage_key VARCHAR(1000) NOT NULL,
		storage_bucket VARCHAR(255) NOT NULL,
		file_size_bytes BIGINT,
		mime_type VARCHAR(100),
		file_hash VARCHAR(64),
		uploaded_by VARCHAR(255),
		source_device VARCHAR(50),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		investment_id UUID,
		document_id UUID,
		tags TEXT[] NOT NULL DEFAULT '{}',
		custom_metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		CONSTRAINT unique_storage_key UNIQUE (storage_bucket, storage_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_registry_hash ON file_registry (file_hash)`,
	`CREATE TABLE IF NOT EXISTS processing_jobs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		job_type VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'queued',
		priority INT NOT NULL DEFAULT 5,
		file_id UUID NOT NULL REFERENCES file_registry(id) ON DELETE CASCADE,
		investment_id UUID,
		worker_id VARCHAR(100),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		parameters JSONB NOT NULL DEFAULT '{}',
		result_id UUID,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		scheduled_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_jobs_dispatch
		ON processing_jobs (priority, created_at) WHERE status = 'queued'`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		job_id UUID,
		file_id UUID NOT NULL REFERENCES file_registry(id) ON DELETE CASCADE,
		investment_id UUID,
		analysis_type VARCHAR(50) NOT NULL,
		provider VARCHAR(50) NOT NULL,
		model_version VARCHAR(100),
		raw_text TEXT,
		structured_data JSONB NOT NULL DEFAULT '{}',
		summary TEXT,
		extracted_entities JSONB NOT NULL DEFAULT '{}',
		extracted_dates JSONB NOT NULL DEFAULT '{}',
		extracted_amounts JSONB NOT NULL DEFAULT '{}',
		confidence_score NUMERIC(3,2),
		quality_flags TEXT[] NOT NULL DEFAULT '{}',
		processing_time_ms INT,
		tokens_used INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_results_file ON analysis_results (file_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS analysis_cache (
		content_hash VARCHAR(64) NOT NULL,
		analysis_type VARCHAR(50) NOT NULL,
		provider VARCHAR(50) NOT NULL,
		result_id UUID NOT NULL REFERENCES analysis_results(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (content_hash, analysis_type, provider)
	)`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		entity_type VARCHAR(50) NOT NULL,
		entity_id UUID NOT NULL,
		action VARCHAR(50) NOT NULL,
		performed_by VARCHAR(255),
		performed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		old_values JSONB,
		new_values JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_log_entity ON activity_log (entity_type, entity_id, performed_at)`,
}

// Migrate applies the intake schema. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
