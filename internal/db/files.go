package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/prism/internal/intake"
)

const fileColumns = `id, original_filename, storage_key, storage_bucket, file_size_bytes,
	mime_type, file_hash, uploaded_by, source_device, status, investment_id, document_id,
	tags, custom_metadata, created_at, updated_at, processed_at`

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolation = "23505"

func scanFile(row pgx.Row) (*intake.FileRecord, error) {
	var f intake.FileRecord
	var status string
	var metadataJSON []byte

	err := row.Scan(&f.ID, &f.OriginalFilename, &f.StorageKey, &f.StorageBucket,
		&f.FileSizeBytes, &f.MIMEType, &f.ContentHash, &f.UploadedBy, &f.SourceDevice,
		&status, &f.InvestmentID, &f.DocumentID, &f.Tags, &metadataJSON,
		&f.CreatedAt, &f.UpdatedAt, &f.ProcessedAt)
	if err != nil {
		return nil, err
	}
	f.Status = intake.FileStatus(status)
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &f.Metadata)
	}
	return &f, nil
}

// InsertFile stores a new file record. The (bucket, storage key) pair
// must be unique; duplicate content hashes are allowed since dedup is
// a caching concern, not a registry concern.
func (db *DB) InsertFile(ctx context.Context, f *intake.FileRecord) error {
	if f.Status == "" {
		f.Status = intake.FilePending
	}
	metadataJSON, err := json.Marshal(orEmptyMap(f.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO file_registry (original_filename, storage_key, storage_bucket,
			file_size_bytes, mime_type, file_hash, uploaded_by, source_device, status,
			investment_id, document_id, tags, custom_metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at, updated_at`,
		f.OriginalFilename, f.StorageKey, f.StorageBucket, f.FileSizeBytes, f.MIMEType,
		f.ContentHash, f.UploadedBy, f.SourceDevice, string(f.Status), f.InvestmentID,
		f.DocumentID, orEmptySlice(f.Tags), metadataJSON,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &intake.DuplicateKeyError{Bucket: f.StorageBucket, Key: f.StorageKey}
		}
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// GetFile retrieves a file record by ID.
func (db *DB) GetFile(ctx context.Context, id uuid.UUID) (*intake.FileRecord, error) {
	f, err := scanFile(db.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM file_registry WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &intake.NotFoundError{Entity: intake.EntityFile, ID: id}
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// CASFileStatus transitions a file's status only if it currently holds
// the expected status. Returns false without error when the guard
// fails.
func (db *DB) CASFileStatus(ctx context.Context, id uuid.UUID, from, to intake.FileStatus, processedAt *time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE file_registry
		 SET status = $1, processed_at = COALESCE($2, processed_at), updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		string(to), processedAt, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update file status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost guard from a missing row.
		if _, err := db.GetFile(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// LinkFile associates a file with a domain entity. Last write wins.
func (db *DB) LinkFile(ctx context.Context, id uuid.UUID, investmentID, documentID *uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE file_registry
		 SET investment_id = COALESCE($1, investment_id),
		     document_id = COALESCE($2, document_id),
		     updated_at = NOW()
		 WHERE id = $3`,
		investmentID, documentID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to link file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &intake.NotFoundError{Entity: intake.EntityFile, ID: id}
	}
	return nil
}

// ListFilesByStatus retrieves files holding the given status, newest
// first.
func (db *DB) ListFilesByStatus(ctx context.Context, status intake.FileStatus, limit int) ([]intake.FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM file_registry
		 WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []intake.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *f)
	}
	return files, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
