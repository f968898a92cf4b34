package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/prism/internal/intake"
)

const resultColumns = `id, job_id, file_id, investment_id, analysis_type, provider,
	model_version, raw_text, structured_data, summary, extracted_entities,
	extracted_dates, extracted_amounts, confidence_score, quality_flags,
	processing_time_ms, tokens_used, created_at`

func scanResult(row pgx.Row) (*intake.AnalysisResult, error) {
	var r intake.AnalysisResult
	var structuredJSON, entitiesJSON, datesJSON, amountsJSON []byte

	err := row.Scan(&r.ID, &r.JobID, &r.FileID, &r.InvestmentID, &r.AnalysisType,
		&r.Provider, &r.ModelVersion, &r.RawText, &structuredJSON, &r.Summary,
		&entitiesJSON, &datesJSON, &amountsJSON, &r.ConfidenceScore, &r.QualityFlags,
		&r.ProcessingTimeMs, &r.TokensUsed, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(structuredJSON) > 0 {
		_ = json.Unmarshal(structuredJSON, &r.StructuredData)
	}
	if len(entitiesJSON) > 0 {
		_ = json.Unmarshal(entitiesJSON, &r.ExtractedEntities)
	}
	if len(datesJSON) > 0 {
		_ = json.Unmarshal(datesJSON, &r.ExtractedDates)
	}
	if len(amountsJSON) > 0 {
		_ = json.Unmarshal(amountsJSON, &r.ExtractedAmounts)
	}
	return &r, nil
}

// InsertResult stores a new analysis result. Results are immutable
// once written; there is intentionally no update method.
func (db *DB) InsertResult(ctx context.Context, r *intake.AnalysisResult) error {
	structuredJSON, err := json.Marshal(orEmptyMap(r.StructuredData))
	if err != nil {
		return fmt.Errorf("failed to marshal structured data: %w", err)
	}
	entitiesJSON, _ := json.Marshal(orEmptyMap(r.ExtractedEntities))
	datesJSON, _ := json.Marshal(orEmptyMap(r.ExtractedDates))
	amountsJSON, _ := json.Marshal(orEmptyMap(r.ExtractedAmounts))

	err = db.pool.QueryRow(ctx,
		`INSERT INTO analysis_results (job_id, file_id, investment_id, analysis_type,
			provider, model_version, raw_text, structured_data, summary, extracted_entities,
			extracted_dates, extracted_amounts, confidence_score, quality_flags,
			processing_time_ms, tokens_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id, created_at`,
		r.JobID, r.FileID, r.InvestmentID, r.AnalysisType, r.Provider, r.ModelVersion,
		r.RawText, structuredJSON, r.Summary, entitiesJSON, datesJSON, amountsJSON,
		r.ConfidenceScore, orEmptySlice(r.QualityFlags), r.ProcessingTimeMs, r.TokensUsed,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// GetResult retrieves an analysis result by ID.
func (db *DB) GetResult(ctx context.Context, id uuid.UUID) (*intake.AnalysisResult, error) {
	r, err := scanResult(db.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &intake.NotFoundError{Entity: "result", ID: id}
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return r, nil
}

// GetResultForFile retrieves the most recent analysis result for a
// file.
func (db *DB) GetResultForFile(ctx context.Context, fileID uuid.UUID) (*intake.AnalysisResult, error) {
	r, err := scanResult(db.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM analysis_results
		 WHERE file_id = $1 ORDER BY created_at DESC LIMIT 1`,
		fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &intake.NotFoundError{Entity: "result", ID: fileID}
		}
		return nil, fmt.Errorf("failed to get result for file: %w", err)
	}
	return r, nil
}
