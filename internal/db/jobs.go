package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/prism/internal/intake"
)

const jobColumns = `id, job_type, status, priority, file_id, investment_id, worker_id,
	started_at, completed_at, retry_count, max_retries, parameters, result_id,
	error_message, created_at, updated_at, scheduled_at`

func scanJob(row pgx.Row) (*intake.Job, error) {
	var j intake.Job
	var jobType, status string
	var parametersJSON []byte

	err := row.Scan(&j.ID, &jobType, &status, &j.Priority, &j.FileID, &j.InvestmentID,
		&j.WorkerID, &j.StartedAt, &j.CompletedAt, &j.RetryCount, &j.MaxRetries,
		&parametersJSON, &j.ResultID, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt,
		&j.NotBefore)
	if err != nil {
		return nil, err
	}
	j.JobType = intake.JobType(jobType)
	j.Status = intake.JobStatus(status)
	if len(parametersJSON) > 0 {
		_ = json.Unmarshal(parametersJSON, &j.Parameters)
	}
	return &j, nil
}

// InsertJob stores a new job with status queued.
func (db *DB) InsertJob(ctx context.Context, j *intake.Job) error {
	if j.Status == "" {
		j.Status = intake.JobQueued
	}
	parametersJSON, err := json.Marshal(orEmptyMap(j.Parameters))
	if err != nil {
		return fmt.Errorf("failed to marshal job parameters: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO processing_jobs (job_type, status, priority, file_id, investment_id,
			retry_count, max_retries, parameters, scheduled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		string(j.JobType), string(j.Status), j.Priority, j.FileID, j.InvestmentID,
		j.RetryCount, j.MaxRetries, parametersJSON, j.NotBefore,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*intake.Job, error) {
	j, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// ListJobsByStatus retrieves jobs holding the given status, newest
// first.
func (db *DB) ListJobsByStatus(ctx context.Context, status intake.JobStatus, limit int) ([]intake.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DequeueCandidates returns up to limit queued jobs eligible to run
// now, ordered by priority ascending then creation time ascending.
// This ordering is the scheduling policy: strict priority, FIFO
// within a band, no aging.
func (db *DB) DequeueCandidates(ctx context.Context, limit int) ([]intake.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE status = 'queued' AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		 ORDER BY priority ASC, created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue candidates: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ClaimJob atomically transitions a job from queued to running,
// stamping the worker identity and start time. The conditional update
// guarantees two schedulers never both claim the same job. Returns
// false when the job is no longer queued.
func (db *DB) ClaimJob(ctx context.Context, id uuid.UUID, workerID string) (*intake.Job, bool, error) {
	j, err := scanJob(db.pool.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = 'running', worker_id = $1, started_at = NOW(), updated_at = NOW()
		 WHERE id = $2 AND status = 'queued'
		 RETURNING `+jobColumns,
		workerID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race or the job is gone; tell them apart.
			if _, err := db.GetJob(ctx, id); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to claim job: %w", err)
	}
	return j, true, nil
}

// CompleteJob transitions a running job to completed and records the
// result reference. Returns false when the job is no longer running,
// in which case nothing is written (a cancelled job stays cancelled).
func (db *DB) CompleteJob(ctx context.Context, id, resultID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = 'completed', result_id = $1, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $2 AND status = 'running'`,
		resultID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetJob(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// FailJob marks a running job failed immediately without consuming a
// retry. Used for non-retryable errors such as a missing file record.
func (db *DB) FailJob(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = 'failed', error_message = $1, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $2 AND status = 'running'`,
		errMsg, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RetryOrFail handles a failed attempt for a running job in a single
// conditional statement: while retries remain the job is re-queued
// with an exponential backoff deadline (30s doubling, capped at 15
// minutes) and the retry count incremented; otherwise it is
// terminally failed. Returns the job's status after the call; if the
// job was no longer running nothing is written.
func (db *DB) RetryOrFail(ctx context.Context, id uuid.UUID, errMsg string) (intake.JobStatus, error) {
	var status string
	err := db.pool.QueryRow(ctx,
		`UPDATE processing_jobs SET
			status = CASE WHEN retry_count < max_retries THEN 'queued' ELSE 'failed' END,
			retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
			worker_id = CASE WHEN retry_count < max_retries THEN NULL ELSE worker_id END,
			started_at = CASE WHEN retry_count < max_retries THEN NULL ELSE started_at END,
			scheduled_at = CASE WHEN retry_count < max_retries
				THEN NOW() + make_interval(secs => LEAST(30 * POWER(2, retry_count), 900))
				ELSE scheduled_at END,
			completed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE NOW() END,
			error_message = $1,
			updated_at = NOW()
		 WHERE id = $2 AND status = 'running'
		 RETURNING status`,
		errMsg, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			j, err := db.GetJob(ctx, id)
			if err != nil {
				return "", err
			}
			return j.Status, nil
		}
		return "", fmt.Errorf("failed to retry or fail job: %w", err)
	}
	return intake.JobStatus(status), nil
}

// CancelJob cancels a queued or running job. Cancellation of a
// running job is cooperative: the worker's completion write discovers
// the changed status and becomes a no-op.
func (db *DB) CancelJob(ctx context.Context, id uuid.UUID) (*intake.Job, error) {
	j, err := scanJob(db.pool.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'running')
		 RETURNING `+jobColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, err := db.GetJob(ctx, id)
			if err != nil {
				return nil, err
			}
			return nil, &intake.InvalidTransitionError{
				Entity: intake.EntityJob, ID: id,
				From: string(current.Status), To: string(intake.JobCancelled),
			}
		}
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	return j, nil
}

// RequeueJob resets a failed job back to queued with a fresh retry
// budget. Administrative action only.
func (db *DB) RequeueJob(ctx context.Context, id uuid.UUID) (*intake.Job, error) {
	j, err := scanJob(db.pool.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = 'queued', retry_count = 0, worker_id = NULL, started_at = NULL,
		     completed_at = NULL, error_message = NULL, scheduled_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'failed'
		 RETURNING `+jobColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, err := db.GetJob(ctx, id)
			if err != nil {
				return nil, err
			}
			return nil, &intake.InvalidTransitionError{
				Entity: intake.EntityJob, ID: id,
				From: string(current.Status), To: string(intake.JobQueued),
			}
		}
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}
	return j, nil
}

// ReclaimStale re-queues running jobs whose worker stopped reporting
// for longer than olderThan. Reclamation consumes one retry; jobs
// with no retries left are terminally failed. Returns the affected
// jobs.
func (db *DB) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]intake.Job, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE processing_jobs SET
			status = CASE WHEN retry_count < max_retries THEN 'queued' ELSE 'failed' END,
			retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
			worker_id = CASE WHEN retry_count < max_retries THEN NULL ELSE worker_id END,
			started_at = CASE WHEN retry_count < max_retries THEN NULL ELSE started_at END,
			completed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE NOW() END,
			error_message = 'reclaimed: worker stopped reporting',
			updated_at = NOW()
		 WHERE status = 'running' AND started_at < NOW() - make_interval(secs => $1)
		 RETURNING `+jobColumns,
		olderThan.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]intake.Job, error) {
	var jobs []intake.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}
