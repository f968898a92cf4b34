// Package queue implements the job store surface: enqueueing analysis
// jobs against registered files, candidate selection for dispatch and
// the administrative cancel/re-queue actions. The status column is
// the single source of truth; all mutations behind this surface are
// conditional updates keyed on the expected prior status.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/prism/internal/intake"
)

// Store is the persistence the queue needs. Satisfied by db.DB and
// memstore.Store.
type Store interface {
	GetFile(ctx context.Context, id uuid.UUID) (*intake.FileRecord, error)
	InsertJob(ctx context.Context, j *intake.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*intake.Job, error)
	ListJobsByStatus(ctx context.Context, status intake.JobStatus, limit int) ([]intake.Job, error)
	DequeueCandidates(ctx context.Context, limit int) ([]intake.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID) (*intake.Job, error)
	RequeueJob(ctx context.Context, id uuid.UUID) (*intake.Job, error)
	AppendActivity(ctx context.Context, e *intake.ActivityEntry) error
}

// Queue owns Job lifecycle outside the worker's claim/execute path.
type Queue struct {
	store    Store
	validate *validator.Validate
}

// New creates a queue over the given store.
func New(store Store) *Queue {
	return &Queue{
		store:    store,
		validate: validator.New(),
	}
}

// EnqueueInput describes a job to enqueue. Zero Priority and
// MaxRetries take the defaults (5 and 3).
type EnqueueInput struct {
	FileID       uuid.UUID      `validate:"required"`
	JobType      intake.JobType `validate:"required"`
	Priority     int            `validate:"omitempty,min=1,max=10"`
	MaxRetries   int            `validate:"min=0,max=10"`
	Parameters   map[string]any
	InvestmentID *uuid.UUID
	NotBefore    *time.Time
}

// Enqueue creates a queued job for a registered file. The file must
// exist; a NotFoundError surfaces synchronously otherwise.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (*intake.Job, error) {
	if err := q.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid enqueue input: %w", err)
	}
	if !in.JobType.Valid() {
		return nil, fmt.Errorf("unknown job type %q", in.JobType)
	}

	f, err := q.store.GetFile(ctx, in.FileID)
	if err != nil {
		return nil, err
	}

	priority := in.Priority
	if priority == 0 {
		priority = intake.DefaultPriority
	}
	maxRetries := in.MaxRetries
	if maxRetries == 0 {
		maxRetries = intake.DefaultMaxRetries
	}
	investmentID := in.InvestmentID
	if investmentID == nil {
		investmentID = f.InvestmentID
	}

	j := &intake.Job{
		JobType:      in.JobType,
		Status:       intake.JobQueued,
		Priority:     priority,
		FileID:       in.FileID,
		InvestmentID: investmentID,
		MaxRetries:   maxRetries,
		Parameters:   in.Parameters,
		NotBefore:    in.NotBefore,
	}
	if err := q.store.InsertJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Cancel cancels a queued or running job. A running job is not
// interrupted; the worker discovers the cancellation before writing
// results.
func (q *Queue) Cancel(ctx context.Context, jobID uuid.UUID, actor string) (*intake.Job, error) {
	j, err := q.store.CancelJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	_ = q.store.AppendActivity(ctx, &intake.ActivityEntry{
		EntityType:  intake.EntityJob,
		EntityID:    jobID,
		Action:      "cancelled",
		PerformedBy: actor,
	})
	return j, nil
}

// Requeue puts a terminally failed job back in the queue with a fresh
// retry budget.
func (q *Queue) Requeue(ctx context.Context, jobID uuid.UUID, actor string) (*intake.Job, error) {
	j, err := q.store.RequeueJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	_ = q.store.AppendActivity(ctx, &intake.ActivityEntry{
		EntityType:  intake.EntityJob,
		EntityID:    jobID,
		Action:      "requeued",
		PerformedBy: actor,
	})
	return j, nil
}

// Get returns a job by ID.
func (q *Queue) Get(ctx context.Context, jobID uuid.UUID) (*intake.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// ListByStatus returns jobs holding the given status, newest first.
func (q *Queue) ListByStatus(ctx context.Context, status intake.JobStatus, limit int) ([]intake.Job, error) {
	return q.store.ListJobsByStatus(ctx, status, limit)
}

// Candidates returns queued jobs eligible for dispatch, best first.
func (q *Queue) Candidates(ctx context.Context, limit int) ([]intake.Job, error) {
	return q.store.DequeueCandidates(ctx, limit)
}
