// Package memstore provides an in-memory implementation of the intake
// stores. It backs the test suite and local runs that have no
// PostgreSQL available; all conditional updates are performed under a
// single mutex so the claim protocol keeps its atomicity guarantees.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/prism/internal/intake"
)

// Store holds every table in memory behind one mutex.
type Store struct {
	mu       sync.Mutex
	files    map[uuid.UUID]*intake.FileRecord
	jobs     map[uuid.UUID]*intake.Job
	results  map[uuid.UUID]*intake.AnalysisResult
	cache    map[cacheKey]*intake.CacheEntry
	activity []intake.ActivityEntry

	// now is swappable so tests can control expiry and staleness.
	now func() time.Time
}

type cacheKey struct {
	hash     string
	analysis string
	provider string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		files:   make(map[uuid.UUID]*intake.FileRecord),
		jobs:    make(map[uuid.UUID]*intake.Job),
		results: make(map[uuid.UUID]*intake.AnalysisResult),
		cache:   make(map[cacheKey]*intake.CacheEntry),
		now:     time.Now,
	}
}

// SetNow replaces the store's clock. Intended for tests.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// -----------------------------------------------------------------------------
// Files
// -----------------------------------------------------------------------------

// InsertFile stores a new file record, assigning an ID and timestamps.
// The (bucket, storage key) pair must be unique; duplicate content
// hashes are allowed.
func (s *Store) InsertFile(_ context.Context, f *intake.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.files {
		if existing.StorageBucket == f.StorageBucket && existing.StorageKey == f.StorageKey {
			return &intake.DuplicateKeyError{Bucket: f.StorageBucket, Key: f.StorageKey}
		}
	}

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Status == "" {
		f.Status = intake.FilePending
	}
	now := s.now()
	f.CreatedAt = now
	f.UpdatedAt = now

	cp := *f
	s.files[f.ID] = &cp
	return nil
}

// GetFile returns the file record with the given ID.
func (s *Store) GetFile(_ context.Context, id uuid.UUID) (*intake.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return nil, &intake.NotFoundError{Entity: intake.EntityFile, ID: id}
	}
	cp := *f
	return &cp, nil
}

// CASFileStatus transitions a file's status only if it currently holds
// the expected status. Returns false without error when the guard
// fails.
func (s *Store) CASFileStatus(_ context.Context, id uuid.UUID, from, to intake.FileStatus, processedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return false, &intake.NotFoundError{Entity: intake.EntityFile, ID: id}
	}
	if f.Status != from {
		return false, nil
	}
	f.Status = to
	f.UpdatedAt = s.now()
	if processedAt != nil {
		f.ProcessedAt = processedAt
	}
	return true, nil
}

// LinkFile associates a file with a domain entity. Last write wins.
func (s *Store) LinkFile(_ context.Context, id uuid.UUID, investmentID, documentID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return &intake.NotFoundError{Entity: intake.EntityFile, ID: id}
	}
	if investmentID != nil {
		f.InvestmentID = investmentID
	}
	if documentID != nil {
		f.DocumentID = documentID
	}
	f.UpdatedAt = s.now()
	return nil
}

// ListFilesByStatus returns up to limit files holding the given status,
// newest first.
func (s *Store) ListFilesByStatus(_ context.Context, status intake.FileStatus, limit int) ([]intake.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []intake.FileRecord
	for _, f := range s.files {
		if f.Status == status {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// InsertJob stores a new job, assigning an ID and timestamps.
func (s *Store) InsertJob(_ context.Context, j *intake.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = intake.JobQueued
	}
	now := s.now()
	j.CreatedAt = now
	j.UpdatedAt = now

	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

// GetJob returns the job with the given ID.
func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*intake.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJobLocked(id)
}

func (s *Store) getJobLocked(id uuid.UUID) (*intake.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
	}
	cp := *j
	return &cp, nil
}

// ListJobsByStatus returns up to limit jobs holding the given status,
// newest first.
func (s *Store) ListJobsByStatus(_ context.Context, status intake.JobStatus, limit int) ([]intake.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []intake.Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DequeueCandidates returns up to limit queued jobs that are eligible
// to run now, ordered by priority ascending then creation time
// ascending.
func (s *Store) DequeueCandidates(_ context.Context, limit int) ([]intake.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []intake.Job
	for _, j := range s.jobs {
		if j.Status != intake.JobQueued {
			continue
		}
		if j.NotBefore != nil && j.NotBefore.After(now) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimJob atomically transitions a job from queued to running,
// stamping the worker identity and start time. Returns false when the
// job is no longer queued, so concurrent claimers never both win.
func (s *Store) ClaimJob(_ context.Context, id uuid.UUID, workerID string) (*intake.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, false, &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
	}
	if j.Status != intake.JobQueued {
		return nil, false, nil
	}
	now := s.now()
	j.Status = intake.JobRunning
	j.WorkerID = &workerID
	j.StartedAt = &now
	j.UpdatedAt = now

	cp := *j
	return &cp, true, nil
}

// CompleteJob transitions a running job to completed and records the
// result reference. Returns false when the job is no longer running
// (e.g. cancelled mid-flight), in which case nothing is written.
func (s *Store) CompleteJob(_ context.Context, id, resultID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
	}
	if j.Status != intake.JobRunning {
		return false, nil
	}
	now := s.now()
	j.Status = intake.JobCompleted
	j.ResultID = &resultID
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// FailJob marks a running job failed immediately, without consuming a
// retry. Used for non-retryable errors such as a missing file record.
func (s *Store) FailJob(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
	}
	if j.Status != intake.JobRunning {
		return false, nil
	}
	now := s.now()
	j.Status = intake.JobFailed
	j.ErrorMessage = &errMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// RetryOrFail handles a failed attempt for a running job: while
// retries remain the job is re-queued with a backoff deadline and the
// retry count incremented; otherwise it is terminally failed. Returns
// the job's status after the call. If the job is no longer running the
// call is a no-op and the current status is returned.
func (s *Store) RetryOrFail(_ context.Context, id uuid.UUID, errMsg string) (intake.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
	}
	if j.Status != intake.JobRunning {
		return j.Status, nil
	}

	now := s.now()
	j.ErrorMessage = &errMsg
	j.UpdatedAt = now

	if j.RetryCount < j.MaxRetries {
		j.RetryCount++
		j.Status = intake.JobQueued
		j.WorkerID = nil
		j.StartedAt = nil
		notBefore := now.Add(intake.RetryBackoff(j.RetryCount))
		j.NotBefore = &notBefore
		return intake.JobQueued, nil
	}

	j.Status = intake.JobFailed
	j.CompletedAt = &now
	return intake.JobFailed, nil
}

// CancelJob cancels a queued or running job. Cancelling a running job
// is cooperative: the worker discovers the cancellation when its
// completion write finds the status changed.
func (s *Store) CancelJob(_ context.Context, id uuid.UUID) (*intake.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
	}
	if !intake.ValidJobTransition(j.Status, intake.JobCancelled) {
		return nil, &intake.InvalidTransitionError{
			Entity: intake.EntityJob, ID: id,
			From: string(j.Status), To: string(intake.JobCancelled),
		}
	}
	now := s.now()
	j.Status = intake.JobCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// RequeueJob resets a failed job back to queued with a fresh retry
// budget. Administrative action only.
func (s *Store) RequeueJob(_ context.Context, id uuid.UUID) (*intake.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, &intake.NotFoundError{Entity: intake.EntityJob, ID: id}
	}
	if j.Status != intake.JobFailed {
		return nil, &intake.InvalidTransitionError{
			Entity: intake.EntityJob, ID: id,
			From: string(j.Status), To: string(intake.JobQueued),
		}
	}
	j.Status = intake.JobQueued
	j.RetryCount = 0
	j.WorkerID = nil
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ErrorMessage = nil
	j.NotBefore = nil
	j.UpdatedAt = s.now()

	cp := *j
	return &cp, nil
}

// ReclaimStale re-queues running jobs whose worker has gone quiet for
// longer than olderThan. Reclamation consumes one retry; jobs with no
// retries left are terminally failed. Returns the affected jobs.
func (s *Store) ReclaimStale(_ context.Context, olderThan time.Duration) ([]intake.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-olderThan)
	msg := "reclaimed: worker stopped reporting"

	var out []intake.Job
	for _, j := range s.jobs {
		if j.Status != intake.JobRunning || j.StartedAt == nil || j.StartedAt.After(cutoff) {
			continue
		}
		j.ErrorMessage = &msg
		j.UpdatedAt = now
		if j.RetryCount < j.MaxRetries {
			j.RetryCount++
			j.Status = intake.JobQueued
			j.WorkerID = nil
			j.StartedAt = nil
			j.NotBefore = nil
		} else {
			j.Status = intake.JobFailed
			j.CompletedAt = &now
		}
		out = append(out, *j)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// InsertResult stores a new analysis result, assigning an ID and
// creation time. Results are immutable once written.
func (s *Store) InsertResult(_ context.Context, r *intake.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = s.now()

	cp := *r
	s.results[r.ID] = &cp
	return nil
}

// GetResult returns the analysis result with the given ID.
func (s *Store) GetResult(_ context.Context, id uuid.UUID) (*intake.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[id]
	if !ok {
		return nil, &intake.NotFoundError{Entity: "result", ID: id}
	}
	cp := *r
	return &cp, nil
}

// GetResultForFile returns the most recent analysis result for a file.
func (s *Store) GetResultForFile(_ context.Context, fileID uuid.UUID) (*intake.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *intake.AnalysisResult
	for _, r := range s.results {
		if r.FileID != fileID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, &intake.NotFoundError{Entity: "result", ID: fileID}
	}
	cp := *latest
	return &cp, nil
}

// -----------------------------------------------------------------------------
// Cache
// -----------------------------------------------------------------------------

// UpsertCacheEntry stores a cache entry, overwriting any existing
// entry for the same key. Latest wins.
func (s *Store) UpsertCacheEntry(_ context.Context, e *intake.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.CreatedAt = s.now()
	cp := *e
	s.cache[cacheKey{e.ContentHash, e.AnalysisType, e.Provider}] = &cp
	return nil
}

// GetCacheEntry returns the live cache entry for a key, or nil if
// there is none or it has expired. Expired entries are removed lazily.
func (s *Store) GetCacheEntry(_ context.Context, hash, analysisType, provider string) (*intake.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey{hash, analysisType, provider}
	e, ok := s.cache[key]
	if !ok {
		return nil, nil
	}
	if !e.ExpiresAt.After(s.now()) {
		delete(s.cache, key)
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// -----------------------------------------------------------------------------
// Activity log
// -----------------------------------------------------------------------------

// AppendActivity records an audit entry. The log is append-only.
func (s *Store) AppendActivity(_ context.Context, e *intake.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = s.now()
	}
	s.activity = append(s.activity, *e)
	return nil
}

// ListActivity returns audit entries for an entity, newest first.
func (s *Store) ListActivity(_ context.Context, entityType string, entityID uuid.UUID, limit int) ([]intake.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []intake.ActivityEntry
	for i := len(s.activity) - 1; i >= 0; i-- {
		e := s.activity[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
