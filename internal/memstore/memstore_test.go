package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/prism/internal/intake"
)

// tickingClock hands out strictly increasing timestamps so ordering
// and expiry tests are deterministic.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *tickingClock {
	return &tickingClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *tickingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *tickingClock) {
	s := New()
	clock := newClock()
	s.SetNow(clock.Now)
	return s, clock
}

func insertFile(t *testing.T, s *Store, bucket, key string) *intake.FileRecord {
	t.Helper()
	f := &intake.FileRecord{
		OriginalFilename: "deed.pdf",
		StorageBucket:    bucket,
		StorageKey:       key,
	}
	require.NoError(t, s.InsertFile(context.Background(), f))
	return f
}

func enqueueJob(t *testing.T, s *Store, fileID uuid.UUID, priority, maxRetries int) *intake.Job {
	t.Helper()
	j := &intake.Job{
		JobType:    intake.JobDocumentAnalysis,
		FileID:     fileID,
		Priority:   priority,
		MaxRetries: maxRetries,
	}
	require.NoError(t, s.InsertJob(context.Background(), j))
	return j
}

func TestInsertFileDuplicateKey(t *testing.T) {
	s, _ := newTestStore()
	insertFile(t, s, "investments", "uploads/a.pdf")

	err := s.InsertFile(context.Background(), &intake.FileRecord{
		OriginalFilename: "other.pdf",
		StorageBucket:    "investments",
		StorageKey:       "uploads/a.pdf",
	})
	assert.True(t, intake.IsDuplicateKey(err))

	// Same key in a different bucket is fine.
	assert.NoError(t, s.InsertFile(context.Background(), &intake.FileRecord{
		OriginalFilename: "other.pdf",
		StorageBucket:    "archive",
		StorageKey:       "uploads/a.pdf",
	}))
}

func TestInsertFileAllowsDuplicateContentHash(t *testing.T) {
	s, _ := newTestStore()
	hash := "abc123"

	f1 := &intake.FileRecord{OriginalFilename: "a", StorageBucket: "b", StorageKey: "k1", ContentHash: &hash}
	f2 := &intake.FileRecord{OriginalFilename: "b", StorageBucket: "b", StorageKey: "k2", ContentHash: &hash}
	require.NoError(t, s.InsertFile(context.Background(), f1))
	require.NoError(t, s.InsertFile(context.Background(), f2))
}

func TestCASFileStatus(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	ctx := context.Background()

	ok, err := s.CASFileStatus(ctx, f.ID, intake.FilePending, intake.FileProcessing, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Guard fails once the status moved on.
	ok, err = s.CASFileStatus(ctx, f.ID, intake.FilePending, intake.FileProcessing, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CASFileStatus(ctx, uuid.New(), intake.FilePending, intake.FileProcessing, nil)
	assert.False(t, ok)
	assert.True(t, intake.IsNotFound(err))
}

func TestDequeueOrdering(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	ctx := context.Background()

	// Queued in creation order with priorities 5, 1, 5, 3.
	j5a := enqueueJob(t, s, f.ID, 5, 3)
	j1 := enqueueJob(t, s, f.ID, 1, 3)
	j5b := enqueueJob(t, s, f.ID, 5, 3)
	j3 := enqueueJob(t, s, f.ID, 3, 3)

	got, err := s.DequeueCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, j1.ID, got[0].ID)
	assert.Equal(t, j3.ID, got[1].ID)
	assert.Equal(t, j5a.ID, got[2].ID)
	assert.Equal(t, j5b.ID, got[3].ID)
}

func TestDequeueRespectsNotBefore(t *testing.T) {
	s, clock := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	ctx := context.Background()

	later := clock.Now().Add(time.Hour)
	deferred := &intake.Job{JobType: intake.JobOCR, FileID: f.ID, Priority: 1, MaxRetries: 3, NotBefore: &later}
	require.NoError(t, s.InsertJob(ctx, deferred))
	ready := enqueueJob(t, s, f.ID, 5, 3)

	got, err := s.DequeueCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ready.ID, got[0].ID)

	clock.Advance(2 * time.Hour)
	got, err = s.DequeueCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestClaimJobIsExclusive(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	j := enqueueJob(t, s, f.ID, 5, 3)
	ctx := context.Background()

	claimed, ok, err := s.ClaimJob(ctx, j.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, intake.JobRunning, claimed.Status)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "worker-1", *claimed.WorkerID)
	assert.NotNil(t, claimed.StartedAt)

	_, ok, err = s.ClaimJob(ctx, j.ID, "worker-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentClaims(t *testing.T) {
	// N claim attempts against M candidates must yield exactly
	// min(N, M) successes with no job claimed twice.
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	ctx := context.Background()

	const workers = 16
	const jobs = 5
	var ids []uuid.UUID
	for i := 0; i < jobs; i++ {
		ids = append(ids, enqueueJob(t, s, f.ID, 5, 3).ID)
	}

	var wg sync.WaitGroup
	wins := make(chan uuid.UUID, workers*jobs)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for _, id := range ids {
				_, ok, err := s.ClaimJob(ctx, id, fmt.Sprintf("worker-%d", worker))
				assert.NoError(t, err)
				if ok {
					wins <- id
				}
			}
		}(w)
	}
	wg.Wait()
	close(wins)

	seen := make(map[uuid.UUID]int)
	for id := range wins {
		seen[id]++
	}
	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestRetryOrFailBoundedByMaxRetries(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	j := enqueueJob(t, s, f.ID, 5, 3)
	ctx := context.Background()

	// Three failures re-queue, the fourth is terminal. Claiming by ID
	// sidesteps the backoff deadline, which only gates candidate
	// selection.
	for attempt := 1; attempt <= 3; attempt++ {
		_, ok, err := s.ClaimJob(ctx, j.ID, "worker-1")
		require.NoError(t, err)
		require.True(t, ok)

		status, err := s.RetryOrFail(ctx, j.ID, "provider timeout")
		require.NoError(t, err)
		assert.Equal(t, intake.JobQueued, status)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.RetryCount)
		assert.LessOrEqual(t, got.RetryCount, got.MaxRetries)
		assert.Nil(t, got.WorkerID)
		assert.NotNil(t, got.NotBefore)
	}

	_, ok, err := s.ClaimJob(ctx, j.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	status, err := s.RetryOrFail(ctx, j.ID, "provider timeout")
	require.NoError(t, err)
	assert.Equal(t, intake.JobFailed, status)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.JobFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "provider timeout", *got.ErrorMessage)

	// Terminal: a further retry attempt is a no-op.
	status, err = s.RetryOrFail(ctx, j.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, intake.JobFailed, status)
}

func TestRetryBackoffGrows(t *testing.T) {
	s, clock := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	j := enqueueJob(t, s, f.ID, 5, 5)
	ctx := context.Background()

	var prev time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		_, ok, err := s.ClaimJob(ctx, j.ID, "w")
		require.NoError(t, err)
		require.True(t, ok)
		_, err = s.RetryOrFail(ctx, j.ID, "boom")
		require.NoError(t, err)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		require.NotNil(t, got.NotBefore)
		backoff := got.NotBefore.Sub(got.UpdatedAt)
		assert.Greater(t, backoff, prev)
		prev = backoff
		clock.Advance(time.Hour)
	}
}

func TestCancelJob(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	ctx := context.Background()

	queued := enqueueJob(t, s, f.ID, 5, 3)
	got, err := s.CancelJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.JobCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	running := enqueueJob(t, s, f.ID, 5, 3)
	_, ok, err := s.ClaimJob(ctx, running.ID, "w")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.CancelJob(ctx, running.ID)
	assert.NoError(t, err)

	// Terminal statuses cannot be cancelled.
	_, err = s.CancelJob(ctx, queued.ID)
	assert.True(t, intake.IsInvalidTransition(err))
}

func TestCancelledJobIgnoresCompletionWrite(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	j := enqueueJob(t, s, f.ID, 5, 3)
	ctx := context.Background()

	_, ok, err := s.ClaimJob(ctx, j.ID, "w")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.CancelJob(ctx, j.ID)
	require.NoError(t, err)

	// The worker finishes later; its writes must be no-ops.
	ok, err = s.CompleteJob(ctx, j.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := s.RetryOrFail(ctx, j.ID, "late failure")
	require.NoError(t, err)
	assert.Equal(t, intake.JobCancelled, status)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.JobCancelled, got.Status)
	assert.Nil(t, got.ResultID)
}

func TestRequeueJob(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	j := enqueueJob(t, s, f.ID, 5, 0)
	ctx := context.Background()

	_, ok, err := s.ClaimJob(ctx, j.ID, "w")
	require.NoError(t, err)
	require.True(t, ok)
	status, err := s.RetryOrFail(ctx, j.ID, "boom")
	require.NoError(t, err)
	require.Equal(t, intake.JobFailed, status)

	got, err := s.RequeueJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.JobQueued, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.ErrorMessage)

	// Only failed jobs can be re-queued.
	_, err = s.RequeueJob(ctx, j.ID)
	assert.True(t, intake.IsInvalidTransition(err))
}

func TestReclaimStale(t *testing.T) {
	s, clock := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	ctx := context.Background()

	stuck := enqueueJob(t, s, f.ID, 5, 3)
	_, ok, err := s.ClaimJob(ctx, stuck.ID, "crashed-worker")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(30 * time.Minute)

	fresh := enqueueJob(t, s, f.ID, 5, 3)
	_, ok, err = s.ClaimJob(ctx, fresh.ID, "live-worker")
	require.NoError(t, err)
	require.True(t, ok)

	reclaimed, err := s.ReclaimStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stuck.ID, reclaimed[0].ID)
	assert.Equal(t, intake.JobQueued, reclaimed[0].Status)
	assert.Equal(t, 1, reclaimed[0].RetryCount)

	// The reclaimed job is claimable by another worker.
	_, ok, err = s.ClaimJob(ctx, stuck.ID, "second-worker")
	require.NoError(t, err)
	assert.True(t, ok)

	// The fresh job was untouched.
	got, err := s.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.JobRunning, got.Status)
}

func TestReclaimStaleExhaustsRetries(t *testing.T) {
	s, clock := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	j := enqueueJob(t, s, f.ID, 5, 0)
	ctx := context.Background()

	_, ok, err := s.ClaimJob(ctx, j.ID, "crashed-worker")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Hour)
	reclaimed, err := s.ReclaimStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, intake.JobFailed, reclaimed[0].Status)
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	resultID := uuid.New()

	entry := &intake.CacheEntry{
		ContentHash:  "deadbeef",
		AnalysisType: "document_analysis",
		Provider:     "gemini",
		ResultID:     resultID,
		ExpiresAt:    clock.Now().Add(time.Hour),
	}
	require.NoError(t, s.UpsertCacheEntry(ctx, entry))

	got, err := s.GetCacheEntry(ctx, "deadbeef", "document_analysis", "gemini")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, resultID, got.ResultID)

	// Different provider is a different key.
	got, err = s.GetCacheEntry(ctx, "deadbeef", "document_analysis", "openai")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Latest wins on overwrite.
	newer := uuid.New()
	entry.ResultID = newer
	entry.ExpiresAt = clock.Now().Add(time.Hour)
	require.NoError(t, s.UpsertCacheEntry(ctx, entry))
	got, err = s.GetCacheEntry(ctx, "deadbeef", "document_analysis", "gemini")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer, got.ResultID)

	// After TTL the entry is treated as absent.
	clock.Advance(2 * time.Hour)
	got, err = s.GetCacheEntry(ctx, "deadbeef", "document_analysis", "gemini")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResultsForFile(t *testing.T) {
	s, _ := newTestStore()
	f := insertFile(t, s, "investments", "uploads/a.pdf")
	ctx := context.Background()

	first := &intake.AnalysisResult{FileID: f.ID, AnalysisType: "ocr", Provider: "gemini"}
	require.NoError(t, s.InsertResult(ctx, first))
	second := &intake.AnalysisResult{FileID: f.ID, AnalysisType: "document_analysis", Provider: "gemini"}
	require.NoError(t, s.InsertResult(ctx, second))

	got, err := s.GetResultForFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = s.GetResultForFile(ctx, uuid.New())
	assert.True(t, intake.IsNotFound(err))
}

func TestActivityLog(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	id := uuid.New()

	for _, action := range []string{"status_change", "link"} {
		require.NoError(t, s.AppendActivity(ctx, &intake.ActivityEntry{
			EntityType: intake.EntityFile,
			EntityID:   id,
			Action:     action,
		}))
	}

	got, err := s.ListActivity(ctx, intake.EntityFile, id, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, "link", got[0].Action)
	assert.Equal(t, "status_change", got[1].Action)
}
