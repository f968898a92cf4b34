package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/prism/internal/intake"
	"github.com/jonathan/prism/internal/memstore"
)

func newFixture(t *testing.T) (*Queue, *memstore.Store, *intake.FileRecord) {
	t.Helper()
	store := memstore.New()
	f := &intake.FileRecord{
		OriginalFilename: "statement.pdf",
		StorageBucket:    "prism-files",
		StorageKey:       "uploads/general/2026/08/stmt.pdf",
		Status:           intake.FilePending,
	}
	require.NoError(t, store.InsertFile(context.Background(), f))
	return New(store), store, f
}

func TestEnqueueDefaults(t *testing.T) {
	q, _, f := newFixture(t)

	j, err := q.Enqueue(context.Background(), EnqueueInput{
		FileID:  f.ID,
		JobType: intake.JobDocumentAnalysis,
	})
	require.NoError(t, err)

	assert.Equal(t, intake.JobQueued, j.Status)
	assert.Equal(t, intake.DefaultPriority, j.Priority)
	assert.Equal(t, intake.DefaultMaxRetries, j.MaxRetries)
	assert.Equal(t, 0, j.RetryCount)
	assert.NotEqual(t, uuid.Nil, j.ID)
}

func TestEnqueueValidation(t *testing.T) {
	q, _, f := newFixture(t)

	cases := []struct {
		name string
		in   EnqueueInput
	}{
		{"missing file id", EnqueueInput{JobType: intake.JobValuation}},
		{"missing job type", EnqueueInput{FileID: f.ID}},
		{"unknown job type", EnqueueInput{FileID: f.ID, JobType: intake.JobType("transcode")}},
		{"priority out of range", EnqueueInput{FileID: f.ID, JobType: intake.JobValuation, Priority: 11}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.Enqueue(context.Background(), tc.in)
			assert.Error(t, err)
		})
	}
}

func TestEnqueueUnknownFile(t *testing.T) {
	q, _, _ := newFixture(t)

	_, err := q.Enqueue(context.Background(), EnqueueInput{
		FileID:  uuid.New(),
		JobType: intake.JobOCR,
	})
	assert.True(t, intake.IsNotFound(err))
}

func TestEnqueueInheritsInvestment(t *testing.T) {
	q, store, _ := newFixture(t)

	inv := uuid.New()
	f := &intake.FileRecord{
		OriginalFilename: "deed.pdf",
		StorageBucket:    "prism-files",
		StorageKey:       "uploads/real_estate/2026/08/deed.pdf",
		Status:           intake.FilePending,
		InvestmentID:     &inv,
	}
	require.NoError(t, store.InsertFile(context.Background(), f))

	j, err := q.Enqueue(context.Background(), EnqueueInput{FileID: f.ID, JobType: intake.JobDocumentAnalysis})
	require.NoError(t, err)
	require.NotNil(t, j.InvestmentID)
	assert.Equal(t, inv, *j.InvestmentID)
}

func TestCancelQueuedJob(t *testing.T) {
	q, store, f := newFixture(t)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueInput{FileID: f.ID, JobType: intake.JobSummarization})
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, j.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, intake.JobCancelled, cancelled.Status)

	entries, err := store.ListActivity(ctx, intake.EntityJob, j.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "cancelled", entries[0].Action)
	assert.Equal(t, "admin", entries[0].PerformedBy)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	q, store, f := newFixture(t)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueInput{FileID: f.ID, JobType: intake.JobValuation})
	require.NoError(t, err)

	_, ok, err := store.ClaimJob(ctx, j.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = store.FailJob(ctx, j.ID, "bad input")
	require.NoError(t, err)

	_, err = q.Cancel(ctx, j.ID, "admin")
	assert.True(t, intake.IsInvalidTransition(err))
}

func TestRequeueResetsBudget(t *testing.T) {
	q, store, f := newFixture(t)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueInput{FileID: f.ID, JobType: intake.JobOCR, MaxRetries: 1})
	require.NoError(t, err)

	// Exhaust the retry budget: claim, retry, claim, fail.
	for {
		_, ok, err := store.ClaimJob(ctx, j.ID, "worker-1")
		require.NoError(t, err)
		require.True(t, ok)
		st, err := store.RetryOrFail(ctx, j.ID, "provider timeout")
		require.NoError(t, err)
		if st == intake.JobFailed {
			break
		}
	}

	back, err := q.Requeue(ctx, j.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, intake.JobQueued, back.Status)
	assert.Equal(t, 0, back.RetryCount)
	assert.Nil(t, back.ErrorMessage)
}

func TestCandidatesOrdering(t *testing.T) {
	q, _, f := newFixture(t)
	ctx := context.Background()

	low, err := q.Enqueue(ctx, EnqueueInput{FileID: f.ID, JobType: intake.JobOCR, Priority: 9})
	require.NoError(t, err)
	high, err := q.Enqueue(ctx, EnqueueInput{FileID: f.ID, JobType: intake.JobOCR, Priority: 1})
	require.NoError(t, err)

	got, err := q.Candidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID)
	assert.Equal(t, low.ID, got[1].ID)
}
