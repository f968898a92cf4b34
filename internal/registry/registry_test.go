package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/prism/internal/intake"
	"github.com/jonathan/prism/internal/memstore"
)

func validInput() RegisterInput {
	return RegisterInput{
		OriginalFilename: "escritura.pdf",
		StorageBucket:    "investments",
		StorageKey:       "uploads/2025/06/abc_escritura.pdf",
		MIMEType:         "application/pdf",
		ContentHash:      strings.Repeat("ab", 32),
		UploadedBy:       "hinoki",
		SourceDevice:     "phone",
		Tags:             []string{"deed"},
	}
}

func TestRegister(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()

	f, err := r.Register(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, intake.FilePending, f.Status)
	assert.NotEqual(t, uuid.Nil, f.ID)
	require.NotNil(t, f.ContentHash)
	assert.Equal(t, strings.Repeat("ab", 32), *f.ContentHash)
}

func TestRegisterValidation(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*RegisterInput)
	}{
		{"missing filename", func(in *RegisterInput) { in.OriginalFilename = "" }},
		{"missing bucket", func(in *RegisterInput) { in.StorageBucket = "" }},
		{"missing key", func(in *RegisterInput) { in.StorageKey = "" }},
		{"short hash", func(in *RegisterInput) { in.ContentHash = "abc123" }},
		{"non-hex hash", func(in *RegisterInput) { in.ContentHash = strings.Repeat("zz", 32) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := r.Register(ctx, in)
			assert.Error(t, err)
		})
	}
}

func TestRegisterDuplicateStorageKey(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()

	_, err := r.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = r.Register(ctx, validInput())
	assert.True(t, intake.IsDuplicateKey(err))

	// Identical content at a different key is legitimate.
	in := validInput()
	in.StorageKey = "uploads/2025/06/def_copy.pdf"
	_, err = r.Register(ctx, in)
	assert.NoError(t, err)
}

func TestUpdateStatusLifecycle(t *testing.T) {
	store := memstore.New()
	r := New(store)
	ctx := context.Background()

	f, err := r.Register(ctx, validInput())
	require.NoError(t, err)

	got, err := r.UpdateStatus(ctx, f.ID, intake.FileProcessing, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, intake.FileProcessing, got.Status)

	got, err = r.UpdateStatus(ctx, f.ID, intake.FileCompleted, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, intake.FileCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	// Status changes are audited with before/after snapshots.
	entries, err := store.ListActivity(ctx, intake.EntityFile, f.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3) // registered + two status changes
	assert.Equal(t, "status_change", entries[0].Action)
	assert.Equal(t, map[string]any{"status": "processing"}, entries[0].OldValues)
	assert.Equal(t, map[string]any{"status": "completed"}, entries[0].NewValues)
}

func TestUpdateStatusRejectsIllegalMoves(t *testing.T) {
	r := New(memstore.New())
	ctx := context.Background()

	f, err := r.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = r.UpdateStatus(ctx, f.ID, intake.FileCompleted, "worker-1")
	assert.True(t, intake.IsInvalidTransition(err))

	// Archival is always legal, straight from pending included.
	got, err := r.UpdateStatus(ctx, f.ID, intake.FileArchived, "admin")
	require.NoError(t, err)
	assert.Equal(t, intake.FileArchived, got.Status)

	// Nothing leaves archived except archived itself.
	_, err = r.UpdateStatus(ctx, f.ID, intake.FilePending, "admin")
	assert.True(t, intake.IsInvalidTransition(err))
}

func TestUpdateStatusMissingFile(t *testing.T) {
	r := New(memstore.New())
	_, err := r.UpdateStatus(context.Background(), uuid.New(), intake.FileProcessing, "worker-1")
	assert.True(t, intake.IsNotFound(err))
}

func TestLinkIsIdempotent(t *testing.T) {
	store := memstore.New()
	r := New(store)
	ctx := context.Background()

	f, err := r.Register(ctx, validInput())
	require.NoError(t, err)

	first := uuid.New()
	require.NoError(t, r.Link(ctx, f.ID, &first, nil, "hinoki"))
	require.NoError(t, r.Link(ctx, f.ID, &first, nil, "hinoki"))

	// Last write wins.
	second := uuid.New()
	require.NoError(t, r.Link(ctx, f.ID, &second, nil, "hinoki"))

	got, err := r.Get(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InvestmentID)
	assert.Equal(t, second, *got.InvestmentID)
}
