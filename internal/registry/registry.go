// Package registry implements the file registry: the durable catalog
// of uploaded files and their lifecycle status. The registry never
// receives file bytes; clients place objects in storage against a
// pre-issued location and the registry records metadata afterward.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/prism/internal/intake"
)

// Store is the persistence the registry needs. Satisfied by db.DB and
// memstore.Store.
type Store interface {
	InsertFile(ctx context.Context, f *intake.FileRecord) error
	GetFile(ctx context.Context, id uuid.UUID) (*intake.FileRecord, error)
	CASFileStatus(ctx context.Context, id uuid.UUID, from, to intake.FileStatus, processedAt *time.Time) (bool, error)
	LinkFile(ctx context.Context, id uuid.UUID, investmentID, documentID *uuid.UUID) error
	ListFilesByStatus(ctx context.Context, status intake.FileStatus, limit int) ([]intake.FileRecord, error)
	AppendActivity(ctx context.Context, e *intake.ActivityEntry) error
}

// Registry owns FileRecord lifecycle.
type Registry struct {
	store    Store
	validate *validator.Validate
}

// New creates a registry over the given store.
func New(store Store) *Registry {
	return &Registry{
		store:    store,
		validate: validator.New(),
	}
}

// RegisterInput holds the metadata for a freshly uploaded file. The
// object must already exist in storage at (bucket, key).
type RegisterInput struct {
	OriginalFilename string `validate:"required,max=500"`
	StorageBucket    string `validate:"required,max=255"`
	StorageKey       string `validate:"required,max=1000"`
	FileSizeBytes    *int64 `validate:"omitempty,gte=0"`
	MIMEType         string `validate:"omitempty,max=100"`
	ContentHash      string `validate:"omitempty,len=64,hexadecimal"`
	UploadedBy       string `validate:"omitempty,max=255"`
	SourceDevice     string `validate:"omitempty,max=50"`
	InvestmentID     *uuid.UUID
	DocumentID       *uuid.UUID
	Tags             []string
	Metadata         map[string]any
}

// Register creates a file registry entry with status pending. Fails
// with a DuplicateKeyError if the (bucket, key) pair already exists.
// Duplicate content hashes are allowed: two records may point at
// identical content, dedup happens at analysis time via the cache.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*intake.FileRecord, error) {
	if err := r.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid register input: %w", err)
	}

	f := &intake.FileRecord{
		OriginalFilename: in.OriginalFilename,
		StorageBucket:    in.StorageBucket,
		StorageKey:       in.StorageKey,
		FileSizeBytes:    in.FileSizeBytes,
		MIMEType:         optStr(in.MIMEType),
		ContentHash:      optStr(in.ContentHash),
		UploadedBy:       optStr(in.UploadedBy),
		SourceDevice:     optStr(in.SourceDevice),
		Status:           intake.FilePending,
		InvestmentID:     in.InvestmentID,
		DocumentID:       in.DocumentID,
		Tags:             in.Tags,
		Metadata:         in.Metadata,
	}
	if err := r.store.InsertFile(ctx, f); err != nil {
		return nil, err
	}

	_ = r.store.AppendActivity(ctx, &intake.ActivityEntry{
		EntityType:  intake.EntityFile,
		EntityID:    f.ID,
		Action:      "registered",
		PerformedBy: in.UploadedBy,
		NewValues:   map[string]any{"status": string(f.Status), "storage_key": f.StorageKey},
	})
	return f, nil
}

// UpdateStatus transitions a file through its lifecycle. Transitions
// follow the explicit table in the intake package; archiving is legal
// from any status. Illegal moves return an InvalidTransitionError.
// Every change emits an activity-log entry with before/after
// snapshots.
func (r *Registry) UpdateStatus(ctx context.Context, fileID uuid.UUID, to intake.FileStatus, actor string) (*intake.FileRecord, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown file status %q", to)
	}

	// The CAS can lose to a concurrent writer; re-read and re-validate
	// a couple of times before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		current, err := r.store.GetFile(ctx, fileID)
		if err != nil {
			return nil, err
		}
		if !intake.ValidFileTransition(current.Status, to) {
			return nil, &intake.InvalidTransitionError{
				Entity: intake.EntityFile, ID: fileID,
				From: string(current.Status), To: string(to),
			}
		}
		if current.Status == to {
			return current, nil
		}

		var processedAt *time.Time
		if to == intake.FileCompleted || to == intake.FileFailed {
			now := time.Now().UTC()
			processedAt = &now
		}

		ok, err := r.store.CASFileStatus(ctx, fileID, current.Status, to, processedAt)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		_ = r.store.AppendActivity(ctx, &intake.ActivityEntry{
			EntityType:  intake.EntityFile,
			EntityID:    fileID,
			Action:      "status_change",
			PerformedBy: actor,
			OldValues:   map[string]any{"status": string(current.Status)},
			NewValues:   map[string]any{"status": string(to)},
		})
		return r.store.GetFile(ctx, fileID)
	}
	return nil, fmt.Errorf("file %s status changed concurrently, giving up", fileID)
}

// Link associates a file with an investment and/or document record.
// Idempotent; last write wins.
func (r *Registry) Link(ctx context.Context, fileID uuid.UUID, investmentID, documentID *uuid.UUID, actor string) error {
	if investmentID == nil && documentID == nil {
		return nil
	}
	if err := r.store.LinkFile(ctx, fileID, investmentID, documentID); err != nil {
		return err
	}

	newValues := map[string]any{}
	if investmentID != nil {
		newValues["investment_id"] = investmentID.String()
	}
	if documentID != nil {
		newValues["document_id"] = documentID.String()
	}
	_ = r.store.AppendActivity(ctx, &intake.ActivityEntry{
		EntityType:  intake.EntityFile,
		EntityID:    fileID,
		Action:      "link",
		PerformedBy: actor,
		NewValues:   newValues,
	})
	return nil
}

// Get returns a file record by ID.
func (r *Registry) Get(ctx context.Context, fileID uuid.UUID) (*intake.FileRecord, error) {
	return r.store.GetFile(ctx, fileID)
}

// ListByStatus returns files holding the given status, newest first.
func (r *Registry) ListByStatus(ctx context.Context, status intake.FileStatus, limit int) ([]intake.FileRecord, error) {
	return r.store.ListFilesByStatus(ctx, status, limit)
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
