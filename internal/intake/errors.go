package intake

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DuplicateKeyError indicates a (bucket, storage key) pair is already
// registered.
type DuplicateKeyError struct {
	Bucket string
	Key    string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate storage key: %s/%s", e.Bucket, e.Key)
}

// InvalidTransitionError indicates an illegal status change.
type InvalidTransitionError struct {
	Entity string
	ID     uuid.UUID
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// NotFoundError indicates a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// RetriesExhaustedError indicates a job failed its final attempt and
// is now terminal.
type RetriesExhaustedError struct {
	JobID    uuid.UUID
	Attempts int
	LastErr  string
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("job %s failed after %d attempts: %s", e.JobID, e.Attempts, e.LastErr)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDuplicateKey reports whether err is a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dk *DuplicateKeyError
	return errors.As(err, &dk)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
