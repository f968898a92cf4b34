// Package storage moves file bytes in and out of the object store.
// The file registry only records locations; this package owns the
// actual reads and writes plus key layout and content hashing.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a key has no object behind it.
// Both backends normalize their native missing-object errors to this
// so callers can fail jobs non-retryably.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the minimal object storage surface the intake layer
// needs. Implemented by MinioStore and FSStore.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// HashContent returns the lowercase hex SHA-256 of data. This is the
// content hash stored on file records and used as the cache key.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey builds the storage key for an uploaded file:
// uploads/<scope>/<yyyy>/<mm>/<uuid>_<sanitized name>. The embedded
// UUID makes keys collision free even for identical filenames.
func ObjectKey(scope, filename string, now time.Time) string {
	if scope == "" {
		scope = "general"
	}
	return fmt.Sprintf("uploads/%s/%04d/%02d/%s_%s",
		scope, now.Year(), int(now.Month()), uuid.New().String(), SanitizeFilename(filename))
}

// SanitizeFilename strips path components and characters that are
// awkward in object keys. An empty or fully-stripped name becomes
// "unnamed".
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}

// ReadAll drains and closes the object at key. Convenience wrapper for
// callers that need the whole payload, which is every analysis path.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}
