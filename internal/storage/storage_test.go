package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContent(t *testing.T) {
	// sha256("hello")
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashContent([]byte("hello")))
	assert.Equal(t, HashContent([]byte("a")), HashContent([]byte("a")))
	assert.NotEqual(t, HashContent([]byte("a")), HashContent([]byte("b")))
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)

	key := ObjectKey("real_estate", "Q2 statement.pdf", now)
	assert.True(t, strings.HasPrefix(key, "uploads/real_estate/2026/08/"))
	assert.True(t, strings.HasSuffix(key, "_Q2_statement.pdf"))

	// Two keys for the same name never collide.
	assert.NotEqual(t, key, ObjectKey("real_estate", "Q2 statement.pdf", now))

	assert.True(t, strings.HasPrefix(ObjectKey("", "a.txt", now), "uploads/general/"))
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"plain.pdf":          "plain.pdf",
		"../../etc/passwd":   "passwd",
		"with spaces (1).md": "with_spaces__1_.md",
		"...":                "unnamed",
		"":                   "unnamed",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestFSStoreRoundtrip(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "uploads/general/2026/08/doc.pdf"
	require.NoError(t, store.Put(ctx, key, "application/pdf", []byte("payload")))

	data, err := ReadAll(ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestFSStoreMissingObject(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "uploads/general/2026/08/nope.pdf")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.txt", "", []byte("x"))
	assert.Error(t, err)

	_, err = store.Get(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}
