package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFile(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("queue/abc", []byte("record-1")))
	require.NoError(t, store.Put("queue/def", []byte("record-2")))
	require.NoError(t, store.Put("dedupe/x", []byte("seen")))

	value, err := store.Get("queue/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("record-1"), value)

	// Overwrite is atomic and replaces
	require.NoError(t, store.Put("queue/abc", []byte("record-1b")))
	value, err = store.Get("queue/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("record-1b"), value)

	listed, err := store.List("queue/")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	assert.Equal(t, []byte("record-2"), listed["queue/def"])

	require.NoError(t, store.Delete("queue/abc"))
	_, err = store.Get("queue/abc")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error
	require.NoError(t, store.Delete("queue/abc"))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put("queue/persisted", []byte("still-here")))
	require.NoError(t, store.Close())

	reopened, err := NewFile(dir)
	require.NoError(t, err)
	value, err := reopened.Get("queue/persisted")
	require.NoError(t, err)
	assert.Equal(t, []byte("still-here"), value)
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemory()
	original := []byte("value")
	require.NoError(t, store.Put("k", original))

	original[0] = 'X'
	value, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value, "store must keep its own copy")
}
