package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreWriteRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := store.Write(context.Background(), "renders/j1/final.json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "renders/j1/final.json", key)

	data, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), data)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Write(context.Background(), "../escape.txt", []byte("x"))
	assert.Error(t, err)
	_, err = store.Write(context.Background(), "", []byte("x"))
	assert.Error(t, err)
}

func TestFileStoreNormalizesKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := store.Write(context.Background(), "/clips//a/../b.mp4", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "clips/b.mp4", key)
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore("  ")
	assert.Error(t, err)
}
