package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "u1/srd1/doc1/rules.pdf", []byte("v1")))
	require.NoError(t, store.Put(ctx, "u1/srd1/doc1/rules.pdf", []byte("v2")))

	data, err := store.Get(ctx, "u1/srd1/doc1/rules.pdf")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, store.Delete(ctx, "u1/srd1/doc1/rules.pdf"))
	_, err = store.Get(ctx, "u1/srd1/doc1/rules.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "u1/srd1/doc1/rules.pdf"))
}

func TestLocalStoreListAndDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{
		"u1/srd1/vector_store/b.meta",
		"u1/srd1/vector_store/a.hnsw",
		"u1/srd1/vector_store/a.meta",
		"u1/srd2/vector_store/c.hnsw",
	} {
		require.NoError(t, store.Put(ctx, key, []byte(key)))
	}

	keys, err := store.List(ctx, "u1/srd1/vector_store/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"u1/srd1/vector_store/a.hnsw",
		"u1/srd1/vector_store/a.meta",
		"u1/srd1/vector_store/b.meta",
	}, keys)

	n, err := DeletePrefix(ctx, store, "u1/srd1/")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	keys, err = store.List(ctx, "u1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1/srd2/vector_store/c.hnsw"}, keys)
}

func TestLocalStoreDownload(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "u1/srd1/vector_store/a.hnsw", []byte("graph")))

	dest := filepath.Join(t.TempDir(), "nested", "a.hnsw")
	require.NoError(t, store.Download(ctx, "u1/srd1/vector_store/a.hnsw", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "graph", string(data))

	err = store.Download(ctx, "u1/srd1/vector_store/missing.hnsw", dest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, store.Put(context.Background(), "../outside", []byte("x")))
}
