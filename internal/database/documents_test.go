package database

import (
	"context"
	"os"
	"testing"
	"time"

	"arcane-scribe/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument("u1", "srd1", "rules.pdf", models.ContentTypePDF, 42)

	assert.Equal(t, "u1#srd1", doc.TenantKey)
	assert.NotEmpty(t, doc.DocumentID)
	assert.Equal(t, models.StatusPending, doc.ProcessingStatus)
	assert.Equal(t, "u1/srd1/"+doc.DocumentID+"/rules.pdf", doc.StorageKey)
	assert.Equal(t, int64(42), doc.SizeBytes)
	assert.False(t, doc.UploadTimestamp.IsZero())

	other := NewDocument("u1", "srd1", "rules.pdf", models.ContentTypePDF, 42)
	assert.NotEqual(t, doc.DocumentID, other.DocumentID)
}

func TestMongoDocumentStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	db := client.Database("arcane_scribe_test_" + time.Now().Format("150405"))
	defer db.Drop(ctx)
	require.NoError(t, CreateIndexes(ctx, db))

	store := NewMongoDocumentStore(db)
	doc := NewDocument("u1", "srd1", "rules.pdf", models.ContentTypePDF, 10)
	require.NoError(t, store.Put(ctx, doc))

	got, err := store.Get(ctx, doc.TenantKey, doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, doc.StorageKey, got.StorageKey)

	require.NoError(t, UpdateStatus(ctx, store, doc.TenantKey, doc.DocumentID, models.StatusCompleted, map[string]any{"chunk_count": 3}))
	docs, err := store.Query(ctx, doc.TenantKey)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusCompleted, docs[0].ProcessingStatus)
	assert.Equal(t, 3, docs[0].ChunkCount)

	assert.ErrorIs(t, store.Update(ctx, doc.TenantKey, "missing", map[string]any{"x": 1}), ErrDocumentNotFound)

	require.NoError(t, store.Delete(ctx, doc.TenantKey, doc.DocumentID))
	_, err = store.Get(ctx, doc.TenantKey, doc.DocumentID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
