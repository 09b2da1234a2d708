package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arcane-scribe/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DocumentsCollection = "documents"

var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore persists document records partitioned by tenant key and sorted by document id.
type DocumentStore interface {
	Put(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, tenantKey, documentID string) (*models.Document, error)
	// Query returns every document of a tenant ordered by upload time.
	Query(ctx context.Context, tenantKey string) ([]models.Document, error)
	Update(ctx context.Context, tenantKey, documentID string, fields map[string]any) error
	Delete(ctx context.Context, tenantKey, documentID string) error
	// ListStale returns documents across tenants left in status since before.
	ListStale(ctx context.Context, status string, before time.Time) ([]models.Document, error)
}

// NewDocument builds a pending record for a freshly uploaded file.
func NewDocument(ownerID, collectionID, filename, contentType string, size int64) *models.Document {
	now := time.Now().UTC()
	documentID := uuid.NewString()
	return &models.Document{
		TenantKey:        models.TenantKey(ownerID, collectionID),
		DocumentID:       documentID,
		OwnerID:          ownerID,
		CollectionID:     collectionID,
		OriginalFilename: filename,
		StorageKey:       models.RawDocumentKey(ownerID, collectionID, documentID, filename),
		ContentType:      contentType,
		SizeBytes:        size,
		UploadTimestamp:  now,
		ProcessingStatus: models.StatusPending,
		UpdatedAt:        now,
	}
}

// UpdateStatus sets processing_status and updated_at plus any extra fields.
func UpdateStatus(ctx context.Context, store DocumentStore, tenantKey, documentID, status string, extra map[string]any) error {
	fields := map[string]any{
		"processing_status": status,
		"updated_at":        time.Now().UTC(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return store.Update(ctx, tenantKey, documentID, fields)
}

// MongoDocumentStore is the MongoDB implementation of DocumentStore
type MongoDocumentStore struct {
	col *mongo.Collection
}

func NewMongoDocumentStore(db *mongo.Database) *MongoDocumentStore {
	return &MongoDocumentStore{col: db.Collection(DocumentsCollection)}
}

func keyFilter(tenantKey, documentID string) bson.M {
	return bson.M{"tenant_key": tenantKey, "document_id": documentID}
}

func (s *MongoDocumentStore) Put(ctx context.Context, doc *models.Document) error {
	_, err := s.col.ReplaceOne(ctx, keyFilter(doc.TenantKey, doc.DocumentID), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put document %s: %w", doc.DocumentID, err)
	}
	return nil
}

func (s *MongoDocumentStore) Get(ctx context.Context, tenantKey, documentID string) (*models.Document, error) {
	var doc models.Document
	err := s.col.FindOne(ctx, keyFilter(tenantKey, documentID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", documentID, err)
	}
	return &doc, nil
}

func (s *MongoDocumentStore) Query(ctx context.Context, tenantKey string) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "upload_timestamp", Value: 1}, {Key: "document_id", Value: 1}})
	cursor, err := s.col.Find(ctx, bson.M{"tenant_key": tenantKey}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents for %s: %w", tenantKey, err)
	}
	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents for %s: %w", tenantKey, err)
	}
	return docs, nil
}

func (s *MongoDocumentStore) Update(ctx context.Context, tenantKey, documentID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res, err := s.col.UpdateOne(ctx, keyFilter(tenantKey, documentID), bson.M{"$set": bson.M(fields)})
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", documentID, err)
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *MongoDocumentStore) Delete(ctx context.Context, tenantKey, documentID string) error {
	_, err := s.col.DeleteOne(ctx, keyFilter(tenantKey, documentID))
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// ListStale returns documents left in status since before the cutoff, across tenants.
func (s *MongoDocumentStore) ListStale(ctx context.Context, status string, before time.Time) ([]models.Document, error) {
	cursor, err := s.col.Find(ctx, bson.M{
		"processing_status": status,
		"updated_at":        bson.M{"$lt": before},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find stale documents: %w", err)
	}
	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// CreateIndexes creates the indexes DocumentStore queries rely on.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(DocumentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_key", Value: 1}, {Key: "document_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "tenant_key", Value: 1}, {Key: "upload_timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "processing_status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	return err
}
