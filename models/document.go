package models

import (
	"fmt"
	"strings"
	"time"
)

// Document is one uploaded source file inside an owner's collection
type Document struct {
	TenantKey           string     `bson:"tenant_key" json:"-"` // owner#collection partition
	DocumentID          string     `bson:"document_id" json:"document_id"`
	OwnerID             string     `bson:"owner_id" json:"owner_id"`
	CollectionID        string     `bson:"collection_id" json:"collection_id"`
	OriginalFilename    string     `bson:"original_filename" json:"original_filename"`
	StorageKey          string     `bson:"storage_key" json:"storage_key"` // {owner}/{collection}/{document}/{filename}
	ContentType         string     `bson:"content_type" json:"content_type"`
	SizeBytes           int64      `bson:"size_bytes" json:"size_bytes"`
	UploadTimestamp     time.Time  `bson:"upload_timestamp" json:"upload_timestamp"`
	ProcessingStatus    string     `bson:"processing_status" json:"processing_status"` // pending, processing, completed, failed
	ErrorMessage        string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ChunkCount          int        `bson:"chunk_count,omitempty" json:"chunk_count,omitempty"`
	VectorIndexLocation string     `bson:"vector_index_location,omitempty" json:"vector_index_location,omitempty"`
	UpdatedAt           time.Time  `bson:"updated_at" json:"updated_at"`
	ProcessedAt         *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Processing status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Content types accepted for upload
const (
	ContentTypePDF      = "application/pdf"
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
)

// IndexMetadata is returned by the indexer after a document was indexed
type IndexMetadata struct {
	OwnerID             string `json:"owner_id"`
	CollectionID        string `json:"collection_id"`
	DocumentID          string `json:"document_id"`
	OriginalFilename    string `json:"original_filename"`
	ChunkCount          int    `json:"chunk_count"`
	SourceKey           string `json:"source_key"`
	VectorIndexLocation string `json:"vector_index_location"`
}

// UploadResponse is returned after a document upload was registered
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	TaskID     string `json:"task_id,omitempty"`
	Message    string `json:"message"`
}

// TenantKey builds the owner#collection composite key.
func TenantKey(ownerID, collectionID string) string {
	return ownerID + "#" + collectionID
}

// SplitTenantKey reverses TenantKey.
func SplitTenantKey(key string) (ownerID, collectionID string, err error) {
	owner, collection, ok := strings.Cut(key, "#")
	if !ok || owner == "" || collection == "" {
		return "", "", fmt.Errorf("invalid tenant key %q", key)
	}
	return owner, collection, nil
}

// RawDocumentKey is the object store key of the uploaded file.
func RawDocumentKey(ownerID, collectionID, documentID, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", ownerID, collectionID, documentID, filename)
}

// VectorStorePrefix is the object store prefix holding a collection's index artifacts.
func VectorStorePrefix(ownerID, collectionID string) string {
	return fmt.Sprintf("%s/%s/vector_store/", ownerID, collectionID)
}

// IndexArtifactKey is the object store key of one artifact part, ext without the dot.
func IndexArtifactKey(ownerID, collectionID, documentID, ext string) string {
	return VectorStorePrefix(ownerID, collectionID) + documentID + "." + ext
}
