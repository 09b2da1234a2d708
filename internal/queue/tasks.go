package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"arcane-scribe/internal/database"
	"arcane-scribe/internal/indexer"
	"arcane-scribe/internal/storage"
	"arcane-scribe/models"
)

const (
	TaskIndexDocument = "document:index"

	QueueCritical = "critical"
)

type IndexDocumentPayload struct {
	OwnerID      string `json:"owner_id"`
	CollectionID string `json:"collection_id"`
	DocumentID   string `json:"document_id"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Task creators
func NewIndexDocumentTask(ownerID, collectionID, documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexDocumentPayload{
		OwnerID:      ownerID,
		CollectionID: collectionID,
		DocumentID:   documentID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIndexDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
		asynq.Queue(QueueCritical),
	), nil
}

// EnqueueIndexDocument schedules indexing for doc and returns the task id.
func EnqueueIndexDocument(ctx context.Context, q Enqueuer, doc *models.Document) (string, error) {
	task, err := NewIndexDocumentTask(doc.OwnerID, doc.CollectionID, doc.DocumentID)
	if err != nil {
		return "", err
	}
	info, err := q.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TaskIndexDocument, err)
	}
	return info.ID, nil
}

// DocumentIndexer is satisfied by *indexer.Indexer.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, ownerID, collectionID, documentID string, src indexer.TextSource) (*models.IndexMetadata, error)
}

// Task handlers
type TaskProcessor struct {
	docs    database.DocumentStore
	objects storage.ObjectStore
	indexer DocumentIndexer
	logger  *slog.Logger
}

func NewTaskProcessor(docs database.DocumentStore, objects storage.ObjectStore, idx DocumentIndexer, logger *slog.Logger) *TaskProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskProcessor{docs: docs, objects: objects, indexer: idx, logger: logger}
}

func (p *TaskProcessor) ProcessIndexDocument(ctx context.Context, t *asynq.Task) error {
	var payload IndexDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	tenantKey := models.TenantKey(payload.OwnerID, payload.CollectionID)
	log := p.logger.With("tenant_key", tenantKey, "document_id", payload.DocumentID)

	doc, err := p.docs.Get(ctx, tenantKey, payload.DocumentID)
	if errors.Is(err, database.ErrDocumentNotFound) {
		log.Warn("document deleted before indexing, dropping task")
		return fmt.Errorf("document %s: %w", payload.DocumentID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	src, err := indexer.NewObjectSource(p.objects, doc)
	if err != nil {
		if uerr := database.UpdateStatus(ctx, p.docs, tenantKey, doc.DocumentID, models.StatusFailed, map[string]any{
			"error_message": err.Error(),
		}); uerr != nil {
			log.Error("failed to mark document failed", "error", uerr)
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.Info("indexing document", "filename", doc.OriginalFilename)
	meta, err := p.indexer.IndexDocument(ctx, doc.OwnerID, doc.CollectionID, doc.DocumentID, src)
	if err != nil {
		// The indexer has already marked the document failed; re-indexing is
		// an explicit reindex request.
		log.Error("indexing failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.Info("document indexed", "chunks", meta.ChunkCount)
	return nil
}
