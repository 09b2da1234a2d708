package routes

import (
	"context"
	"log/slog"

	"arcane-scribe/internal/database"
	"arcane-scribe/internal/queue"
	"arcane-scribe/internal/storage"
	"arcane-scribe/models"
)

// Querier answers questions over a tenant collection.
type Querier interface {
	Query(ctx context.Context, ownerID, collectionID string, req models.QueryRequest) (*models.QueryResponse, error)
}

// IndexInvalidator drops a tenant's cached composite index.
type IndexInvalidator interface {
	Invalidate(ownerID, collectionID string) bool
}

// Deps carries the collaborators shared by the API handlers
type Deps struct {
	Docs        database.DocumentStore
	Objects     storage.ObjectStore
	Queue       queue.Enqueuer
	Indices     IndexInvalidator
	Querier     Querier
	MaxFileSize int64
	RetrievalK  int
	Logger      *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
