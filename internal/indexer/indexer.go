// Package indexer turns one uploaded document into a persisted vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arcane-scribe/internal/ai"
	"arcane-scribe/internal/database"
	"arcane-scribe/internal/storage"
	"arcane-scribe/internal/telemetry"
	"arcane-scribe/internal/vectorindex"
	"arcane-scribe/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrNoChunks = errors.New("document produced no text chunks")

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	ScratchDir   string
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
}

type Indexer struct {
	docs       database.DocumentStore
	objects    storage.ObjectStore
	embedder   ai.Embedder
	splitter   *Splitter
	scratchDir string
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

func New(docs database.DocumentStore, objects storage.ObjectStore, embedder ai.Embedder, opts Options) *Indexer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Indexer{
		docs:       docs,
		objects:    objects,
		embedder:   embedder,
		splitter:   NewSplitter(opts.ChunkSize, opts.ChunkOverlap),
		scratchDir: opts.ScratchDir,
		logger:     opts.Logger.With("component", "indexer"),
		metrics:    opts.Metrics,
	}
}

// IndexDocument splits, embeds and indexes the document text, uploads the
// index parts and records the outcome on the document record. Running it again
// for the same document overwrites the previous artifact.
func (ix *Indexer) IndexDocument(ctx context.Context, ownerID, collectionID, documentID string, src TextSource) (meta *models.IndexMetadata, err error) {
	start := time.Now()
	tenantKey := models.TenantKey(ownerID, collectionID)
	log := ix.logger.With("tenant_key", tenantKey, "document_id", documentID)

	ctx, span := otel.Tracer("indexer").Start(ctx, "indexer.index_document")
	span.SetAttributes(attribute.String("tenant.key", tenantKey), attribute.String("document.id", documentID))
	defer func() {
		status := models.StatusCompleted
		if err != nil {
			status = models.StatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		ix.metrics.RecordIndexing(time.Since(start).Seconds(), status)
		span.End()
	}()

	if err := database.UpdateStatus(ctx, ix.docs, tenantKey, documentID, models.StatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("mark document processing: %w", err)
	}

	fail := func(cause error) error {
		log.Error("indexing failed", "error", cause)
		if err := database.UpdateStatus(ctx, ix.docs, tenantKey, documentID, models.StatusFailed, map[string]any{
			"error_message": cause.Error(),
		}); err != nil {
			log.Error("failed to mark document failed", "error", err)
		}
		return cause
	}

	scratch := filepath.Join(ix.scratchDir, fmt.Sprintf("indexer-%s-%s", safeName(tenantKey), uuid.NewString()))
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fail(fmt.Errorf("create scratch dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Error("failed to remove scratch dir", "path", scratch, "error", err)
		}
	}()

	pages, err := src.Pages(ctx, scratch)
	if err != nil {
		return nil, fail(fmt.Errorf("read source: %w", err))
	}

	texts := ix.splitter.SplitPages(pages)
	if len(texts) == 0 {
		log.Warn("no text chunks produced", "source", src.Name())
		return nil, fail(ErrNoChunks)
	}
	log.Info("split document", "source", src.Name(), "pages", len(pages), "chunks", len(texts))

	chunks := make([]vectorindex.Chunk, len(texts))
	for i, t := range texts {
		vec, err := ix.embedder.Embed(ctx, t.Text)
		if err != nil {
			return nil, fail(fmt.Errorf("embed chunk %d: %w", i, err))
		}
		chunks[i] = vectorindex.Chunk{
			ID:         fmt.Sprintf("%s-%05d", documentID, i),
			DocumentID: documentID,
			Text:       t.Text,
			Source:     src.Name(),
			Page:       t.Page,
			Vector:     vec,
		}
	}

	index, err := vectorindex.Build(chunks)
	if err != nil {
		return nil, fail(fmt.Errorf("build index: %w", err))
	}

	paths, err := index.Save(filepath.Join(scratch, "index"), documentID)
	if err != nil {
		return nil, fail(fmt.Errorf("save index: %w", err))
	}

	for i, ext := range vectorindex.Parts {
		data, err := os.ReadFile(paths[i])
		if err != nil {
			return nil, fail(fmt.Errorf("read index part %s: %w", ext, err))
		}
		key := models.IndexArtifactKey(ownerID, collectionID, documentID, ext)
		if err := ix.objects.Put(ctx, key, data); err != nil {
			return nil, fail(fmt.Errorf("upload %s: %w", key, err))
		}
	}

	location := models.VectorStorePrefix(ownerID, collectionID) + documentID
	if err := database.UpdateStatus(ctx, ix.docs, tenantKey, documentID, models.StatusCompleted, map[string]any{
		"chunk_count":           len(chunks),
		"vector_index_location": location,
		"error_message":         "",
		"processed_at":          time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("mark document completed: %w", err)
	}

	log.Info("document indexed", "chunks", len(chunks), "location", location, "duration", time.Since(start))
	return &models.IndexMetadata{
		OwnerID:             ownerID,
		CollectionID:        collectionID,
		DocumentID:          documentID,
		OriginalFilename:    src.Name(),
		ChunkCount:          len(chunks),
		SourceKey:           models.RawDocumentKey(ownerID, collectionID, documentID, src.Name()),
		VectorIndexLocation: location,
	}, nil
}

func safeName(key string) string {
	return strings.NewReplacer("#", "_", "/", "_", string(filepath.Separator), "_").Replace(key)
}
