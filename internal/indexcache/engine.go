// Package indexcache loads the per-document indices of a collection, merges
// them into one composite and keeps a bounded number of composites in memory.
package indexcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"arcane-scribe/internal/database"
	"arcane-scribe/internal/storage"
	"arcane-scribe/internal/telemetry"
	"arcane-scribe/internal/vectorindex"
	"arcane-scribe/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// ErrNoDocuments means the tenant has no completed document that could be loaded.
var ErrNoDocuments = errors.New("no indexed documents found")

type Options struct {
	Capacity   int
	ScratchDir string
	Clock      func() time.Time
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// Engine resolves tenant composites, loading and merging on cache miss.
type Engine struct {
	cache      *Cache
	docs       database.DocumentStore
	objects    storage.ObjectStore
	scratchDir string
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	group      singleflight.Group

	// generations counts invalidations per tenant key; a load only caches its
	// composite when no invalidation happened while it ran.
	genMu       sync.Mutex
	generations map[string]uint64
}

func New(docs database.DocumentStore, objects storage.ObjectStore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Engine{
		cache:       NewCache(opts.Capacity, opts.Clock),
		docs:        docs,
		objects:     objects,
		scratchDir:  scratch,
		logger:      logger,
		metrics:     opts.Metrics,
		generations: make(map[string]uint64),
	}
}

// Cache exposes the underlying cache for inspection.
func (e *Engine) Cache() *Cache { return e.cache }

// GetTenantIndex returns the composite index of all completed documents in a
// collection. Cached composites are returned without any store access.
func (e *Engine) GetTenantIndex(ctx context.Context, ownerID, collectionID string) (*vectorindex.Index, error) {
	key := models.TenantKey(ownerID, collectionID)

	if ix, ok := e.cache.Get(key); ok {
		e.metrics.RecordIndexCache("hit")
		e.logger.Debug("tenant index cache hit", "tenant_key", key)
		return ix, nil
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		if ix, ok := e.cache.Get(key); ok {
			return ix, nil
		}
		e.metrics.RecordIndexCache("miss")

		gen := e.generation(key)
		// The load is shared by every waiter, so one caller going away must not cut it short.
		ix, err := e.load(context.WithoutCancel(ctx), ownerID, collectionID)
		if err != nil {
			return nil, err
		}

		e.genMu.Lock()
		defer e.genMu.Unlock()
		if e.generations[key] != gen {
			e.logger.Info("tenant invalidated during load, not caching composite", "tenant_key", key)
			return ix, nil
		}
		if evicted, ok := e.cache.Put(key, ix); ok {
			e.metrics.RecordIndexCache("evict")
			e.logger.Info("evicted tenant index", "evicted_key", evicted, "tenant_key", key)
		}
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*vectorindex.Index), nil
}

// Invalidate drops the cached composite so the next call rebuilds it. A load
// already in flight for the tenant still answers its waiters but is not cached.
func (e *Engine) Invalidate(ownerID, collectionID string) bool {
	key := models.TenantKey(ownerID, collectionID)
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.generations[key]++
	e.group.Forget(key)
	return e.cache.Remove(key)
}

func (e *Engine) generation(key string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.generations[key]
}

func (e *Engine) load(ctx context.Context, ownerID, collectionID string) (*vectorindex.Index, error) {
	key := models.TenantKey(ownerID, collectionID)

	ctx, span := otel.Tracer("indexcache").Start(ctx, "indexcache.load")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.key", key))

	docs, err := e.docs.Query(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("query documents for %s: %w", key, err)
	}

	completed := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if d.ProcessingStatus == models.StatusCompleted {
			completed = append(completed, d)
		}
	}
	if len(completed) == 0 {
		e.logger.Warn("no completed documents for tenant", "tenant_key", key, "documents", len(docs))
		return nil, fmt.Errorf("%s: %w", key, ErrNoDocuments)
	}

	scratch, err := os.MkdirTemp(e.scratchDir, "index-"+scratchName(key)+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			e.logger.Error("failed to remove scratch dir", "path", scratch, "error", err)
		}
	}()

	var composite *vectorindex.Index
	loaded := 0
	for _, doc := range completed {
		ix, err := e.loadDocument(ctx, scratch, doc)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("load %s: %w", doc.DocumentID, err)
		}
		if err != nil {
			e.logger.Error("failed to load document index, skipping",
				"tenant_key", key, "document_id", doc.DocumentID, "error", err)
			continue
		}
		if composite == nil {
			composite = ix
		} else if err := composite.Merge(ix); err != nil {
			e.logger.Error("failed to merge document index, skipping",
				"tenant_key", key, "document_id", doc.DocumentID, "error", err)
			continue
		}
		loaded++
	}

	span.SetAttributes(
		attribute.Int("documents.completed", len(completed)),
		attribute.Int("documents.loaded", loaded),
	)
	if composite == nil {
		return nil, fmt.Errorf("%s: all %d document indices failed to load: %w", key, len(completed), ErrNoDocuments)
	}

	e.logger.Info("built tenant index", "tenant_key", key, "documents", loaded, "chunks", composite.Len())
	return composite, nil
}

func (e *Engine) loadDocument(ctx context.Context, scratch string, doc models.Document) (*vectorindex.Index, error) {
	dir := filepath.Join(scratch, doc.DocumentID)
	for _, ext := range vectorindex.Parts {
		objectKey := models.IndexArtifactKey(doc.OwnerID, doc.CollectionID, doc.DocumentID, ext)
		if err := e.objects.Download(ctx, objectKey, filepath.Join(dir, doc.DocumentID+"."+ext)); err != nil {
			return nil, fmt.Errorf("download %s: %w", objectKey, err)
		}
	}
	return vectorindex.Load(dir, doc.DocumentID)
}

func scratchName(key string) string {
	return strings.NewReplacer("#", "_", "/", "_", string(filepath.Separator), "_").Replace(key)
}
