// Package app builds the shared service graph used by the API server and scribectl.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"arcane-scribe/internal/ai"
	"arcane-scribe/internal/answercache"
	"arcane-scribe/internal/config"
	"arcane-scribe/internal/database"
	"arcane-scribe/internal/indexcache"
	"arcane-scribe/internal/indexer"
	"arcane-scribe/internal/logger"
	"arcane-scribe/internal/rag"
	"arcane-scribe/internal/storage"
	"arcane-scribe/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// App holds long lived components. Close releases them in reverse order.
type App struct {
	Config  *config.Config
	Mongo   *mongo.Client
	Redis   *redis.Client
	Docs    database.DocumentStore
	Objects storage.ObjectStore
	Metrics *telemetry.Metrics

	Embedder     ai.Embedder
	DocEmbedder  ai.Embedder
	Models       *ai.GeminiModels
	Indices      *indexcache.Engine
	Answers      *answercache.Cache
	Indexer      *indexer.Indexer
	Orchestrator *rag.Orchestrator

	closers []func()
}

// Build connects the stores and assembles the query and indexing pipelines.
// A missing Redis downgrades the answer cache to process memory.
func Build(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return nil, err
	}
	a.Mongo = mongoClient
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	})
	db := mongoClient.Database(cfg.DBName)

	a.Objects, err = config.NewObjectStore(cfg, db)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}
	a.Docs = database.NewMongoDocumentStore(db)

	var answerStore answercache.Store
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("redis unavailable, answer cache kept in memory", "error", err)
		answerStore = answercache.NewMemoryStore()
	} else {
		a.Redis = rdb
		a.closers = append(a.closers, func() { rdb.Close() })
		answerStore = answercache.NewRedisStore(rdb)
	}

	embedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		a.closers = append(a.closers, func() { c.Close() })
	}
	a.Embedder, a.DocEmbedder = pipelineEmbedders(embedder, cfg.EmbeddingCacheSize)

	a.Models, err = ai.NewGeminiModels(ctx, cfg.GeminiAPIKey, cfg.GeminiTier, cfg.DefaultGenerationModel, metrics, logger.Component("gemini"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize generation models: %w", err)
	}
	a.closers = append(a.closers, func() { a.Models.Close() })

	a.Indices = indexcache.New(a.Docs, a.Objects, indexcache.Options{
		Capacity:   cfg.MaxCacheSize,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger.Component("indexcache"),
		Metrics:    metrics,
	})
	a.Answers = answercache.New(answerStore, time.Now, logger.Component("answercache"), metrics)
	a.Indexer = indexer.New(a.Docs, a.Objects, a.DocEmbedder, indexer.Options{
		ChunkSize:    cfg.MaxChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		ScratchDir:   cfg.ScratchDir,
		Logger:       logger.Component("indexer"),
		Metrics:      metrics,
	})
	a.Orchestrator = rag.New(a.Indices, a.Embedder, a.Models, a.Answers, rag.Options{
		ModelID:  cfg.GenerationModel,
		DefaultK: cfg.RetrievalK,
		CacheTTL: time.Duration(cfg.CacheTTLSeconds) * time.Second,
		Logger:   logger.Component("rag"),
		Metrics:  metrics,
	})
	return a, nil
}

// pipelineEmbedders returns the query embedder, which memoizes repeated
// questions, and the document embedder, which calls the provider directly.
func pipelineEmbedders(raw ai.Embedder, cacheSize int) (query, documents ai.Embedder) {
	return ai.NewCachedEmbedder(raw, cacheSize), raw
}

// Close releases every component opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
