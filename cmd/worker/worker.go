package main

import (
	"context"
	"io"
	"log"
	"time"

	"arcane-scribe/internal/ai"
	"arcane-scribe/internal/config"
	"arcane-scribe/internal/database"
	"arcane-scribe/internal/indexer"
	"arcane-scribe/internal/logger"
	"arcane-scribe/internal/queue"
	"arcane-scribe/internal/telemetry"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer("arcane-scribe-worker", cfg.OTelEndpoint, 1.0)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown()
		}
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	objects, err := config.NewObjectStore(cfg, db)
	if err != nil {
		log.Fatal("Failed to open object store:", err)
	}

	embedder, err := ai.NewEmbedder(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize embeddings:", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		defer c.Close()
	}

	docs := database.NewMongoDocumentStore(db)
	idx := indexer.New(docs, objects, embedder, indexer.Options{
		ChunkSize:    cfg.MaxChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		ScratchDir:   cfg.ScratchDir,
		Logger:       logger.Logger,
		Metrics:      metrics,
	})

	// Redis options for Asynq
	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				"default":           3,
				"low":               1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "payload", string(task.Payload()), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(docs, objects, idx, logger.Component("worker"))

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIndexDocument, processor.ProcessIndexDocument)

	logger.Info("starting asynq worker",
		"concurrency", cfg.WorkerConcurrency,
		"queues", "critical(6), default(3), low(1)",
		"object_store", cfg.ObjectStore,
		"embeddings", embedder.ModelName())

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
