package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arcane-scribe/internal/app"
	"arcane-scribe/internal/auth"
	"arcane-scribe/internal/config"
	"arcane-scribe/internal/logger"
	"arcane-scribe/internal/telemetry"
	"arcane-scribe/middleware"
	"arcane-scribe/routes"
	"arcane-scribe/services"

	"github.com/gin-gonic/gin"
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
		shutdown, err := telemetry.InitTracer("arcane-scribe", cfg.OTelEndpoint, 1.0)
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

	a, err := app.Build(context.Background(), cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize components:", err)
	}
	defer a.Close()

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	tokens, err := auth.NewTokens(cfg.AccessSecret, a.Redis)
	if err != nil {
		log.Fatal("Failed to initialize token validation:", err)
	}

	scheduler := services.NewScheduler(logger.Component("scheduler"))
	maxAge := time.Duration(cfg.StaleProcessingMinutes) * time.Minute
	if err := scheduler.ScheduleStaleReaper(a.Docs, 5*time.Minute, maxAge); err != nil {
		log.Fatal("Failed to schedule stale document reaper:", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize + 1<<20)) // multipart overhead

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"timestamp":      time.Now(),
			"cached_tenants": a.Indices.Cache().Len(),
		})
	})

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	api := router.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())
	if a.Redis != nil {
		api.Use(middleware.RateLimitMiddleware(a.Redis, cfg.RateLimitReqs, cfg.RateLimitWindow))
	}

	routes.RegisterDocumentRoutes(api, &routes.Deps{
		Docs:        a.Docs,
		Objects:     a.Objects,
		Queue:       queueClient,
		Indices:     a.Indices,
		Querier:     a.Orchestrator,
		MaxFileSize: cfg.MaxFileSize,
		RetrievalK:  cfg.RetrievalK,
		Logger:      logger.Component("api"),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port, "object_store", cfg.ObjectStore, "embeddings", a.Embedder.ModelName())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
