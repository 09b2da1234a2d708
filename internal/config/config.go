package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxFileSize int64

	// Stores
	MongoURI       string
	DBName         string
	ObjectStore    string // "gridfs" (default) or "local"
	GridFSBucket   string
	FileStorageDir string
	ScratchDir     string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// JWT access token secret
	AccessSecret string

	// Models
	GeminiAPIKey           string
	GeminiTier             string
	GenerationModel        string
	DefaultGenerationModel string

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "openai"
	GoogleEmbeddingsModel string
	OpenAIAPIKey          string
	OpenAIEmbeddingsModel string
	EmbeddingCacheSize    int

	// Indexing
	MaxChunkSize int
	ChunkOverlap int

	// Query caches
	MaxCacheSize    int
	CacheTTLSeconds int
	RetrievalK      int

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Worker
	WorkerConcurrency      int
	StaleProcessingMinutes int

	// Telemetry
	OTelEnabled  bool
	OTelEndpoint string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB

		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017/arcane_scribe"),
		DBName:         getEnv("DB_NAME", "arcane_scribe"),
		ObjectStore:    getEnv("OBJECT_STORE", "gridfs"),
		GridFSBucket:   getEnv("GRIDFS_BUCKET", "objects"),
		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),
		ScratchDir:     getEnv("SCRATCH_DIR", os.TempDir()),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AccessSecret: getEnv("ACCESS_SECRET", ""),

		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		GeminiTier:             getEnv("GEMINI_TIER", "free"),
		GenerationModel:        getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		DefaultGenerationModel: getEnv("DEFAULT_GENERATION_MODEL", "gemini-2.0-flash"),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "google"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		EmbeddingCacheSize:    getEnvInt("EMBEDDING_CACHE_SIZE", 1000),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		MaxCacheSize:    getEnvInt("MAX_CACHE_SIZE", 5),
		CacheTTLSeconds: getEnvInt("CACHE_TTL_SECONDS", 3600),
		RetrievalK:      getEnvInt("RETRIEVAL_K", 4),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		WorkerConcurrency:      getEnvInt("WORKER_CONCURRENCY", 10),
		StaleProcessingMinutes: getEnvInt("STALE_PROCESSING_MINUTES", 30),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4317"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.AccessSecret) < 32 {
		return fmt.Errorf("ACCESS_SECRET is required and must be at least 32 characters - set it in .env file")
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	switch c.EmbeddingsProvider {
	case "google", "":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDINGS_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown EMBEDDINGS_PROVIDER %q", c.EmbeddingsProvider)
	}

	switch c.ObjectStore {
	case "gridfs", "local":
	default:
		return fmt.Errorf("unknown OBJECT_STORE %q", c.ObjectStore)
	}

	if c.MaxChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.MaxChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be smaller than MAX_CHUNK_SIZE")
	}
	if c.MaxCacheSize <= 0 {
		return fmt.Errorf("MAX_CACHE_SIZE must be positive")
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("RETRIEVAL_K must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
