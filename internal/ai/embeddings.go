package ai

import (
	"context"
	"fmt"

	"arcane-scribe/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// NewEmbedder returns the embedder selected by EMBEDDINGS_PROVIDER.
// Default provider is Google Generative AI (text-embedding-004).
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	switch cfg.EmbeddingsProvider {
	case "google", "":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
		}
		return NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("missing OPENAI_API_KEY for embeddings")
		}
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIEmbeddingsModel), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}

// GeminiEmbedder embeds text with a Google embedding model
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

func (e *GeminiEmbedder) ModelName() string { return e.model }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var values []float32
	err := withRetry(ctx, func() error {
		resp, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return classify(err)
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return permanent(fmt.Errorf("no embedding returned"))
		}
		values = resp.Embedding.Values
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", err)
	}
	return values, nil
}

func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}
