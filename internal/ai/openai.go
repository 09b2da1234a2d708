package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// OpenAIEmbedder embeds text with an OpenAI embedding model
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClient(openaioption.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (e *OpenAIEmbedder) ModelName() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var values []float32
	err := withRetry(ctx, func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: []string{text},
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && isRetryableStatus(apiErr.StatusCode) {
				return err
			}
			return permanent(err)
		}
		if len(resp.Data) == 0 {
			return permanent(fmt.Errorf("no embedding returned"))
		}
		values = toFloat32(resp.Data[0].Embedding)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	return values, nil
}

// OpenAI returns float64, indices store float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
