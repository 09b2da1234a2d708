package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"arcane-scribe/internal/telemetry"
	"arcane-scribe/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

var (
	ErrCircuitOpen  = errors.New("generation service unavailable: circuit open")
	ErrRateLimited  = errors.New("rate limit exceeded: wait before retry")
	ErrInvalidModel = errors.New("invalid model configuration")
)

// Model generates text for a fully built prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ModelFactory configures generation models per request.
type ModelFactory interface {
	Configure(modelID string, params models.GenerationParams) (Model, error)
	// Default returns the process wide fallback model, created on first use.
	Default() (Model, error)
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// GeminiModels builds Gemini models that share one client, circuit breaker,
// rate limiter and token budget.
type GeminiModels struct {
	client         *genai.Client
	breaker        *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	tokenCounter   *TokenCounter
	metrics        *telemetry.Metrics
	logger         *slog.Logger
	defaultModelID string

	defaultOnce  sync.Once
	defaultModel Model
	defaultErr   error
}

func NewGeminiModels(ctx context.Context, apiKey, tier, defaultModelID string, metrics *telemetry.Metrics, logger *slog.Logger) (*GeminiModels, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	limits := getRateLimits(tier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordCircuitBreakerState(name, to.String())
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), max(limits.RPM/10, 1))

	return &GeminiModels{
		client:         client,
		breaker:        breaker,
		rateLimiter:    rateLimiter,
		tokenCounter:   NewTokenCounter(limits),
		metrics:        metrics,
		logger:         logger,
		defaultModelID: defaultModelID,
	}, nil
}

// Configure returns a model for modelID with the given parameters.
func (g *GeminiModels) Configure(modelID string, params models.GenerationParams) (Model, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, fmt.Errorf("%w: empty model id", ErrInvalidModel)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	model := g.client.GenerativeModel(modelID)
	model.SetTemperature(params.Temperature)
	model.SetTopP(params.TopP)
	model.SetMaxOutputTokens(params.MaxTokens)
	if len(params.StopSequences) > 0 {
		model.StopSequences = params.StopSequences
	}

	return &geminiModel{owner: g, model: model, name: modelID}, nil
}

// Default returns the fallback model configured with default parameters.
func (g *GeminiModels) Default() (Model, error) {
	g.defaultOnce.Do(func() {
		g.defaultModel, g.defaultErr = g.Configure(g.defaultModelID, models.DefaultGenerationParams())
	})
	return g.defaultModel, g.defaultErr
}

func (g *GeminiModels) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

type geminiModel struct {
	owner *GeminiModels
	model *genai.GenerativeModel
	name  string
}

func (m *geminiModel) Name() string { return m.name }

func (m *geminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()

	estimatedTokens := estimateTokens(prompt)
	span.SetAttributes(
		attribute.Int("gemini.estimated_tokens", estimatedTokens),
		attribute.String("gemini.model", m.name),
	)

	g := m.owner
	if !g.tokenCounter.CanConsume(estimatedTokens, 1) {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", ErrRateLimited
	}
	if err := g.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", err
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return m.model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return "", ErrCircuitOpen
		}
		span.SetAttributes(attribute.String("gemini.error_message", err.Error()))
		return "", err
	}

	resp := result.(*genai.GenerateContentResponse)
	text := responseText(resp)
	actualTokens := extractTokenUsage(resp, text)
	g.tokenCounter.RecordUsage(actualTokens, 1)
	g.metrics.RecordTokensUsed(int64(actualTokens), m.name)

	span.SetAttributes(
		attribute.Int("gemini.actual_tokens", actualTokens),
		attribute.Bool("gemini.success", true),
	)
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		// first candidate only
		break
	}
	return strings.TrimSpace(sb.String())
}

// 1 token ≈ 4 characters
func estimateTokens(prompt string) int {
	return len(prompt)/4 + 1
}

func extractTokenUsage(resp *genai.GenerateContentResponse, text string) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	return estimateTokens(text)
}
