package models

import (
	"errors"
	"fmt"
	"strings"
)

// Generation defaults
const (
	DefaultTemperature       float32 = 0.1
	DefaultTopP              float32 = 1.0
	DefaultMaxTokens         int32   = 1024
	MaxTokensLimit           int32   = 200000
	DefaultNumberOfDocuments         = 4
)

// Answer sources
const (
	SourceRetrievalOnly = "retrieval_only"
	SourceGenerative    = "generative_llm"
	SourceCache         = "cache"
)

// GenerationConfig holds per-request model parameters. Nil fields take the defaults.
type GenerationConfig struct {
	Temperature   *float32 `json:"temperature,omitempty"`
	TopP          *float32 `json:"top_p,omitempty"`
	MaxTokens     *int32   `json:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// GenerationParams is a GenerationConfig with every value resolved
type GenerationParams struct {
	Temperature   float32  `json:"temperature"`
	TopP          float32  `json:"top_p"`
	MaxTokens     int32    `json:"max_tokens"`
	StopSequences []string `json:"stop_sequences"`
}

// DefaultGenerationParams returns the parameters used when a request sets none.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:   DefaultTemperature,
		TopP:          DefaultTopP,
		MaxTokens:     DefaultMaxTokens,
		StopSequences: []string{},
	}
}

// Resolve applies defaults to unset fields and validates the result.
func (g *GenerationConfig) Resolve() (GenerationParams, error) {
	params := DefaultGenerationParams()
	if g == nil {
		return params, nil
	}
	if g.Temperature != nil {
		params.Temperature = *g.Temperature
	}
	if g.TopP != nil {
		params.TopP = *g.TopP
	}
	if g.MaxTokens != nil {
		params.MaxTokens = *g.MaxTokens
	}
	if g.StopSequences != nil {
		params.StopSequences = g.StopSequences
	}
	return params, params.Validate()
}

// Validate checks parameter ranges.
func (p GenerationParams) Validate() error {
	if p.Temperature < 0 || p.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %v", p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("top_p must be between 0 and 1, got %v", p.TopP)
	}
	if p.MaxTokens <= 0 || p.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("max_tokens must be in (0, %d], got %d", MaxTokensLimit, p.MaxTokens)
	}
	return nil
}

// QueryRequest is the body of a query call
type QueryRequest struct {
	QueryText              string            `json:"query_text" binding:"required"`
	InvokeGenerativeLLM    bool              `json:"invoke_generative_llm"`
	UseConversationalStyle bool              `json:"use_conversational_style"`
	GenerationConfig       *GenerationConfig `json:"generation_config,omitempty"`
	NumberOfDocuments      int               `json:"number_of_documents,omitempty"` // retrieval fan-out k
}

// Normalize trims the query, fills k with defaultK when unset and validates
// generation parameters.
func (r *QueryRequest) Normalize(defaultK int) (GenerationParams, error) {
	r.QueryText = strings.TrimSpace(r.QueryText)
	if r.QueryText == "" {
		return GenerationParams{}, errors.New("query_text is required")
	}
	if r.NumberOfDocuments == 0 {
		r.NumberOfDocuments = defaultK
	}
	if r.NumberOfDocuments < 1 {
		return GenerationParams{}, fmt.Errorf("number_of_documents must be >= 1, got %d", r.NumberOfDocuments)
	}
	return r.GenerationConfig.Resolve()
}

// SourceDocument is one retrieved chunk returned to the caller
type SourceDocument struct {
	Source  string `json:"source"`
	Page    int    `json:"page,omitempty"`
	Content string `json:"content"`
}

// QueryResponse is the result of a query
type QueryResponse struct {
	Answer          string           `json:"answer"`
	SourceDocuments []SourceDocument `json:"source_documents"`
	Source          string           `json:"source"`
}

// CachedAnswer is the value kept in the answer cache
type CachedAnswer struct {
	QueryHash              string `json:"query_hash"`
	Answer                 string `json:"answer"`
	OwnerID                string `json:"owner_id"`
	CollectionID           string `json:"collection_id"`
	QueryText              string `json:"query_text"`
	SourceDocumentsSummary string `json:"source_documents_summary"`
	Timestamp              string `json:"timestamp"`
	TTL                    int64  `json:"ttl"` // unix seconds
	GenerationConfigUsed   string `json:"generation_config_used"`
	WasConversational      bool   `json:"was_conversational"`
}
