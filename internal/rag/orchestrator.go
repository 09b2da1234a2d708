// Package rag answers questions against a collection's composite index,
// either by returning the retrieved passages or by asking a generation model.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"arcane-scribe/internal/ai"
	"arcane-scribe/internal/answercache"
	"arcane-scribe/internal/indexcache"
	"arcane-scribe/internal/telemetry"
	"arcane-scribe/internal/vectorindex"
	"arcane-scribe/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	NoInformationAnswer = "No specific information found to answer your query based on retrieval."
	NoAnswerGenerated   = "No answer generated."

	passageSeparator   = "\n\n---\n\n"
	summarySeparator   = "; "
	summaryLimit       = 1000
	retrievalHeaderFmt = "Based on the retrieved SRD content for your query '%s':\n"
	conversationalFmt  = "User: %s\nBot:"
)

const promptTemplate = `You are 'Arcane Scribe', a helpful TTRPG assistant.
Based *only* on the following context from the System Reference Document (SRD), provide a concise and direct answer to the question.
If the question (which might be formatted as 'User: ... Bot:') asks for advice, optimization (e.g., "min-max"), or creative ideas, you may synthesize or infer suggestions *grounded in the provided SRD context*.
Do not introduce rules, abilities, or concepts not present in or directly supported by the context.
If the context does not provide enough information for a comprehensive answer or suggestion, state that clearly.
Always be helpful and aim to directly address the user's intent.
If the question is not formatted as 'User: ... Bot:', you may assume it is a direct question and respond accordingly.

Context:
%s

Question: %s

Helpful Answer:`

// IndexLoader returns the composite index for a tenant.
type IndexLoader interface {
	GetTenantIndex(ctx context.Context, ownerID, collectionID string) (*vectorindex.Index, error)
}

type Options struct {
	ModelID string
	// DefaultK is the retrieval fan-out used when a request sets none.
	DefaultK int
	CacheTTL time.Duration
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// Orchestrator runs one query from cache check to answer.
type Orchestrator struct {
	loader   IndexLoader
	embedder ai.Embedder
	models   ai.ModelFactory
	answers  *answercache.Cache
	modelID  string
	defaultK int
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// New builds an orchestrator. answers may be nil, which disables answer caching.
func New(loader IndexLoader, embedder ai.Embedder, factory ai.ModelFactory, answers *answercache.Cache, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = models.DefaultNumberOfDocuments
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = answercache.DefaultTTL
	}
	return &Orchestrator{
		loader:   loader,
		embedder: embedder,
		models:   factory,
		answers:  answers,
		modelID:  opts.ModelID,
		defaultK: opts.DefaultK,
		cacheTTL: opts.CacheTTL,
		logger:   opts.Logger.With("component", "rag"),
		metrics:  opts.Metrics,
	}
}

// Query answers req for the owner's collection.
func (o *Orchestrator) Query(ctx context.Context, ownerID, collectionID string, req models.QueryRequest) (resp *models.QueryResponse, err error) {
	tenantKey := models.TenantKey(ownerID, collectionID)

	ctx, span := otel.Tracer("rag").Start(ctx, "rag.query")
	span.SetAttributes(
		attribute.String("tenant_key", tenantKey),
		attribute.Bool("invoke_generation", req.InvokeGenerativeLLM),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetAttributes(attribute.String("source", resp.Source))
		}
		o.metrics.RecordQueryOutcome(outcome)
		span.End()
	}()

	if o.loader == nil || o.embedder == nil || o.models == nil {
		return nil, newError(KindComponentsNotReady, "query components are not initialized", nil)
	}

	req.QueryText = strings.TrimSpace(req.QueryText)
	if req.QueryText == "" {
		return nil, newError(KindInvalidRequest, "query_text is required", nil)
	}
	if req.NumberOfDocuments == 0 {
		req.NumberOfDocuments = o.defaultK
	}

	log := o.logger.With("tenant_key", tenantKey, "query", req.QueryText)

	if req.InvokeGenerativeLLM && o.answers != nil {
		if cached, ok := o.answers.Lookup(ctx, tenantKey, req.QueryText, true); ok {
			log.Info("answer cache hit", "query_hash", cached.QueryHash)
			return &models.QueryResponse{
				Answer:          cached.Answer,
				SourceDocuments: []models.SourceDocument{},
				Source:          models.SourceCache,
			}, nil
		}
	}

	index, err := o.loader.GetTenantIndex(ctx, ownerID, collectionID)
	if err != nil {
		if errors.Is(err, indexcache.ErrNoDocuments) {
			log.Warn("no queryable documents for collection", "error", err)
			return nil, newError(KindNotFound, fmt.Sprintf("could not load SRD data for '%s'", tenantKey), err)
		}
		log.Error("failed to load tenant index", "error", err)
		return nil, newError(KindInternal, "failed to load SRD data", err)
	}

	passages, err := o.retrieve(ctx, index, req.QueryText, req.NumberOfDocuments)
	if err != nil {
		log.Error("failed to prepare retrieval", "error", err)
		return nil, newError(KindRetrieval, "failed to prepare for information retrieval", err)
	}

	if !req.InvokeGenerativeLLM {
		return retrievalAnswer(req.QueryText, passages), nil
	}

	return o.generate(ctx, log, tenantKey, ownerID, collectionID, req, passages)
}

func (o *Orchestrator) retrieve(ctx context.Context, index *vectorindex.Index, query string, k int) ([]vectorindex.Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("number_of_documents must be >= 1, got %d", k)
	}
	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return index.Search(vec, k)
}

func retrievalAnswer(query string, passages []vectorindex.Result) *models.QueryResponse {
	if len(passages) == 0 {
		return &models.QueryResponse{
			Answer:          NoInformationAnswer,
			SourceDocuments: []models.SourceDocument{},
			Source:          models.SourceRetrievalOnly,
		}
	}
	return &models.QueryResponse{
		Answer:          fmt.Sprintf(retrievalHeaderFmt, query) + strings.Join(passageTexts(passages), passageSeparator),
		SourceDocuments: sourceDocuments(passages),
		Source:          models.SourceRetrievalOnly,
	}
}

func (o *Orchestrator) generate(ctx context.Context, log *slog.Logger, tenantKey, ownerID, collectionID string, req models.QueryRequest, passages []vectorindex.Result) (*models.QueryResponse, error) {
	question := req.QueryText
	if req.UseConversationalStyle {
		question = fmt.Sprintf(conversationalFmt, req.QueryText)
	}

	params, paramErr := req.GenerationConfig.Resolve()
	if paramErr != nil {
		log.Warn("invalid generation config", "error", paramErr)
	}

	model, err := o.models.Configure(o.modelID, params)
	if err != nil {
		log.Warn("failed to configure generation model, falling back to default", "model", o.modelID, "error", err)
		model, err = o.models.Default()
		if err != nil {
			log.Error("default generation model unavailable", "error", err)
			return nil, newError(KindConfig, "generative LLM component could not be configured", err)
		}
		params = models.DefaultGenerationParams()
	}

	texts := passageTexts(passages)
	prompt := fmt.Sprintf(promptTemplate, strings.Join(texts, "\n\n"), question)

	log.Info("invoking generation model", "model", model.Name(), "question", question)
	answer, err := model.Generate(ctx, prompt)
	if err != nil {
		log.Error("generation failed", "model", model.Name(), "error", err)
		return nil, newError(KindUpstream, "generation service failed", err)
	}
	if strings.TrimSpace(answer) == "" {
		answer = NoAnswerGenerated
	}

	if o.answers != nil && answer != NoAnswerGenerated {
		used, _ := json.Marshal(params)
		o.answers.Store(ctx, tenantKey, req.QueryText, true, models.CachedAnswer{
			Answer:                 answer,
			OwnerID:                ownerID,
			CollectionID:           collectionID,
			SourceDocumentsSummary: summarize(texts),
			GenerationConfigUsed:   string(used),
			WasConversational:      req.UseConversationalStyle,
		}, o.cacheTTL)
	}

	return &models.QueryResponse{
		Answer:          answer,
		SourceDocuments: sourceDocuments(passages),
		Source:          models.SourceGenerative,
	}, nil
}

func passageTexts(passages []vectorindex.Result) []string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Chunk.Text
	}
	return texts
}

func sourceDocuments(passages []vectorindex.Result) []models.SourceDocument {
	docs := make([]models.SourceDocument, len(passages))
	for i, p := range passages {
		docs[i] = models.SourceDocument{
			Source:  p.Chunk.Source,
			Page:    p.Chunk.Page,
			Content: p.Chunk.Text,
		}
	}
	return docs
}

// summarize joins texts and keeps at most summaryLimit runes.
func summarize(texts []string) string {
	s := strings.Join(texts, summarySeparator)
	if r := []rune(s); len(r) > summaryLimit {
		return string(r[:summaryLimit])
	}
	return s
}
