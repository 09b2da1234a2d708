package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"arcane-scribe/internal/ai"
	"arcane-scribe/internal/answercache"
	"arcane-scribe/internal/indexcache"
	"arcane-scribe/internal/vectorindex"
	"arcane-scribe/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLoader struct {
	index *vectorindex.Index
	err   error
	calls int
}

func (l *staticLoader) GetTenantIndex(ctx context.Context, ownerID, collectionID string) (*vectorindex.Index, error) {
	l.calls++
	return l.index, l.err
}

// axisEmbedder maps each known text to a fixed vector and everything else to the first axis.
type axisEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *axisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (e *axisEmbedder) ModelName() string { return "axis" }

type fakeModel struct {
	name    string
	answer  string
	err     error
	mu      sync.Mutex
	prompts []string
}

func (m *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.answer, m.err
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type fakeFactory struct {
	model        *fakeModel
	fallback     *fakeModel
	configureErr error
	defaultErr   error
	configured   []models.GenerationParams
}

func (f *fakeFactory) Configure(modelID string, params models.GenerationParams) (ai.Model, error) {
	f.configured = append(f.configured, params)
	if f.configureErr != nil {
		return nil, f.configureErr
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return f.model, nil
}

func (f *fakeFactory) Default() (ai.Model, error) {
	if f.defaultErr != nil {
		return nil, f.defaultErr
	}
	return f.fallback, nil
}

type failingAnswerStore struct{}

func (failingAnswerStore) Get(context.Context, string) (*models.CachedAnswer, error) {
	return nil, errors.New("cache unavailable")
}

func (failingAnswerStore) Put(context.Context, string, *models.CachedAnswer, time.Duration) error {
	return errors.New("cache unavailable")
}

// twoDocumentIndex is owner u1, collection srd1 with two completed documents of three chunks each.
func twoDocumentIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	vectors := [][]float32{
		{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0},
		{0.8, 0.2, 0}, {0, 0, 1}, {0.7, 0.3, 0},
	}
	var chunks []vectorindex.Chunk
	for i, v := range vectors {
		doc := "doc-a"
		if i >= 3 {
			doc = "doc-b"
		}
		chunks = append(chunks, vectorindex.Chunk{
			ID:         fmt.Sprintf("%s-%d", doc, i),
			DocumentID: doc,
			Text:       fmt.Sprintf("passage %d", i),
			Source:     doc + ".pdf",
			Page:       i + 1,
			Vector:     v,
		})
	}
	ix, err := vectorindex.Build(chunks)
	require.NoError(t, err)
	return ix
}

type fixture struct {
	loader   *staticLoader
	embedder *axisEmbedder
	factory  *fakeFactory
	answers  *answercache.Cache
	logs     *bytes.Buffer
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := &fixture{
		loader:   &staticLoader{index: twoDocumentIndex(t)},
		embedder: &axisEmbedder{},
		factory: &fakeFactory{
			model:    &fakeModel{name: "primary", answer: "A fireball deals 8d6 fire damage."},
			fallback: &fakeModel{name: "fallback", answer: "fallback answer"},
		},
		answers: answercache.New(answercache.NewMemoryStore(), nil, logger, nil),
		logs:    logs,
	}
	f.orch = New(f.loader, f.embedder, f.factory, f.answers, Options{ModelID: "gemini-test", Logger: logger})
	return f
}

func TestRetrievalOnlyReturnsRankedPassages(t *testing.T) {
	f := newFixture(t)

	resp, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "  fireball  "})
	require.NoError(t, err)

	assert.Equal(t, models.SourceRetrievalOnly, resp.Source)
	want := "Based on the retrieved SRD content for your query 'fireball':\n" +
		"passage 0\n\n---\n\npassage 1\n\n---\n\npassage 3\n\n---\n\npassage 5"
	assert.Equal(t, want, resp.Answer)
	require.Len(t, resp.SourceDocuments, 4)
	assert.Equal(t, "doc-a.pdf", resp.SourceDocuments[0].Source)
	assert.Equal(t, 1, resp.SourceDocuments[0].Page)
	assert.Equal(t, 0, f.factory.model.calls())

	_, cached := f.answers.Lookup(context.Background(), "u1#srd1", "fireball", false)
	assert.False(t, cached, "retrieval-only answers are never cached")
}

func TestRetrievalOnlyWithNoPassages(t *testing.T) {
	f := newFixture(t)
	f.loader.index = vectorindex.New()

	resp, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball"})
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, resp.Answer)
	assert.Equal(t, models.SourceRetrievalOnly, resp.Source)
	assert.Empty(t, resp.SourceDocuments)
}

func TestGenerationIsCachedWithinTTL(t *testing.T) {
	f := newFixture(t)
	req := models.QueryRequest{QueryText: "fireball", InvokeGenerativeLLM: true}

	first, err := f.orch.Query(context.Background(), "u1", "srd1", req)
	require.NoError(t, err)
	assert.Equal(t, models.SourceGenerative, first.Source)
	assert.Equal(t, "A fireball deals 8d6 fire damage.", first.Answer)

	second, err := f.orch.Query(context.Background(), "u1", "srd1", req)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, second.Source)
	assert.Equal(t, first.Answer, second.Answer)

	assert.Equal(t, 1, f.factory.model.calls())
	assert.Equal(t, 1, f.loader.calls, "a cache hit skips index loading")

	entry, ok := f.answers.Lookup(context.Background(), "u1#srd1", "fireball", true)
	require.True(t, ok)
	assert.Equal(t, "u1", entry.OwnerID)
	assert.Equal(t, "srd1", entry.CollectionID)
	assert.Equal(t, "passage 0; passage 1; passage 3; passage 5", entry.SourceDocumentsSummary)
	assert.Contains(t, entry.GenerationConfigUsed, `"max_tokens":1024`)
}

func TestGenerationPromptAndConversationalStyle(t *testing.T) {
	f := newFixture(t)
	temp := float32(0.5)

	_, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{
		QueryText:              "how do I min-max a wizard?",
		InvokeGenerativeLLM:    true,
		UseConversationalStyle: true,
		GenerationConfig:       &models.GenerationConfig{Temperature: &temp},
		NumberOfDocuments:      2,
	})
	require.NoError(t, err)

	require.Equal(t, 1, f.factory.model.calls())
	prompt := f.factory.model.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, "You are 'Arcane Scribe', a helpful TTRPG assistant."))
	assert.Contains(t, prompt, "Context:\npassage 0\n\npassage 1\n\nQuestion: User: how do I min-max a wizard?\nBot:\n\nHelpful Answer:")
	assert.NotContains(t, prompt, "passage 3")

	require.Len(t, f.factory.configured, 1)
	assert.Equal(t, float32(0.5), f.factory.configured[0].Temperature)
	assert.Equal(t, models.DefaultTopP, f.factory.configured[0].TopP)
}

func TestGenerationFallsBackToDefaultModel(t *testing.T) {
	f := newFixture(t)
	tooHot := float32(3)

	resp, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{
		QueryText:           "fireball",
		InvokeGenerativeLLM: true,
		GenerationConfig:    &models.GenerationConfig{Temperature: &tooHot},
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", resp.Answer)
	assert.Equal(t, 0, f.factory.model.calls())
	assert.Equal(t, 1, f.factory.fallback.calls())
	assert.Contains(t, f.logs.String(), "falling back to default")
}

func TestGenerationConfigError(t *testing.T) {
	f := newFixture(t)
	f.factory.configureErr = errors.New("unknown model")
	f.factory.defaultErr = errors.New("no credentials")

	_, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball", InvokeGenerativeLLM: true})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestGenerationUpstreamError(t *testing.T) {
	f := newFixture(t)
	f.factory.model.err = ai.ErrCircuitOpen

	_, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball", InvokeGenerativeLLM: true})
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.ErrorIs(t, err, ai.ErrCircuitOpen)

	_, cached := f.answers.Lookup(context.Background(), "u1#srd1", "fireball", true)
	assert.False(t, cached)
}

func TestEmptyGenerationIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.factory.model.answer = "   "
	req := models.QueryRequest{QueryText: "fireball", InvokeGenerativeLLM: true}

	resp, err := f.orch.Query(context.Background(), "u1", "srd1", req)
	require.NoError(t, err)
	assert.Equal(t, NoAnswerGenerated, resp.Answer)

	_, err = f.orch.Query(context.Background(), "u1", "srd1", req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.factory.model.calls())
}

func TestAnswerCacheFailuresDoNotFailQueries(t *testing.T) {
	f := newFixture(t)
	f.orch.answers = answercache.New(failingAnswerStore{}, nil, slog.New(slog.NewJSONHandler(f.logs, nil)), nil)

	resp, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball", InvokeGenerativeLLM: true})
	require.NoError(t, err)
	assert.Equal(t, models.SourceGenerative, resp.Source)
	assert.Equal(t, "A fireball deals 8d6 fire damage.", resp.Answer)
	assert.Contains(t, f.logs.String(), "failed to write answer cache")
}

func TestLoadErrorsAreClassified(t *testing.T) {
	f := newFixture(t)

	f.loader.err = fmt.Errorf("tenant u1#srd1: %w", indexcache.ErrNoDocuments)
	_, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball", InvokeGenerativeLLM: true})
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Contains(t, err.Error(), "u1#srd1")

	f.loader.err = errors.New("mongo: connection reset")
	_, err = f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball"})
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestRetrievalErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball", NumberOfDocuments: -1})
	assert.Equal(t, KindRetrieval, KindOf(err))

	f.embedder.vectors = map[string][]float32{"fireball": {1, 0}}
	_, err = f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball"})
	assert.Equal(t, KindRetrieval, KindOf(err))
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)

	f.embedder.err = errors.New("embedding quota exhausted")
	_, err = f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball"})
	assert.Equal(t, KindRetrieval, KindOf(err))
}

func TestComponentsNotReady(t *testing.T) {
	orch := New(nil, &axisEmbedder{}, nil, nil, Options{})
	_, err := orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "fireball"})
	assert.Equal(t, KindComponentsNotReady, KindOf(err))
}

func TestEmptyQueryIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Query(context.Background(), "u1", "srd1", models.QueryRequest{QueryText: "   "})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestSummarizeTruncates(t *testing.T) {
	s := summarize([]string{strings.Repeat("a", 600), strings.Repeat("b", 600)})
	assert.Len(t, s, summaryLimit)
	assert.True(t, strings.HasPrefix(s, strings.Repeat("a", 600)+"; "))
}
