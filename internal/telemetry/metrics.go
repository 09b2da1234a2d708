package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	TokensUsed          metric.Int64Counter
	IndexingDuration    metric.Float64Histogram
	IndexCacheEvents    metric.Int64Counter
	AnswerCacheEvents   metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	QueryOutcomes       metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("arcane-scribe")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"generation.tokens.used",
		metric.WithDescription("Total generation tokens used"),
	)
	if err != nil {
		return nil, err
	}

	indexingDuration, err := meter.Float64Histogram(
		"document.indexing.duration",
		metric.WithDescription("Document indexing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	indexCacheEvents, err := meter.Int64Counter(
		"index_cache.events",
		metric.WithDescription("Tenant index cache hits, misses and evictions"),
	)
	if err != nil {
		return nil, err
	}

	answerCacheEvents, err := meter.Int64Counter(
		"answer_cache.events",
		metric.WithDescription("Answer cache hits, misses and errors"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	queryOutcomes, err := meter.Int64Counter(
		"query.outcomes",
		metric.WithDescription("Query results by source or error kind"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		TokensUsed:          tokensUsed,
		IndexingDuration:    indexingDuration,
		IndexCacheEvents:    indexCacheEvents,
		AnswerCacheEvents:   answerCacheEvents,
		CircuitBreakerState: circuitBreakerState,
		QueryOutcomes:       queryOutcomes,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

// RecordTokensUsed records generation token usage
func (m *Metrics) RecordTokensUsed(tokens int64, model string) {
	if m == nil {
		return
	}
	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(attribute.String("model", model)))
}

// RecordIndexing records document indexing duration by final status
func (m *Metrics) RecordIndexing(duration float64, status string) {
	if m == nil {
		return
	}
	m.IndexingDuration.Record(context.Background(), duration, metric.WithAttributes(attribute.String("document.status", status)))
}

// RecordIndexCache records hit, miss or evict
func (m *Metrics) RecordIndexCache(event string) {
	if m == nil {
		return
	}
	m.IndexCacheEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordAnswerCache records hit, miss, error or store
func (m *Metrics) RecordAnswerCache(event string) {
	if m == nil {
		return
	}
	m.AnswerCacheEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}

// RecordQueryOutcome records the answer source or error kind of a query
func (m *Metrics) RecordQueryOutcome(outcome string) {
	if m == nil {
		return
	}
	m.QueryOutcomes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
