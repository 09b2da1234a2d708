package ai

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) ModelName() string { return "test-model" }

func TestCachedEmbedderReusesVectors(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 2)

	v1, err := cached.Embed(context.Background(), "fireball")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "fireball")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "test-model", cached.ModelName())

	_, _ = cached.Embed(context.Background(), "a")
	_, _ = cached.Embed(context.Background(), "b")
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("boom")}
	cached := NewCachedEmbedder(inner, 0)

	_, err := cached.Embed(context.Background(), "q")
	assert.Error(t, err)
	_, err = cached.Embed(context.Background(), "q")
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, cached.Len())
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return classify(&googleapi.Error{Code: http.StatusBadRequest})
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesRateLimits(t *testing.T) {
	retryInitialInterval = time.Millisecond
	retryMaxInterval = 2 * time.Millisecond
	t.Cleanup(func() {
		retryInitialInterval = 500 * time.Millisecond
		retryMaxInterval = 10 * time.Second
	})

	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return classify(&googleapi.Error{Code: http.StatusTooManyRequests})
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTokenCounterLimits(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tc := NewTokenCounter(RateLimits{RPM: 2, TPM: 100, RPD: 3})
	tc.now = func() time.Time { return now }

	assert.True(t, tc.CanConsume(50, 1))
	tc.RecordUsage(50, 1)
	assert.False(t, tc.CanConsume(60, 1), "token budget exceeded")
	tc.RecordUsage(10, 1)
	assert.False(t, tc.CanConsume(1, 1), "request budget exceeded")

	now = now.Add(time.Minute)
	assert.True(t, tc.CanConsume(1, 1))
	tc.RecordUsage(1, 1)
	assert.False(t, tc.CanConsume(1, 1), "daily budget exceeded")
}

func TestGetRateLimits(t *testing.T) {
	assert.Equal(t, 10, getRateLimits("free").RPM)
	assert.Equal(t, 1000, getRateLimits("tier1").RPM)
	assert.Equal(t, 10, getRateLimits("unknown").RPM)
}
