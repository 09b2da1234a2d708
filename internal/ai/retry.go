package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
)

// Retry budget for transient provider errors.
var (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

func withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsed
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func permanent(err error) error {
	return backoff.Permanent(err)
}

// classify keeps rate limit and server errors retryable and marks everything else permanent.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && isRetryableStatus(apiErr.Code) {
		return err
	}
	return permanent(err)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
