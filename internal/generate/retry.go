package generate

import (
	"context"
	"time"
)

// retryClient retries transient failures with doubling backoff. Hard errors
// and context cancellation return immediately.
type retryClient struct {
	inner       Client
	maxAttempts int
	backoffBase time.Duration
}

// WithRetry wraps c so transient failures are retried up to maxAttempts total
// attempts, sleeping backoffBase, 2*backoffBase, ... between tries.
func WithRetry(c Client, maxAttempts int, backoffBase time.Duration) Client {
	if maxAttempts <= 1 {
		return c
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &retryClient{inner: c, maxAttempts: maxAttempts, backoffBase: backoffBase}
}

func (r *retryClient) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	delay := r.backoffBase
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		out, err := r.inner.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}
