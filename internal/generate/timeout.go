package generate

import (
	"context"
	"time"
)

// timeoutClient bounds each attempt. Wrap the inner client with WithTimeout
// before WithRetry so an expired attempt is classified transient and retried.
type timeoutClient struct {
	inner Client
	d     time.Duration
}

// WithTimeout bounds every Complete call to d. Zero or negative d disables it.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{inner: c, d: d}
}

func (t *timeoutClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	out, err := t.inner.Complete(ctx, req)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return "", &TransientError{Err: context.DeadlineExceeded}
	}
	return out, err
}
