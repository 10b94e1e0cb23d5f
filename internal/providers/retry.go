package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig bounds provider-level retries.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the standard provider retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   4 * time.Second,
	}
}

// HTTPStatusError is a non-2xx provider response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient condition.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryDo runs fn with exponential backoff on transient failures. Context
// errors and non-retryable HTTP statuses abort immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var err error

	delay := cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		var result T
		result, err = fn()
		if err == nil {
			return result, nil
		}

		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return zero, err
		}
		if ctx.Err() != nil || attempt >= cfg.MaxRetries {
			return zero, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
