package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"
)

// HTTPError is a non-2xx response from a provider API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // zero when the server sent no hint
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider error (%d): %s", e.Status, e.Body)
}

// Retryable reports whether the request may be retried: rate limits and
// server-side failures, never client errors.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter interprets a Retry-After header value as either seconds or
// an HTTP date. Zero means no usable hint.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryConfig bounds the retry loop around provider calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryDo runs fn with exponential backoff. Only retryable HTTP errors are
// retried; a Retry-After hint overrides the computed backoff.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay << (attempt - 1)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			// Jitter spreads concurrent clients apart.
			delay += time.Duration(rand.Int63n(int64(delay) / 4))

			var httpErr *HTTPError
			if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > 0 {
				delay = httpErr.RetryAfter
			}
			slog.Debug("providers: retrying request", "attempt", attempt, "delay", delay)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if !httpErr.Retryable() {
				return zero, err
			}
			continue
		}
		if ctx.Err() != nil {
			return zero, err
		}
		// Network-level failures are worth one more attempt.
	}
	return zero, lastErr
}
