package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls how failed LLM calls are retried.
type RetryConfig struct {
	Attempts int           // total tries, including the first
	MinDelay time.Duration // first backoff
	MaxDelay time.Duration // backoff cap, also caps Retry-After
	Jitter   float64       // 0..1 fraction added on top of each delay
}

// DefaultRetryConfig retries three times with exponential backoff from 300ms to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		MinDelay: 300 * time.Millisecond,
		MaxDelay: 30 * time.Second,
		Jitter:   0.1,
	}
}

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// IsRetryableError reports whether err is worth another attempt:
// rate limits, server errors and transport failures.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= 500
	}
	return true
}

// ParseRetryAfter reads a Retry-After header given in seconds. Returns 0 when absent or invalid.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryDo calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == cfg.Attempts || !IsRetryableError(err) {
			break
		}

		delay := backoff(cfg, attempt, err)
		slog.Debug("provider: retrying", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func backoff(cfg RetryConfig, attempt int, err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return min(httpErr.RetryAfter, cfg.MaxDelay)
	}
	delay := cfg.MinDelay << (attempt - 1)
	if delay <= 0 || delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		delay += time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
	}
	return delay
}
