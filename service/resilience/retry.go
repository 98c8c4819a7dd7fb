package resilience

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"log"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 2 * time.Second
	maxDelay            = 30 * time.Second
)

// retryablePatterns identifies transient failures worth retrying.
// Matching is case-insensitive substring over the error text, which
// lets platform errors carry their HTTP status and code inline.
var retryablePatterns = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"no such host",
	"temporary failure",
	"rate limit",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
	"eof",
	"broken pipe",
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry runs op up to maxAttempts times with exponential backoff,
// doubling the delay each attempt up to a 30s cap. Non-retryable
// errors and context cancellation abort immediately.
func WithRetry(ctx context.Context, correlationId string, maxAttempts int, initialDelay time.Duration,
	op func() error) error {
	return withRetryInternal(ctx, correlationId, maxAttempts, initialDelay, false, op)
}

// WithRetryJitter behaves like WithRetry with a random [0, delay)
// component added to each sleep, spreading concurrent retries apart.
func WithRetryJitter(ctx context.Context, correlationId string, maxAttempts int, initialDelay time.Duration,
	op func() error) error {
	return withRetryInternal(ctx, correlationId, maxAttempts, initialDelay, true, op)
}

// jitterFor draws a random duration in [0, delay).
func jitterFor(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

func withRetryInternal(ctx context.Context, correlationId string, maxAttempts int, initialDelay time.Duration,
	jitter bool, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialDelay < 0 {
		initialDelay = DefaultInitialDelay
	}
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			log.Printf("correlationID: %s non-retryable error on attempt %d: %s", correlationId, attempt, lastErr)
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		sleep := delay
		if jitter {
			sleep += jitterFor(delay)
		}
		log.Printf("correlationID: %s retryable error on attempt %d, sleeping %s: %s",
			correlationId, attempt, sleep, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	log.Printf("correlationID: %s exhausted %d attempts: %s", correlationId, maxAttempts, lastErr)
	return lastErr
}
