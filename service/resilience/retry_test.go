package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetryStopsAfterMaxAttemptsOnRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", 3, time.Millisecond, func() error {
		calls++
		return errors.New("connection reset by peer")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryDoesNotRetryNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", 5, time.Millisecond, func() error {
		calls++
		return errors.New("validation failed: text exceeds 280 character limit")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetrySucceedsMidway(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("HTTP 503 service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := WithRetry(ctx, "test", 10, time.Minute, func() error {
		calls++
		return errors.New("request timed out")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("dial tcp: lookup api.twitter.com: no such host")))
	assert.True(t, IsRetryable(errors.New("platform returned HTTP 429: rate limit exceeded")))
	assert.True(t, IsRetryable(errors.New("HTTP 502 bad gateway")))
	assert.False(t, IsRetryable(errors.New("HTTP 401: token expired")))
	assert.False(t, IsRetryable(errors.New("HTTP 403: permission denied")))
	assert.False(t, IsRetryable(nil))
}

func TestJitterSpansFullDelay(t *testing.T) {
	delay := 100 * time.Millisecond
	sawUpperHalf := false
	for i := 0; i < 200; i++ {
		j := jitterFor(delay)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, delay)
		if j >= delay/2 {
			sawUpperHalf = true
		}
	}
	assert.True(t, sawUpperHalf)
	assert.Equal(t, time.Duration(0), jitterFor(0))
}

func TestWithRetryJitterStillBoundsAttempts(t *testing.T) {
	calls := 0
	err := WithRetryJitter(context.Background(), "test", 2, time.Millisecond, func() error {
		calls++
		return errors.New("broken pipe")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
