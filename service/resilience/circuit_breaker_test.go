package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("HTTP 500 internal error")

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	b := NewCircuitBreaker("test", 3, time.Minute, 2)
	b.now = clock.Now
	return b
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time { return c.current }

func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func failOnce(b *CircuitBreaker) error {
	return b.Execute(func() error { return errDownstream })
}

func succeedOnce(b *CircuitBreaker) error {
	return b.Execute(func() error { return nil })
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		assert.Equal(t, STATE_CLOSED, b.State())
		require.Error(t, failOnce(b))
	}
	assert.Equal(t, STATE_OPEN, b.State())

	err := succeedOnce(b)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerHalfOpensAfterTimeoutAndCloses(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		failOnce(b)
	}
	require.Equal(t, STATE_OPEN, b.State())

	clock.Advance(61 * time.Second)
	assert.Equal(t, STATE_HALF_OPEN, b.State())

	require.NoError(t, succeedOnce(b))
	assert.Equal(t, STATE_HALF_OPEN, b.State())
	require.NoError(t, succeedOnce(b))
	assert.Equal(t, STATE_CLOSED, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		failOnce(b)
	}
	clock.Advance(61 * time.Second)
	require.Equal(t, STATE_HALF_OPEN, b.State())

	require.NoError(t, succeedOnce(b))
	require.Error(t, failOnce(b))
	assert.Equal(t, STATE_OPEN, b.State())

	// A fresh timeout must elapse before the next probe window.
	clock.Advance(30 * time.Second)
	assert.Equal(t, STATE_OPEN, b.State())
	clock.Advance(31 * time.Second)
	assert.Equal(t, STATE_HALF_OPEN, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)

	failOnce(b)
	failOnce(b)
	succeedOnce(b)
	failOnce(b)
	failOnce(b)
	assert.Equal(t, STATE_CLOSED, b.State())
	failOnce(b)
	assert.Equal(t, STATE_OPEN, b.State())
}

func TestBreakerOpenRejectsWithoutInvokingOp(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		failOnce(b)
	}
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}
