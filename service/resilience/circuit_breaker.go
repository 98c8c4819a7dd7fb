package resilience

import (
	"errors"
	"sync"
	"time"

	"log"
)

type BreakerState string

const (
	STATE_CLOSED    BreakerState = "CLOSED"
	STATE_OPEN      BreakerState = "OPEN"
	STATE_HALF_OPEN BreakerState = "HALF_OPEN"
)

var ErrBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards one downstream platform. Consecutive failures
// trip it OPEN, rejecting calls until the reset timeout elapses. It
// then admits probe calls in HALF_OPEN, closing again only after
// enough consecutive probe successes. Any half-open failure re-opens.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	successThreshold int

	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	successCount     int
	openedAt         time.Time
	now              func() time.Time
}

func NewCircuitBreaker(name string, failureThreshold int, resetTimeout time.Duration,
	successThreshold int) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		successThreshold: successThreshold,
		state:            STATE_CLOSED,
		now:              time.Now,
	}
}

// Execute runs op under breaker admission. Rejected calls return
// ErrBreakerOpen without invoking op.
func (b *CircuitBreaker) Execute(op func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := op()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != STATE_OPEN
}

// stateLocked resolves the effective state, applying the OPEN to
// HALF_OPEN transition when the reset timeout has elapsed.
func (b *CircuitBreaker) stateLocked() BreakerState {
	if b.state == STATE_OPEN && b.now().Sub(b.openedAt) >= b.resetTimeout {
		b.state = STATE_HALF_OPEN
		b.successCount = 0
		log.Printf("breaker %s: OPEN -> HALF_OPEN after reset timeout", b.name)
	}
	return b.state
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case STATE_HALF_OPEN:
		b.trip()
	case STATE_CLOSED:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case STATE_HALF_OPEN:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = STATE_CLOSED
			b.failureCount = 0
			b.successCount = 0
			log.Printf("breaker %s: HALF_OPEN -> CLOSED", b.name)
		}
	case STATE_CLOSED:
		b.failureCount = 0
	}
}

func (b *CircuitBreaker) trip() {
	b.state = STATE_OPEN
	b.openedAt = b.now()
	b.failureCount = 0
	b.successCount = 0
	log.Printf("breaker %s: tripped OPEN", b.name)
}
