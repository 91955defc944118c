package monitor

import (
	"sync"
	"time"

	"github.com/homereach/leadpilot/internal/pkg/clock"
)

// BreakerState is the circuit breaker lifecycle position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	defaultFailureThreshold = 5
	defaultOpenBackoff      = 30 * time.Second
)

// CircuitBreaker gates calls to one named resource. Closed by default;
// opens after a run of consecutive failures; after the backoff a single
// half-open probe decides whether it closes again. Satisfies the
// pipeline's Breaker interface.
type CircuitBreaker struct {
	resource  string
	clk       clock.Clock
	threshold int
	backoff   time.Duration
	onTrip    func(resource string)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker builds a breaker. threshold and backoff fall back
// to the defaults when zero; onTrip may be nil.
func NewCircuitBreaker(resource string, clk clock.Clock, threshold int, backoff time.Duration, onTrip func(string)) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if backoff <= 0 {
		backoff = defaultOpenBackoff
	}
	return &CircuitBreaker{
		resource:  resource,
		clk:       clk,
		threshold: threshold,
		backoff:   backoff,
		onTrip:    onTrip,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While open it admits
// nothing until the backoff elapses, then exactly one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.clk.Now().Sub(cb.openedAt) < cb.backoff {
			return false
		}
		cb.state = BreakerHalfOpen
		cb.probing = true
		return true
	default: // half-open
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probing = false
}

// RecordFailure extends the failure run; at the threshold, or on a
// failed half-open probe, the breaker opens.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failures++
	tripped := false
	if cb.state == BreakerHalfOpen || (cb.state == BreakerClosed && cb.failures >= cb.threshold) {
		cb.state = BreakerOpen
		cb.openedAt = cb.clk.Now()
		cb.probing = false
		tripped = true
	}
	onTrip := cb.onTrip
	cb.mu.Unlock()

	if tripped && onTrip != nil {
		onTrip(cb.resource)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
