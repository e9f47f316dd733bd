// Package resilience wraps every tiered-memory operation with a circuit
// breaker, a bounded-retry executor, a dead-letter queue for items that
// exhaust their retries, and health/metrics reporting. The breaker and
// the dead-letter queue are process-wide shared state on purpose: they
// describe the health of the dependency, not of any individual caller.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is open and calls fail fast
// without touching the underlying dependency.
var ErrOpen = errors.New("circuit breaker open")

// State of the circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is the per-operation-group fault-tolerance state machine:
// CLOSED trips to OPEN after failureThreshold consecutive failures; after
// cooldown the next call probes in HALF_OPEN; successThreshold
// consecutive successes close it again, and any HALF_OPEN failure
// reopens it and restarts the cooldown. HALF_OPEN admits one trial call
// at a time: further callers are rejected until the trial's outcome is
// recorded, so a recovering dependency never sees a thundering herd.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	trialInFlight       bool
	openedAt            time.Time
}

// NewBreaker builds a closed breaker. Zero-value thresholds fall back
// to 5 failures to open, 60s cooldown, 3 successes to close.
func NewBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed. An OPEN breaker whose
// cooldown has elapsed transitions to HALF_OPEN and lets the call
// through as the trial; while a trial's outcome is pending, further
// HALF_OPEN callers are rejected with ErrOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess feeds a successful call into the state machine.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.successThreshold {
			b.state = StateClosed
			b.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure feeds a failed call into the state machine. Any failure
// in HALF_OPEN reopens immediately and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.trialInFlight = false
		b.openedAt = time.Now()
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}

// releaseTrial frees an admitted HALF_OPEN trial without a verdict. Used
// when a call is cancelled by its caller: cancellation says nothing about
// the dependency, but the trial slot must not stay latched.
func (b *Breaker) releaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
