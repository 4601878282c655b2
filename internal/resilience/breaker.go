// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's current position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateChangeFunc is notified on every state transition.
type StateChangeFunc func(name string, from, to State)

// Breaker implements a circuit breaker for protecting external calls.
// CLOSED opens after failureThreshold consecutive failures; OPEN lazily
// becomes HALF_OPEN once timeout has elapsed since the last failure;
// HALF_OPEN closes after successThreshold consecutive successes and
// reopens on any single failure. While HALF_OPEN, exactly one probe call
// is admitted at a time regardless of concurrent callers.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailure      time.Time
	probing          bool
	onChange         StateChangeFunc
	now              func() time.Time // for testing
}

// NewBreaker creates a circuit breaker for the named dependency.
func NewBreaker(name string, failureThreshold, successThreshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// OnStateChange registers a notification hook for state transitions.
// The hook is invoked outside the breaker lock.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a call may proceed. Callers that receive false
// must fail fast with ErrCircuitOpen and must not record an outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.timeout {
			b.transition(StateHalfOpen)
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		// One probe in flight at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.successes = 0
	case StateOpen:
		// Stale outcome from a call admitted before the trip; ignore.
	}
}

// RecordFailure records a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	b.probing = false
	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.failureThreshold) {
		b.transition(StateOpen)
	}
}

// Execute runs fn if the breaker admits the call and records its outcome.
// Returns ErrCircuitOpen without invoking fn when the call is rejected.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// Reset manually returns the breaker to CLOSED, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.successes = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// State returns the breaker's current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateHalfOpen || to == StateClosed {
		b.successes = 0
	}

	slog.Info("circuit breaker state change", "breaker", b.name, "from", from.String(), "to", to.String())

	if b.onChange != nil {
		fn, name := b.onChange, b.name
		go fn(name, from, to)
	}
}
