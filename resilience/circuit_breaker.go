package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// circuit from CLOSED to OPEN. An interleaved success clears the streak.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays OPEN before the next call
	// attempt is admitted as a HALF_OPEN trial. The transition is checked
	// lazily on that attempt, not by a timer.
	OpenTimeout time.Duration

	// SuccessThreshold is the number of consecutive trial successes in
	// HALF_OPEN needed to close the circuit. Trials are admitted one at a
	// time either way.
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns a default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 1,
	}
}

func (c CircuitBreakerConfig) normalized() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	return c
}

// CircuitBreaker sheds load from a known-failing dependency: after
// FailureThreshold consecutive failures every call is rejected immediately
// with ErrCircuitOpen until OpenTimeout elapses, after which a single trial
// call probes whether the dependency recovered.
//
// One instance guards one call-site (typically one cloud provider) and is
// shared by all goroutines hitting that provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trial     bool // a HALF_OPEN probe is in flight
	openedAt  time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given
// configuration. Zero config fields take defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.normalized(),
		state: StateClosed,
	}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the circuit is OPEN (and the timeout has not elapsed) or when a HALF_OPEN
// trial is already in flight. A nil return in HALF_OPEN claims the trial
// slot; the caller must follow up with RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateClosed:
		return nil
	case StateOpen:
		return ErrCircuitOpen
	default: // StateHalfOpen
		if cb.trial {
			return ErrCircuitOpen
		}
		cb.trial = true
		return nil
	}
}

// RecordSuccess reports that a call admitted by Allow succeeded. In CLOSED
// it clears the consecutive-failure streak; in HALF_OPEN it counts toward
// closing the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.trial = false
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.toClosedLocked()
		}
	}
}

// RecordFailure reports that a call admitted by Allow failed. In CLOSED it
// advances the streak and may trip the circuit; in HALF_OPEN the failed
// trial reopens the circuit and re-arms the timeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.toOpenLocked()
		}
	case StateHalfOpen:
		cb.trial = false
		cb.toOpenLocked()
	}
}

// Execute wraps a call with Allow/Record bookkeeping.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current state, applying the lazy OPEN to HALF_OPEN
// transition if the timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually returns the circuit breaker to CLOSED.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toClosedLocked()
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.trial = false
	}
	return cb.state
}

func (cb *CircuitBreaker) toOpenLocked() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.successes = 0
}

func (cb *CircuitBreaker) toClosedLocked() {
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.trial = false
}
