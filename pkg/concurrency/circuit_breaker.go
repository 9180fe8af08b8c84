package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed allows work through
	StateClosed CircuitBreakerState = iota

	// StateOpen refuses work until the reset timeout elapses
	StateOpen

	// StateHalfOpen lets work through on probation
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// halfOpenSuccesses is the number of consecutive successes that close a half-open circuit
const halfOpenSuccesses = 5

// CircuitBreaker stops a limiter from handing out slots while callbacks keep failing
type CircuitBreaker struct {
	state                atomic.Int32
	consecutiveFailures  atomic.Int64
	consecutiveSuccesses atomic.Int64
	lastFailureTime      atomic.Int64 // unix nano
	failureThreshold     int64
	resetTimeout         time.Duration
	mu                   sync.Mutex
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// IsOpen reports whether work is currently refused.
// An open breaker whose reset timeout has elapsed moves to half-open.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb.GetState() != StateOpen {
		return false
	}

	lastFailure := cb.lastFailureTime.Load()
	if lastFailure > 0 && time.Since(time.Unix(0, lastFailure)) > cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecutiveFailures.Store(0)

	if cb.GetState() == StateHalfOpen {
		if cb.consecutiveSuccesses.Add(1) >= halfOpenSuccesses {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	state := cb.GetState()

	cb.consecutiveSuccesses.Store(0)
	cb.lastFailureTime.Store(time.Now().UnixNano())
	failures := cb.consecutiveFailures.Add(1)

	switch {
	case state == StateClosed && failures >= cb.failureThreshold:
		cb.transitionTo(StateOpen)
	case state == StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// GetConsecutiveFailures returns the current number of consecutive failures
func (cb *CircuitBreaker) GetConsecutiveFailures() int64 {
	return cb.consecutiveFailures.Load()
}

// Reset closes the circuit and clears all counters
func (cb *CircuitBreaker) Reset() {
	cb.transitionTo(StateClosed)
	cb.consecutiveFailures.Store(0)
	cb.consecutiveSuccesses.Store(0)
	cb.lastFailureTime.Store(0)
}

func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.GetState() == newState {
		return
	}
	cb.state.Store(int32(newState))

	switch newState {
	case StateClosed:
		cb.consecutiveFailures.Store(0)
		cb.consecutiveSuccesses.Store(0)
	case StateHalfOpen:
		cb.consecutiveSuccesses.Store(0)
	}
}
