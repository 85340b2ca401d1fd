package invoker

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all requests through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all requests immediately.
	BreakerOpen
	// BreakerHalfOpen lets trial requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// minErrorRateSamples is the minimum number of calls in a window before the
// error rate threshold applies.
const minErrorRateSamples = 10

// BreakerSettings holds the thresholds of a CircuitBreaker. Zero values
// fall back to 5 failures, 2 successes and a 30s open period. A zero
// ErrorRateThreshold or ErrorRateWindow disables rate-based tripping.
type BreakerSettings struct {
	FailureThreshold   int
	SuccessThreshold   int
	Timeout            time.Duration
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration
}

// CircuitBreaker guards the collaborator backend. It trips from Closed to
// Open on consecutive failures or on the error rate within a tumbling
// window, and tests recovery through HalfOpen after the open period. It is
// safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerSettings
	now      func() time.Time
	onChange func(BreakerState)

	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int
}

// NewCircuitBreaker creates a closed breaker. onChange, if set, is called
// with every new state while the breaker lock is held, so it must not call
// back into the breaker.
func NewCircuitBreaker(cfg BreakerSettings, onChange func(BreakerState)) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cb := &CircuitBreaker{
		cfg:      cfg,
		now:      time.Now,
		onChange: onChange,
		state:    BreakerClosed,
	}
	cb.windowStart = cb.now()
	return cb
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(s)
	}
}

// expire moves an open breaker to half-open once the open period passed.
// Must be called with lock held.
func (cb *CircuitBreaker) expire() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.cfg.Timeout {
		cb.successes = 0
		cb.setState(BreakerHalfOpen)
	}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expire()
	if cb.state == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.resetWindow()
			cb.setState(BreakerClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.cfg.FailureThreshold || cb.errorRateExceeded() {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.successes = 0
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.resetWindow()
	cb.setState(BreakerOpen)
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expire()
	return cb.state
}

// ErrorRate returns the error rate and call count of the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeResetWindow()
	if cb.windowTotal == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowTotal), cb.windowTotal
}

func (cb *CircuitBreaker) recordWindowCall(isFailure bool) {
	if cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	cb.maybeResetWindow()
	cb.windowTotal++
	if isFailure {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) maybeResetWindow() {
	if cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	if cb.now().Sub(cb.windowStart) > cb.cfg.ErrorRateWindow {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.cfg.ErrorRateThreshold <= 0 || cb.cfg.ErrorRateWindow <= 0 {
		return false
	}
	if cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.cfg.ErrorRateThreshold
}
