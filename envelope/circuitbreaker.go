package envelope

import (
	"sync"
	"time"
)

// CircuitState is one of the three circuit-breaker states.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerMetrics is a snapshot of CircuitBreaker's exposed metrics.
type CircuitBreakerMetrics struct {
	State               CircuitState
	ConsecutiveFailures int
	LastFailureAt       time.Time
	LastStateChangeAt   time.Time
	TotalOpens          int
}

// CircuitBreaker gates calls to a backend that may be failing, tracking
// closed/open/half-open state with consecutive-failure and consecutive-
// success thresholds.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	halfOpenMax      int
	timeout          time.Duration

	state               CircuitState
	consecutiveFailures int
	halfOpenInFlight    int
	halfOpenSuccesses   int
	lastFailureAt       time.Time
	lastStateChangeAt   time.Time
	totalOpens          int

	onOpen     func()
	onClose    func()
	onHalfOpen func()
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

func WithFailureThreshold(n int) CircuitBreakerOption {
	return func(b *CircuitBreaker) { b.failureThreshold = n }
}
func WithSuccessThreshold(n int) CircuitBreakerOption {
	return func(b *CircuitBreaker) { b.successThreshold = n }
}
func WithHalfOpenMax(n int) CircuitBreakerOption {
	return func(b *CircuitBreaker) { b.halfOpenMax = n }
}
func WithTimeout(d time.Duration) CircuitBreakerOption {
	return func(b *CircuitBreaker) { b.timeout = d }
}
func WithOnOpen(fn func()) CircuitBreakerOption     { return func(b *CircuitBreaker) { b.onOpen = fn } }
func WithOnClose(fn func()) CircuitBreakerOption    { return func(b *CircuitBreaker) { b.onClose = fn } }
func WithOnHalfOpen(fn func()) CircuitBreakerOption { return func(b *CircuitBreaker) { b.onHalfOpen = fn } }

// NewCircuitBreaker creates a CircuitBreaker with spec defaults
// (failureThreshold 5, successThreshold 2, halfOpenMax 3, timeout 60s).
func NewCircuitBreaker(opts ...CircuitBreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		failureThreshold:  5,
		successThreshold:  2,
		halfOpenMax:       3,
		timeout:           60 * time.Second,
		state:             Closed,
		lastStateChangeAt: time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call of the given priority may proceed, and if
// not, the remaining time until the circuit becomes half-open. Critical
// calls always bypass the breaker.
func (b *CircuitBreaker) Allow(p Priority) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p == Critical {
		return true, 0
	}

	switch b.state {
	case Closed:
		return true, 0
	case Open:
		elapsed := time.Since(b.lastStateChangeAt)
		if elapsed >= b.timeout {
			b.transitionLocked(HalfOpen)
			b.halfOpenInFlight = 1
			return true, 0
		}
		return false, b.timeout - elapsed
	case HalfOpen:
		if b.halfOpenInFlight < b.halfOpenMax {
			b.halfOpenInFlight++
			return true, 0
		}
		return false, b.timeout
	}
	return true, 0
}

// RecordSuccess reports a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.successThreshold {
			b.transitionLocked(Closed)
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			b.halfOpenInFlight = 0
		}
	case Closed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure reports a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = time.Now()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccesses = 0
		b.halfOpenInFlight = 0
		b.transitionLocked(Open)
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.transitionLocked(Open)
		}
	}
}

// transitionLocked moves to newState and fires the matching callback.
// Caller must hold b.mu. Transitions into the same state are a no-op.
func (b *CircuitBreaker) transitionLocked(newState CircuitState) {
	if b.state == newState {
		return
	}
	b.state = newState
	b.lastStateChangeAt = time.Now()
	if newState == Open {
		b.totalOpens++
	}
	var cb func()
	switch newState {
	case Open:
		cb = b.onOpen
	case Closed:
		cb = b.onClose
	case HalfOpen:
		cb = b.onHalfOpen
	}
	if cb != nil {
		cb()
	}
}

// Metrics returns a snapshot of the breaker's current state.
func (b *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitBreakerMetrics{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		LastStateChangeAt:   b.lastStateChangeAt,
		TotalOpens:          b.totalOpens,
	}
}
