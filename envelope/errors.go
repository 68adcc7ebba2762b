package envelope

import (
	"fmt"
	"time"
)

// RateLimitedError is returned when a non-critical operation could not
// obtain a token-bucket token within the bounded wait.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Op, e.RetryAfter)
}

// ConcurrencyTimeoutError is returned when the priority semaphore could not
// admit the operation before its acquire deadline.
type ConcurrencyTimeoutError struct {
	Op       string
	Priority Priority
}

func (e *ConcurrencyTimeoutError) Error() string {
	return fmt.Sprintf("concurrency timeout: %s (priority %s)", e.Op, e.Priority)
}

// CircuitOpenError is returned when the circuit breaker is open and the
// operation's priority does not bypass it.
type CircuitOpenError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: %s (retry after %s)", e.Op, e.RetryAfter)
}
