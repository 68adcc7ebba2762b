package envelope

import (
	"context"
	"log/slog"
)

// Envelope is the resilience wrapper (C1): every externally observable
// operation routes through Do, which enforces the fixed gate order from
// priority classification, circuit-breaker gate, semaphore acquire,
// token-bucket wait, execute, release, record outcome.
type Envelope struct {
	breaker   *CircuitBreaker
	semaphore *Semaphore
	bucket    *TokenBucket
	logger    *slog.Logger
}

// Option configures an Envelope.
type Option func(*Envelope)

// WithCircuitBreaker sets the circuit breaker. Defaults to one with spec
// defaults (NewCircuitBreaker()).
func WithCircuitBreaker(b *CircuitBreaker) Option {
	return func(e *Envelope) { e.breaker = b }
}

// WithSemaphore sets the concurrency semaphore. Defaults to NewSemaphore(16, 0).
func WithSemaphore(s *Semaphore) Option {
	return func(e *Envelope) { e.semaphore = s }
}

// WithTokenBucket sets the rate limiter. Defaults to NewTokenBucket(100, 200, 0).
func WithTokenBucket(b *TokenBucket) Option {
	return func(e *Envelope) { e.bucket = b }
}

// WithLogger sets the structured logger. Defaults to a discard handler.
func WithLogger(l *slog.Logger) Option {
	return func(e *Envelope) { e.logger = l }
}

// New builds an Envelope with spec-default gates unless overridden.
func New(opts ...Option) *Envelope {
	e := &Envelope{
		breaker:   NewCircuitBreaker(),
		semaphore: NewSemaphore(16, 0),
		bucket:    NewTokenBucket(100, 200, 0),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs fn under the full gate sequence for the named operation. The
// operation's priority is derived from opName via Classify. Critical
// operations bypass the circuit breaker's open state and the rate limiter,
// but still count against the concurrency ceiling.
func (e *Envelope) Do(ctx context.Context, opName string, fn func(ctx context.Context) error) error {
	p := Classify(opName)

	if ok, retryAfter := e.breaker.Allow(p); !ok {
		e.logger.Warn("circuit open", "op", opName, "retryAfter", retryAfter)
		return &CircuitOpenError{Op: opName, RetryAfter: retryAfter}
	}

	release, err := e.semaphore.Acquire(ctx, p, opName)
	if err != nil {
		e.logger.Warn("concurrency gate rejected", "op", opName, "priority", p.String(), "err", err)
		return err
	}
	defer release()

	if p != Critical {
		if err := e.bucket.Wait(ctx, opName); err != nil {
			return err
		}
	}

	err = fn(ctx)
	if err != nil {
		e.breaker.RecordFailure()
		e.logger.Error("operation failed", "op", opName, "err", err)
		return err
	}
	e.breaker.RecordSuccess()
	return nil
}

// Metrics exposes the circuit breaker's metrics for observability wiring.
func (e *Envelope) Metrics() CircuitBreakerMetrics {
	return e.breaker.Metrics()
}
