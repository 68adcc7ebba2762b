package cortex

import "fmt"

// These are not exhaustive types — callers dispatch on them with errors.As,
// and the envelope package defines its own kinds for its gate rejections
// (RateLimitedError, CircuitOpenError, ConcurrencyTimeoutError).

// ValidationError is raised for a malformed id, missing required field, or
// out-of-range value. It never reaches the backend — validate before Do.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NotFoundError is raised when a lookup key is absent. The get operations for
// conversations, immutable and mutable records, contexts and memory spaces
// return it; GetMemory and GetFact return (nil, nil) for a missing id instead.
type NotFoundError struct {
	Collection string
	Key        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %s", e.Collection, e.Key)
}

// ConflictError is raised when an optimistic-concurrency compare-and-swap
// fails on a mutable record after exhausting retries.
type ConflictError struct {
	Namespace string
	Key       string
	Attempts  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s/%s after %d attempts", e.Namespace, e.Key, e.Attempts)
}

// BackendTransientError wraps a transient backend failure (network, 5xx,
// timeout). The envelope makes no retries; each backend call runs once.
type BackendTransientError struct {
	Op  string
	Err error
}

func (e *BackendTransientError) Error() string {
	return fmt.Sprintf("backend transient: %s: %v", e.Op, e.Err)
}

func (e *BackendTransientError) Unwrap() error { return e.Err }

// LLMError wraps a failure from the configured LLMProvider.
type LLMError struct {
	Provider string
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm(%s): %v", e.Provider, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// EmbeddingError wraps a failure from the configured EmbeddingProvider.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding(%s): %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// CircularSupersedeError is raised by the belief-revision pipeline when
// following a candidate's supersede chain would introduce a cycle. The write
// is refused; a factHistory SKIP/"cycle" event is recorded instead.
type CircularSupersedeError struct {
	FactID string
}

func (e *CircularSupersedeError) Error() string {
	return fmt.Sprintf("circular supersede chain detected at fact %s", e.FactID)
}

// GovernanceViolationError is raised when an operation would violate an
// active retention policy (e.g. deleting the current version of a record in
// a way that would leave the primary key inaccessible).
type GovernanceViolationError struct {
	Policy  string
	Message string
}

func (e *GovernanceViolationError) Error() string {
	return fmt.Sprintf("governance violation (%s): %s", e.Policy, e.Message)
}
