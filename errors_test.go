package cortex

import (
	"errors"
	"fmt"
	"testing"
)

func TestBackendTransientErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	err := &BackendTransientError{Op: "StoreMemory", Err: inner}

	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to unwrap to inner error")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestLLMErrorUnwrap(t *testing.T) {
	inner := errors.New("rate limited")
	err := &LLMError{Provider: "gemini", Err: inner}

	var target *LLMError
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to match *LLMError")
	}
	if target.Provider != "gemini" {
		t.Fatalf("provider = %q, want gemini", target.Provider)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "memorySpaceId", Message: "required"}
	want := "validation: memorySpaceId: required"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCircularSupersedeError(t *testing.T) {
	err := &CircularSupersedeError{FactID: "fact-1"}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error string")
	}
}
