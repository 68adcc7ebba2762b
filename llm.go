package cortex

import (
	"context"
	"encoding/json"
)

// ChatMessage is a single turn in an LLM chat request, following the
// role-tagged message shape used throughout the ecosystem.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseSchema tells the provider to enforce structured JSON output.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// ChatOptions configures a single LLMProvider.Chat call.
type ChatOptions struct {
	Model       string
	Schema      *ResponseSchema
	Temperature float64
}

// LLMProvider abstracts the optional LLM used for fact extraction (C6 step 4)
// and belief-revision Stage-3 adjudication (C4). The core never hard-codes a
// provider; when none is configured, fact extraction is skipped and Stage 3
// falls back to the deterministic policy in reviseBelief (belief.go):
// supersede on a slot conflict, create otherwise.
type LLMProvider interface {
	// Chat sends messages and returns a response conforming to opts.Schema
	// when one is supplied.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)
	// Name returns the provider name, used in LLMError.
	Name() string
}

func chat(ctx context.Context, p LLMProvider, messages []ChatMessage, opts ChatOptions) (string, error) {
	if p == nil {
		return "", nil
	}
	out, err := p.Chat(ctx, messages, opts)
	if err != nil {
		return "", &LLMError{Provider: p.Name(), Err: err}
	}
	return out, nil
}
