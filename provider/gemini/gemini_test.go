package gemini

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cortexmem/cortex"
)

func TestBuildBody_SystemMessages(t *testing.T) {
	c := New("test-key", "test-model")
	messages := []cortex.ChatMessage{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "system", Content: "Be concise."},
		{Role: "user", Content: "Hello"},
	}

	body, err := c.buildBody(messages, cortex.ChatOptions{})
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}

	si, ok := body["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatal("expected systemInstruction in body")
	}
	parts := si["parts"].([]map[string]any)
	if len(parts) != 1 || parts[0]["text"] != "You are a helpful assistant.\n\nBe concise." {
		t.Errorf("unexpected systemInstruction: %+v", parts)
	}

	contents := body["contents"].([]map[string]any)
	if len(contents) != 1 {
		t.Fatalf("expected 1 content entry (user only), got %d", len(contents))
	}
	if contents[0]["role"] != "user" {
		t.Errorf("expected role 'user', got %q", contents[0]["role"])
	}
}

func TestBuildBody_AssistantMapsToModel(t *testing.T) {
	c := New("test-key", "test-model")
	messages := []cortex.ChatMessage{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello!"},
	}

	body, err := c.buildBody(messages, cortex.ChatOptions{})
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}
	contents := body["contents"].([]map[string]any)
	if contents[1]["role"] != "model" {
		t.Errorf("expected assistant role mapped to 'model', got %q", contents[1]["role"])
	}
}

func TestBuildBody_NoSystemInstruction(t *testing.T) {
	c := New("test-key", "test-model")
	body, err := c.buildBody([]cortex.ChatMessage{{Role: "user", Content: "Hello"}}, cortex.ChatOptions{})
	if err != nil {
		t.Fatalf("buildBody returned error: %v", err)
	}
	if _, ok := body["systemInstruction"]; ok {
		t.Error("expected no systemInstruction when there are no system messages")
	}
}

func TestBuildBody_GenerationConfigDefaults(t *testing.T) {
	c := New("key", "model")
	body, err := c.buildBody([]cortex.ChatMessage{{Role: "user", Content: "hi"}}, cortex.ChatOptions{Temperature: 0.3})
	if err != nil {
		t.Fatalf("buildBody: %v", err)
	}
	gc := body["generationConfig"].(map[string]any)
	if gc["temperature"] != 0.3 {
		t.Errorf("temperature = %v, want 0.3", gc["temperature"])
	}
	if gc["topP"] != 0.9 {
		t.Errorf("topP = %v, want default 0.9", gc["topP"])
	}
}

func TestBuildBody_WithTopPOption(t *testing.T) {
	c := New("key", "model", WithTopP(0.5))
	body, err := c.buildBody([]cortex.ChatMessage{{Role: "user", Content: "hi"}}, cortex.ChatOptions{})
	if err != nil {
		t.Fatalf("buildBody: %v", err)
	}
	gc := body["generationConfig"].(map[string]any)
	if gc["topP"] != 0.5 {
		t.Errorf("topP = %v, want 0.5", gc["topP"])
	}
}

func TestBuildBody_SchemaSetsResponseMimeType(t *testing.T) {
	c := New("key", "model")
	schema := &cortex.ResponseSchema{Schema: json.RawMessage(`{"type":"object"}`)}
	body, err := c.buildBody([]cortex.ChatMessage{{Role: "user", Content: "hi"}}, cortex.ChatOptions{Schema: schema})
	if err != nil {
		t.Fatalf("buildBody: %v", err)
	}
	gc := body["generationConfig"].(map[string]any)
	if gc["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v, want application/json", gc["responseMimeType"])
	}
	if _, ok := gc["responseSchema"]; !ok {
		t.Error("expected responseSchema to be set")
	}
}

func TestMapRole(t *testing.T) {
	tests := []struct{ input, want string }{
		{"user", "user"},
		{"assistant", "model"},
		{"system", "system"},
	}
	for _, tt := range tests {
		if got := mapRole(tt.input); got != tt.want {
			t.Errorf("mapRole(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestHTTPErr_NoRetryInfo(t *testing.T) {
	err := httpErr(500, []byte(`{"error":{"message":"boom"}}`))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if statusErr.Status != 500 {
		t.Errorf("Status = %d, want 500", statusErr.Status)
	}
	if statusErr.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0", statusErr.RetryAfter)
	}
}

func TestHTTPErr_ParsesRetryDelay(t *testing.T) {
	body := []byte(`{
		"error": {
			"details": [
				{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "5s"}
			]
		}
	}`)
	err := httpErr(429, body)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if statusErr.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", statusErr.RetryAfter)
	}
}

func TestParseRetryInfo_MalformedBody(t *testing.T) {
	if d := parseRetryInfo([]byte("not json")); d != 0 {
		t.Errorf("parseRetryInfo(malformed) = %v, want 0", d)
	}
}

func TestNewEmbedding_Defaults(t *testing.T) {
	e := NewEmbedding("embed-key", "text-embedding-004", 768)
	if e.Name() != "gemini" {
		t.Errorf("Name() = %q, want gemini", e.Name())
	}
	if e.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", e.Dimensions())
	}
}
