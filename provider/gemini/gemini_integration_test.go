package gemini

import (
	"context"
	"os"
	"testing"

	"github.com/cortexmem/cortex"
)

func skipIfNoAPIKey(t *testing.T) string {
	t.Helper()
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}
	return key
}

func TestIntegration_Chat(t *testing.T) {
	key := skipIfNoAPIKey(t)
	c := New(key, "gemini-2.0-flash")

	resp, err := c.Chat(context.Background(), []cortex.ChatMessage{
		{Role: "user", Content: "Reply with exactly: hello"},
	}, cortex.ChatOptions{Temperature: 0.1})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp == "" {
		t.Fatal("expected non-empty response content")
	}
	t.Logf("response: %q", resp)
}

func TestIntegration_Embed(t *testing.T) {
	key := skipIfNoAPIKey(t)
	e := NewEmbedding(key, "text-embedding-004", 768)

	vecs, err := e.Embed(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 768 {
		t.Fatalf("got %d vectors, want 1 of length 768", len(vecs))
	}
}
