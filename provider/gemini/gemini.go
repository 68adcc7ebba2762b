// Package gemini implements the Google Gemini embedding and chat providers.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cortexmem/cortex"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

var (
	_ cortex.EmbeddingProvider = (*Embedding)(nil)
	_ cortex.LLMProvider       = (*Chat)(nil)
)

// Embedding implements cortex.EmbeddingProvider against the Gemini
// embedContent endpoint. Texts are embedded sequentially; the API has no
// batch form for the synchronous path.
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider. dims sets both the
// requested outputDimensionality and the value returned from Dimensions.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *Embedding) Name() string    { return "gemini" }
func (e *Embedding) Dimensions() int { return e.dims }

func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", baseURL, e.model, e.apiKey)

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body := map[string]any{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
			"outputDimensionality": e.dims,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal embed body: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
		if err != nil {
			return nil, fmt.Errorf("create embed request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("embed request failed: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read embed response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, httpErr(resp.StatusCode, respBody)
		}

		var parsed embedResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("parse embed response: %w", err)
		}
		if parsed.Embedding == nil {
			return nil, fmt.Errorf("embed response missing embedding values")
		}
		vec := make([]float32, len(parsed.Embedding.Values))
		for i, v := range parsed.Embedding.Values {
			vec[i] = float32(v)
		}
		out = append(out, vec)
	}
	return out, nil
}

type embedResponse struct {
	Embedding *embedValues `json:"embedding"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

// Chat implements cortex.LLMProvider against the Gemini generateContent
// endpoint, non-streaming. Cortex only needs the synchronous response path
// for fact extraction and belief-revision adjudication; streaming, tool
// calling, and batch embedding are out of scope here.
type Chat struct {
	apiKey     string
	model      string
	httpClient *http.Client
	topP       float64
}

type ChatOption func(*Chat)

// WithTopP overrides the default nucleus-sampling parameter (0.9).
func WithTopP(p float64) ChatOption {
	return func(c *Chat) { c.topP = p }
}

func New(apiKey, model string, opts ...ChatOption) *Chat {
	c := &Chat{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		topP:       0.9,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chat) Name() string { return "gemini" }

func (c *Chat) Chat(ctx context.Context, messages []cortex.ChatMessage, opts cortex.ChatOptions) (string, error) {
	body, err := c.buildBody(messages, opts)
	if err != nil {
		return "", fmt.Errorf("build body: %w", err)
	}
	return c.doGenerate(ctx, body)
}

func (c *Chat) buildBody(messages []cortex.ChatMessage, opts cortex.ChatOptions) (map[string]any, error) {
	var systemParts []string
	var contents []map[string]any

	for _, m := range messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		contents = append(contents, map[string]any{
			"role":  mapRole(m.Role),
			"parts": []map[string]any{{"text": m.Content}},
		})
	}

	body := map[string]any{"contents": contents}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": strings.Join(systemParts, "\n\n")}},
		}
	}

	genConfig := map[string]any{
		"temperature": opts.Temperature,
		"topP":        c.topP,
	}
	if opts.Schema != nil && len(opts.Schema.Schema) > 0 {
		genConfig["responseMimeType"] = "application/json"
		var schemaObj any
		if err := json.Unmarshal(opts.Schema.Schema, &schemaObj); err == nil {
			genConfig["responseSchema"] = schemaObj
		}
	}
	body["generationConfig"] = genConfig
	return body, nil
}

func mapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

func (c *Chat) doGenerate(ctx context.Context, body map[string]any) (string, error) {
	model := c.model
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, model, c.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpErr(resp.StatusCode, respBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response json: %w", err)
	}

	var content strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != nil {
				content.WriteString(*part.Text)
			}
		}
	}
	return content.String(), nil
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text    *string `json:"text,omitempty"`
	Thought bool    `json:"thought,omitempty"`
}

// httpErr builds an error from a non-2xx Gemini response, extracting the
// retry delay from the google.rpc.RetryInfo detail when present.
func httpErr(status int, body []byte) error {
	if d := parseRetryInfo(body); d > 0 {
		return &StatusError{Status: status, Body: string(body), RetryAfter: d}
	}
	return &StatusError{Status: status, Body: string(body)}
}

// StatusError wraps a non-2xx Gemini HTTP response.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: http %d: %s", e.Status, e.Body)
}

func parseRetryInfo(body []byte) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0
	}
	for _, d := range envelope.Error.Details {
		var ri struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if err := json.Unmarshal(d, &ri); err != nil {
			continue
		}
		if !strings.Contains(ri.Type, "RetryInfo") || ri.RetryDelay == "" {
			continue
		}
		if dur, err := time.ParseDuration(ri.RetryDelay); err == nil {
			return dur
		}
	}
	return 0
}
