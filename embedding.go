package cortex

import "context"

// EmbeddingProvider abstracts text-to-vector embedding. The core never
// hard-codes a provider — callers supply one, or pass a per-call
// generateEmbedding func to Remember/Recall directly.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts, one per input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size. Must match the
	// configured dimension of the vector index (default 1536).
	Dimensions() int
	// Name returns the provider name (e.g. "openai", "gemini").
	Name() string
}

// GenerateEmbeddingFunc is a caller-supplied embedding function, accepted as
// an override wherever an EmbeddingProvider would otherwise be used.
type GenerateEmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// embedOne embeds a single string, preferring fn when supplied.
func embedOne(ctx context.Context, fn GenerateEmbeddingFunc, provider EmbeddingProvider, text string) ([]float32, error) {
	if fn != nil {
		return fn(ctx, text)
	}
	if provider == nil {
		return nil, nil
	}
	vecs, err := provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, &EmbeddingError{Provider: provider.Name(), Err: err}
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}
