package cortex

import "log/slog"

// Option configures a Client using the functional-options convention.
type Option func(*clientConfig)

type clientConfig struct {
	store     Store
	embedding EmbeddingProvider
	llm       LLMProvider
	tracer    Tracer
	logger    *slog.Logger
	graph     GraphAdapter

	recallWeights    RankWeights
	similarityThresh float32 // Stage-2 belief-revision semantic match threshold, default 0.88
	maxCASAttempts   int     // optimistic-concurrency retry bound, default 3
}

// WithStore sets the backend persistence surface. It must already be wrapped
// by envelope.WrapStore — Client does not apply resilience itself.
func WithStore(s Store) Option {
	return func(c *clientConfig) { c.store = s }
}

// WithEmbedding sets the default embedding provider used when a Remember/
// Recall call does not supply its own generateEmbedding function.
func WithEmbedding(e EmbeddingProvider) Option {
	return func(c *clientConfig) { c.embedding = e }
}

// WithLLM sets the LLM provider used for fact extraction and belief-revision
// Stage-3 adjudication. When unset, extraction is skipped and Stage 3 falls
// back to the deterministic policy (supersede on conflict, create on novelty).
func WithLLM(l LLMProvider) Option {
	return func(c *clientConfig) { c.llm = l }
}

// WithTracer sets the Tracer used to instrument orchestrator, recall, and
// belief-revision spans. Defaults to NoopTracer.
func WithTracer(t Tracer) Option {
	return func(c *clientConfig) { c.tracer = t }
}

// WithLogger sets the structured logger. Defaults to a discard handler.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithGraphAdapter enables the reference-graph sync path (C3/C7). When unset,
// Remember never enqueues graphSyncQueue rows and Recall never expands
// results along graph edges.
func WithGraphAdapter(g GraphAdapter) Option {
	return func(c *clientConfig) { c.graph = g }
}

// WithRecallWeights overrides the default ranking weights.
func WithRecallWeights(w RankWeights) Option {
	return func(c *clientConfig) { c.recallWeights = w }
}

// WithSemanticMatchThreshold overrides the belief-revision Stage-2 cosine
// similarity threshold (default 0.88).
func WithSemanticMatchThreshold(t float32) Option {
	return func(c *clientConfig) { c.similarityThresh = t }
}

// WithMaxCASAttempts overrides the bound on optimistic-concurrency retries
// for mutable-record updates (default 3).
func WithMaxCASAttempts(n int) Option {
	return func(c *clientConfig) { c.maxCASAttempts = n }
}

func defaultConfig() clientConfig {
	return clientConfig{
		tracer:           NoopTracer{},
		logger:           slog.New(slog.DiscardHandler),
		recallWeights:    DefaultRankWeights,
		similarityThresh: 0.88,
		maxCASAttempts:   3,
	}
}
