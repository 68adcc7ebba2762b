// Package cortex is a memory substrate for AI agents.
//
// It stores and retrieves three kinds of knowledge — immutable conversation
// history, searchable semantic memories, and structured facts — while
// keeping them linked, versioned, and scoped so that multiple agents and
// tenants can coexist in the same backend.
//
// # Quick start
//
//	client := cortex.New(
//		cortex.WithStore(envelope.WrapStore(sqlite.New("cortex.db"), env)),
//		cortex.WithEmbedding(myEmbeddingProvider),
//		cortex.WithLLM(myLLMProvider),
//	)
//	result, err := client.Remember(ctx, cortex.RememberRequest{
//		MemorySpaceID: "space-1",
//		ConversationID: convID,
//		UserMessage: "My favorite color is blue",
//		AgentResponse: "Got it, I'll remember that.",
//	})
//
// # Core interfaces
//
// The root package defines the contracts every component implements:
//
//   - [Store] — the backend-agnostic persistence surface (C2) over the five
//     primary collections plus the two auxiliary ones.
//   - [EmbeddingProvider] — text-to-vector embedding.
//   - [LLMProvider] — structured chat completion, used for fact extraction
//     and belief-revision adjudication.
//
// Every [Store] implementation is expected to be wrapped by
// [github.com/cortexmem/cortex/envelope] before being handed to [New] — the
// envelope is the resilience layer (C1: rate limiting, concurrency limiting,
// circuit breaking) that spec.md requires around every backend call.
//
// # Included implementations
//
// Storage: store/sqlite (embedded, pure Go), store/postgres (production).
// Supporting logic lives alongside these types at the package root — belief
// revision (C4, belief.go), the recall engine (C5, recall.go), the reference
// graph and its sync worker (C3/C7, graph.go/graphworker.go), and governance
// (C8, governance.go) — with only the resilience wrapper split out as its own
// importable package, [github.com/cortexmem/cortex/envelope] (C1).
package cortex
