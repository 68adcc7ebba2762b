package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for Cortex observability spans and metrics.
var (
	AttrMemorySpaceID = attribute.Key("cortex.memory_space_id")
	AttrUserID        = attribute.Key("cortex.user_id")
	AttrOp            = attribute.Key("cortex.op")
	AttrPriority      = attribute.Key("cortex.priority")

	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")

	AttrEmbedTextCount  = attribute.Key("embedding.text_count")
	AttrEmbedDimensions = attribute.Key("embedding.dimensions")
	AttrEmbedProvider   = attribute.Key("embedding.provider")

	AttrRecallCandidates = attribute.Key("recall.candidate_count")
	AttrRecallResults    = attribute.Key("recall.result_count")
	AttrRecallSource     = attribute.Key("recall.source")

	AttrFactOutcome    = attribute.Key("belief.outcome")
	AttrFactSubject    = attribute.Key("belief.subject")
	AttrFactPredicate  = attribute.Key("belief.predicate")

	AttrGraphSyncOp    = attribute.Key("graph_sync.operation")
	AttrGraphSyncTable = attribute.Key("graph_sync.table")

	AttrCircuitState = attribute.Key("envelope.circuit_state")
	AttrBackendDriver = attribute.Key("backend.driver")
)
