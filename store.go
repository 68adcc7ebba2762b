package cortex

import "context"

// IdempotencyKey is an optional client-supplied key accepted by store/create
// style operations. When a key is seen again, the store returns the prior
// result instead of duplicating the write. CreateConversation (both backends)
// and the SQLite AddMessage honour a key for 5 minutes after the first write;
// StoreMemory and InsertFact match a key with no time limit; the PostgreSQL
// AddMessage does not check the key.
type IdempotencyKey string

// ConversationStore is the Layer-1a append-only conversation primitive (C2).
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv Conversation, idem IdempotencyKey) (Conversation, error)
	// AddMessage appends a message and atomically bumps messageCount,
	// returning the assigned message id.
	AddMessage(ctx context.Context, conversationID string, msg Message, idem IdempotencyKey) (string, error)
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error)
	CountConversations(ctx context.Context, f ConversationFilter) (int, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ExportConversation(ctx context.Context, conversationID string) ([]byte, error)
	GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

type ConversationFilter struct {
	MemorySpaceID string
	TenantID      string
	UserID        string
	AgentID       string
	Type          ConversationType
	Limit         int
}

// ImmutableStoreAPI is the Layer-1b versioned-record primitive (C2).
type ImmutableStoreAPI interface {
	StoreImmutable(ctx context.Context, typ, id string, data map[string]any, userID string, retention int) (ImmutableRecord, error)
	GetImmutable(ctx context.Context, typ, id string) (*ImmutableRecord, error)
	GetImmutableVersion(ctx context.Context, typ, id string, version int) (*VersionSnapshot, error)
	GetImmutableHistory(ctx context.Context, typ, id string) ([]VersionSnapshot, error)
	ListImmutable(ctx context.Context, typ, tenantID, userID string, limit int) ([]ImmutableRecord, error)
	CountImmutable(ctx context.Context, typ string) (int, error)
	PurgeImmutable(ctx context.Context, typ, id string) error
	// TrimImmutableVersions drops rec.PreviousVersions down to the newest
	// `keep` entries (oldest snapshots dropped first) and persists the
	// result. Returns the number of version snapshots actually dropped.
	TrimImmutableVersions(ctx context.Context, typ, id string, keep int) (int, error)
}

// MutableStoreAPI is the Layer-1c current-value primitive (C2).
type MutableStoreAPI interface {
	SetMutable(ctx context.Context, namespace, key string, value map[string]any, userID string) (MutableRecord, error)
	GetMutable(ctx context.Context, namespace, key string) (*MutableRecord, error)
	// UpdateMutable performs an optimistic-concurrency read/apply/CAS loop,
	// retrying up to maxAttempts times before returning *ConflictError.
	UpdateMutable(ctx context.Context, namespace, key string, maxAttempts int, fn func(current map[string]any) (map[string]any, error)) (MutableRecord, error)
	DeleteMutable(ctx context.Context, namespace, key string) error
	ListMutable(ctx context.Context, namespace, userID string, limit int) ([]MutableRecord, error)
	CountMutable(ctx context.Context, namespace string) (int, error)
}

// MemoryFilter constrains Memory queries; zero values are "don't filter".
type MemoryFilter struct {
	MemorySpaceID    string
	TenantID         string
	UserID           string
	AgentID          string
	ParticipantID    string
	Tags             []string
	MinImportance    int
	CreatedAfter     int64
	CreatedBefore    int64
	Limit            int
}

// MemoryStoreAPI is the Layer-2 memory primitive (C2).
type MemoryStoreAPI interface {
	StoreMemory(ctx context.Context, m Memory, retention int, idem IdempotencyKey) (Memory, error)
	UpdateMemory(ctx context.Context, memoryID string, patch func(cur Memory) (Memory, error), retention int) (Memory, error)
	GetMemory(ctx context.Context, memoryID string) (*Memory, error)
	// SearchMemory performs k-NN cosine similarity search pre-filtered by f,
	// with optional post-filters on tags/importance/createdAt (already
	// expressed in MemoryFilter).
	SearchMemory(ctx context.Context, embedding []float32, topK int, f MemoryFilter) ([]ScoredMemory, error)
	// SearchMemoryText performs full-text search over content, pre-filtered
	// by f. Used by the recall engine when no embedding is available.
	SearchMemoryText(ctx context.Context, query string, topK int, f MemoryFilter) ([]ScoredMemory, error)
	ListMemory(ctx context.Context, f MemoryFilter) ([]Memory, error)
	CountMemory(ctx context.Context, f MemoryFilter) (int, error)
	DeleteMemory(ctx context.Context, memoryID string) error
	DeleteManyMemory(ctx context.Context, memoryIDs []string) (int, error)
	ArchiveMemory(ctx context.Context, memoryID string) error
	RestoreMemoryFromArchive(ctx context.Context, memoryID string) (*Memory, error)
	ExportMemory(ctx context.Context, f MemoryFilter) ([]byte, error)
	// BumpAccess increments accessCount and sets lastAccessed for a memory
	// surfaced by recall; best-effort, never blocks the caller.
	BumpAccess(ctx context.Context, memoryID string, at int64) error
}

// FactFilter constrains Fact queries.
type FactFilter struct {
	MemorySpaceID      string
	TenantID           string
	UserID             string
	ParticipantID      string
	Subject            string
	Predicate          string
	FactType           FactType
	IncludeSuperseded  bool
	Limit              int
}

// FactStoreAPI is the Layer-3 fact primitive (C2). Store routes through the
// belief-revision pipeline (C4); the other methods are direct CRUD used by
// the pipeline itself and by recall.
type FactStoreAPI interface {
	// InsertFact writes a fact record as-is (no belief revision). Used by the
	// belief-revision pipeline after it has already decided the outcome.
	InsertFact(ctx context.Context, f Fact, idem IdempotencyKey) (Fact, error)
	GetFact(ctx context.Context, factID string) (*Fact, error)
	// UpdateFact in-place updates a fact (belief-revision UPDATE outcome),
	// bumping version and returning the new state.
	UpdateFact(ctx context.Context, factID string, patch func(cur Fact) (Fact, error)) (Fact, error)
	SearchFactsText(ctx context.Context, query string, f FactFilter) ([]ScoredFact, error)
	// SearchFactsByVector performs k-NN cosine similarity search over facts
	// with a stored embedding, pre-filtered by f. Used by belief revision's
	// semantic-duplicate check when an embedding provider is configured.
	SearchFactsByVector(ctx context.Context, embedding []float32, topK int, f FactFilter) ([]ScoredFact, error)
	ListFacts(ctx context.Context, f FactFilter) ([]Fact, error)
	CountFacts(ctx context.Context, f FactFilter) (int, error)
	DeleteFact(ctx context.Context, factID string) error
	QueryFactsBySubject(ctx context.Context, memorySpaceID, subject string) ([]Fact, error)
	QueryFactsByRelationship(ctx context.Context, memorySpaceID, predicate string) ([]Fact, error)
	ExportFacts(ctx context.Context, f FactFilter) ([]byte, error)
	// FindActiveSlot returns the active facts (supersededBy == "") in the
	// given memory space/user matching the belief-revision slot key.
	FindActiveSlot(ctx context.Context, memorySpaceID, userID, subject, predicate string, factType FactType) ([]Fact, error)
	// DecayFacts multiplies confidence by decayRate for facts not reinforced
	// since cutoff, and deletes those that decay below minConfidence.
	DecayFacts(ctx context.Context, cutoff int64, minConfidence int) (int, error)
}

// FactHistoryStoreAPI is the append-only audit primitive for C4.
type FactHistoryStoreAPI interface {
	AppendFactHistory(ctx context.Context, ev FactHistoryEvent) (FactHistoryEvent, error)
	ListFactHistory(ctx context.Context, factID string) ([]FactHistoryEvent, error)
}

// ContextStoreAPI is the coordination-context primitive used by C3/C6.
type ContextStoreAPI interface {
	CreateContext(ctx context.Context, c Context) (Context, error)
	GetContext(ctx context.Context, contextID string) (*Context, error)
	UpdateContext(ctx context.Context, contextID string, patch func(cur Context) (Context, error), retention int) (Context, error)
	AddContextParticipant(ctx context.Context, contextID, participantID string) error
	GrantContextAccess(ctx context.Context, contextID string, grant AccessGrant) error
	DeleteContext(ctx context.Context, contextID string, cascade bool) error
	ListContexts(ctx context.Context, memorySpaceID string) ([]Context, error)
}

// MemorySpaceStoreAPI is the memory-space registry primitive.
type MemorySpaceStoreAPI interface {
	CreateMemorySpace(ctx context.Context, s MemorySpace) (MemorySpace, error)
	GetMemorySpace(ctx context.Context, memorySpaceID string) (*MemorySpace, error)
	ListMemorySpaces(ctx context.Context, tenantID string) ([]MemorySpace, error)
	UpdateMemorySpaceStatus(ctx context.Context, memorySpaceID string, status MemorySpaceStatus) error
}

// GraphQueueStoreAPI is the C7 graph-sync queue primitive.
type GraphQueueStoreAPI interface {
	EnqueueGraphSync(ctx context.Context, item GraphSyncItem) (GraphSyncItem, error)
	// DequeueGraphSyncBatch returns up to limit unsynced, non-dead-lettered
	// items whose nextAttemptAt <= now, ordered by priority then age.
	DequeueGraphSyncBatch(ctx context.Context, now int64, limit int) ([]GraphSyncItem, error)
	MarkGraphSyncSynced(ctx context.Context, id string) error
	MarkGraphSyncFailed(ctx context.Context, id string, lastErr string, nextAttemptAt int64) error
	MarkGraphSyncDeadLetter(ctx context.Context, id string) error
	CountGraphSyncPending(ctx context.Context) (int, error)
}

// GovernanceStoreAPI records policy-enforcement runs and the resumable GDPR
// cascade work queue (C8).
type GovernanceStoreAPI interface {
	RecordEnforcement(ctx context.Context, e GovernanceEnforcement) (GovernanceEnforcement, error)
	// EnqueueGDPRWork seeds the resumable cascade work-queue for a userId
	// across every collection; a no-op if work for that userId is already
	// queued and not yet fully done.
	EnqueueGDPRWork(ctx context.Context, userID string, collections []string) error
	PendingGDPRWork(ctx context.Context, userID string) ([]GDPRWorkItem, error)
	CompleteGDPRWork(ctx context.Context, userID, collection string, deletedCount int) error
	// DeleteByUser deletes every record in collection keyed by userID,
	// returning the number of rows removed.
	DeleteByUser(ctx context.Context, collection, userID string) (int, error)
}

// Store is the full backend-agnostic persistence surface (C2). Every
// exported method is expected to be wrapped by envelope.WrapStore before use.
type Store interface {
	ConversationStore
	ImmutableStoreAPI
	MutableStoreAPI
	MemoryStoreAPI
	FactStoreAPI
	FactHistoryStoreAPI
	ContextStoreAPI
	MemorySpaceStoreAPI
	GraphQueueStoreAPI
	GovernanceStoreAPI

	Init(ctx context.Context) error
	Close() error
}
