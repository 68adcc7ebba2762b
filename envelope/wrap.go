package envelope

import (
	"context"

	"github.com/cortexmem/cortex"
)

// wrappedStore decorates a cortex.Store so every method routes through an
// Envelope, per doc.go's contract that every Store implementation must be
// wrapped before being handed to cortex.New.
type wrappedStore struct {
	inner cortex.Store
	env   *Envelope
}

// WrapStore wraps inner so every call passes through env's resilience gates.
func WrapStore(inner cortex.Store, env *Envelope) cortex.Store {
	return &wrappedStore{inner: inner, env: env}
}

func (w *wrappedStore) Init(ctx context.Context) error { return w.inner.Init(ctx) }
func (w *wrappedStore) Close() error                     { return w.inner.Close() }

func (w *wrappedStore) CreateConversation(ctx context.Context, conv cortex.Conversation, idem cortex.IdempotencyKey) (cortex.Conversation, error) {
	var out cortex.Conversation
	err := w.env.Do(ctx, "conversation:create", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CreateConversation(ctx, conv, idem)
		return err
	})
	return out, err
}

func (w *wrappedStore) AddMessage(ctx context.Context, conversationID string, msg cortex.Message, idem cortex.IdempotencyKey) (string, error) {
	var out string
	err := w.env.Do(ctx, "conversation:addMessage", func(ctx context.Context) error {
		var err error
		out, err = w.inner.AddMessage(ctx, conversationID, msg, idem)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetConversation(ctx context.Context, conversationID string) (*cortex.Conversation, error) {
	var out *cortex.Conversation
	err := w.env.Do(ctx, "conversation:get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetConversation(ctx, conversationID)
		return err
	})
	return out, err
}

func (w *wrappedStore) ListConversations(ctx context.Context, f cortex.ConversationFilter) ([]cortex.Conversation, error) {
	var out []cortex.Conversation
	err := w.env.Do(ctx, "conversation:list", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListConversations(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) CountConversations(ctx context.Context, f cortex.ConversationFilter) (int, error) {
	var out int
	err := w.env.Do(ctx, "conversation:count", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CountConversations(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return w.env.Do(ctx, "conversation:delete", func(ctx context.Context) error {
		return w.inner.DeleteConversation(ctx, conversationID)
	})
}

func (w *wrappedStore) ExportConversation(ctx context.Context, conversationID string) ([]byte, error) {
	var out []byte
	err := w.env.Do(ctx, "conversation:export", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ExportConversation(ctx, conversationID)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]cortex.Message, error) {
	var out []cortex.Message
	err := w.env.Do(ctx, "conversation:getHistory", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetConversationHistory(ctx, conversationID, limit)
		return err
	})
	return out, err
}

func (w *wrappedStore) StoreImmutable(ctx context.Context, typ, id string, data map[string]any, userID string, retention int) (cortex.ImmutableRecord, error) {
	var out cortex.ImmutableRecord
	err := w.env.Do(ctx, "immutable:store", func(ctx context.Context) error {
		var err error
		out, err = w.inner.StoreImmutable(ctx, typ, id, data, userID, retention)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetImmutable(ctx context.Context, typ, id string) (*cortex.ImmutableRecord, error) {
	var out *cortex.ImmutableRecord
	err := w.env.Do(ctx, "immutable:get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetImmutable(ctx, typ, id)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetImmutableVersion(ctx context.Context, typ, id string, version int) (*cortex.VersionSnapshot, error) {
	var out *cortex.VersionSnapshot
	err := w.env.Do(ctx, "immutable:getVersion", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetImmutableVersion(ctx, typ, id, version)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetImmutableHistory(ctx context.Context, typ, id string) ([]cortex.VersionSnapshot, error) {
	var out []cortex.VersionSnapshot
	err := w.env.Do(ctx, "immutable:getHistory", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetImmutableHistory(ctx, typ, id)
		return err
	})
	return out, err
}

func (w *wrappedStore) ListImmutable(ctx context.Context, typ, tenantID, userID string, limit int) ([]cortex.ImmutableRecord, error) {
	var out []cortex.ImmutableRecord
	err := w.env.Do(ctx, "immutable:list", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListImmutable(ctx, typ, tenantID, userID, limit)
		return err
	})
	return out, err
}

func (w *wrappedStore) CountImmutable(ctx context.Context, typ string) (int, error) {
	var out int
	err := w.env.Do(ctx, "immutable:count", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CountImmutable(ctx, typ)
		return err
	})
	return out, err
}

func (w *wrappedStore) PurgeImmutable(ctx context.Context, typ, id string) error {
	return w.env.Do(ctx, "immutable:purge", func(ctx context.Context) error {
		return w.inner.PurgeImmutable(ctx, typ, id)
	})
}

func (w *wrappedStore) TrimImmutableVersions(ctx context.Context, typ, id string, keep int) (int, error) {
	var out int
	err := w.env.Do(ctx, "immutable:trimVersions", func(ctx context.Context) error {
		var err error
		out, err = w.inner.TrimImmutableVersions(ctx, typ, id, keep)
		return err
	})
	return out, err
}

func (w *wrappedStore) SetMutable(ctx context.Context, namespace, key string, value map[string]any, userID string) (cortex.MutableRecord, error) {
	var out cortex.MutableRecord
	err := w.env.Do(ctx, "mutable:set", func(ctx context.Context) error {
		var err error
		out, err = w.inner.SetMutable(ctx, namespace, key, value, userID)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetMutable(ctx context.Context, namespace, key string) (*cortex.MutableRecord, error) {
	var out *cortex.MutableRecord
	err := w.env.Do(ctx, "mutable:get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetMutable(ctx, namespace, key)
		return err
	})
	return out, err
}

func (w *wrappedStore) UpdateMutable(ctx context.Context, namespace, key string, maxAttempts int, fn func(current map[string]any) (map[string]any, error)) (cortex.MutableRecord, error) {
	var out cortex.MutableRecord
	err := w.env.Do(ctx, "mutable:update", func(ctx context.Context) error {
		var err error
		out, err = w.inner.UpdateMutable(ctx, namespace, key, maxAttempts, fn)
		return err
	})
	return out, err
}

func (w *wrappedStore) DeleteMutable(ctx context.Context, namespace, key string) error {
	return w.env.Do(ctx, "mutable:delete", func(ctx context.Context) error {
		return w.inner.DeleteMutable(ctx, namespace, key)
	})
}

func (w *wrappedStore) ListMutable(ctx context.Context, namespace, userID string, limit int) ([]cortex.MutableRecord, error) {
	var out []cortex.MutableRecord
	err := w.env.Do(ctx, "mutable:list", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListMutable(ctx, namespace, userID, limit)
		return err
	})
	return out, err
}

func (w *wrappedStore) CountMutable(ctx context.Context, namespace string) (int, error) {
	var out int
	err := w.env.Do(ctx, "mutable:count", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CountMutable(ctx, namespace)
		return err
	})
	return out, err
}

func (w *wrappedStore) StoreMemory(ctx context.Context, m cortex.Memory, retention int, idem cortex.IdempotencyKey) (cortex.Memory, error) {
	var out cortex.Memory
	err := w.env.Do(ctx, "memory:store", func(ctx context.Context) error {
		var err error
		out, err = w.inner.StoreMemory(ctx, m, retention, idem)
		return err
	})
	return out, err
}

func (w *wrappedStore) UpdateMemory(ctx context.Context, memoryID string, patch func(cur cortex.Memory) (cortex.Memory, error), retention int) (cortex.Memory, error) {
	var out cortex.Memory
	err := w.env.Do(ctx, "memory:update", func(ctx context.Context) error {
		var err error
		out, err = w.inner.UpdateMemory(ctx, memoryID, patch, retention)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetMemory(ctx context.Context, memoryID string) (*cortex.Memory, error) {
	var out *cortex.Memory
	err := w.env.Do(ctx, "memory:get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetMemory(ctx, memoryID)
		return err
	})
	return out, err
}

func (w *wrappedStore) SearchMemory(ctx context.Context, embedding []float32, topK int, f cortex.MemoryFilter) ([]cortex.ScoredMemory, error) {
	var out []cortex.ScoredMemory
	err := w.env.Do(ctx, "memory:search", func(ctx context.Context) error {
		var err error
		out, err = w.inner.SearchMemory(ctx, embedding, topK, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) SearchMemoryText(ctx context.Context, query string, topK int, f cortex.MemoryFilter) ([]cortex.ScoredMemory, error) {
	var out []cortex.ScoredMemory
	err := w.env.Do(ctx, "memory:search", func(ctx context.Context) error {
		var err error
		out, err = w.inner.SearchMemoryText(ctx, query, topK, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) ListMemory(ctx context.Context, f cortex.MemoryFilter) ([]cortex.Memory, error) {
	var out []cortex.Memory
	err := w.env.Do(ctx, "memory:list", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListMemory(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) CountMemory(ctx context.Context, f cortex.MemoryFilter) (int, error) {
	var out int
	err := w.env.Do(ctx, "memory:count", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CountMemory(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) DeleteMemory(ctx context.Context, memoryID string) error {
	return w.env.Do(ctx, "memory:delete", func(ctx context.Context) error {
		return w.inner.DeleteMemory(ctx, memoryID)
	})
}

func (w *wrappedStore) DeleteManyMemory(ctx context.Context, memoryIDs []string) (int, error) {
	var out int
	err := w.env.Do(ctx, "memory:delete", func(ctx context.Context) error {
		var err error
		out, err = w.inner.DeleteManyMemory(ctx, memoryIDs)
		return err
	})
	return out, err
}

func (w *wrappedStore) ArchiveMemory(ctx context.Context, memoryID string) error {
	return w.env.Do(ctx, "memory:archive", func(ctx context.Context) error {
		return w.inner.ArchiveMemory(ctx, memoryID)
	})
}

func (w *wrappedStore) RestoreMemoryFromArchive(ctx context.Context, memoryID string) (*cortex.Memory, error) {
	var out *cortex.Memory
	err := w.env.Do(ctx, "memory:restore", func(ctx context.Context) error {
		var err error
		out, err = w.inner.RestoreMemoryFromArchive(ctx, memoryID)
		return err
	})
	return out, err
}

func (w *wrappedStore) ExportMemory(ctx context.Context, f cortex.MemoryFilter) ([]byte, error) {
	var out []byte
	err := w.env.Do(ctx, "memory:export", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ExportMemory(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) BumpAccess(ctx context.Context, memoryID string, at int64) error {
	return w.env.Do(ctx, "memory:bumpAccess", func(ctx context.Context) error {
		return w.inner.BumpAccess(ctx, memoryID, at)
	})
}

func (w *wrappedStore) InsertFact(ctx context.Context, f cortex.Fact, idem cortex.IdempotencyKey) (cortex.Fact, error) {
	var out cortex.Fact
	err := w.env.Do(ctx, "fact:store", func(ctx context.Context) error {
		var err error
		out, err = w.inner.InsertFact(ctx, f, idem)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetFact(ctx context.Context, factID string) (*cortex.Fact, error) {
	var out *cortex.Fact
	err := w.env.Do(ctx, "fact:get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetFact(ctx, factID)
		return err
	})
	return out, err
}

func (w *wrappedStore) UpdateFact(ctx context.Context, factID string, patch func(cur cortex.Fact) (cortex.Fact, error)) (cortex.Fact, error) {
	var out cortex.Fact
	err := w.env.Do(ctx, "fact:update", func(ctx context.Context) error {
		var err error
		out, err = w.inner.UpdateFact(ctx, factID, patch)
		return err
	})
	return out, err
}

func (w *wrappedStore) SearchFactsText(ctx context.Context, query string, f cortex.FactFilter) ([]cortex.ScoredFact, error) {
	var out []cortex.ScoredFact
	err := w.env.Do(ctx, "fact:search", func(ctx context.Context) error {
		var err error
		out, err = w.inner.SearchFactsText(ctx, query, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) SearchFactsByVector(ctx context.Context, embedding []float32, topK int, f cortex.FactFilter) ([]cortex.ScoredFact, error) {
	var out []cortex.ScoredFact
	err := w.env.Do(ctx, "fact:search", func(ctx context.Context) error {
		var err error
		out, err = w.inner.SearchFactsByVector(ctx, embedding, topK, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) ListFacts(ctx context.Context, f cortex.FactFilter) ([]cortex.Fact, error) {
	var out []cortex.Fact
	err := w.env.Do(ctx, "fact:list", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListFacts(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) CountFacts(ctx context.Context, f cortex.FactFilter) (int, error) {
	var out int
	err := w.env.Do(ctx, "fact:count", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CountFacts(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) DeleteFact(ctx context.Context, factID string) error {
	return w.env.Do(ctx, "fact:delete", func(ctx context.Context) error {
		return w.inner.DeleteFact(ctx, factID)
	})
}

func (w *wrappedStore) QueryFactsBySubject(ctx context.Context, memorySpaceID, subject string) ([]cortex.Fact, error) {
	var out []cortex.Fact
	err := w.env.Do(ctx, "fact:queryBySubject", func(ctx context.Context) error {
		var err error
		out, err = w.inner.QueryFactsBySubject(ctx, memorySpaceID, subject)
		return err
	})
	return out, err
}

func (w *wrappedStore) QueryFactsByRelationship(ctx context.Context, memorySpaceID, predicate string) ([]cortex.Fact, error) {
	var out []cortex.Fact
	err := w.env.Do(ctx, "fact:queryByRelationship", func(ctx context.Context) error {
		var err error
		out, err = w.inner.QueryFactsByRelationship(ctx, memorySpaceID, predicate)
		return err
	})
	return out, err
}

func (w *wrappedStore) ExportFacts(ctx context.Context, f cortex.FactFilter) ([]byte, error) {
	var out []byte
	err := w.env.Do(ctx, "fact:export", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ExportFacts(ctx, f)
		return err
	})
	return out, err
}

func (w *wrappedStore) FindActiveSlot(ctx context.Context, memorySpaceID, userID, subject, predicate string, factType cortex.FactType) ([]cortex.Fact, error) {
	var out []cortex.Fact
	err := w.env.Do(ctx, "fact:findActiveSlot", func(ctx context.Context) error {
		var err error
		out, err = w.inner.FindActiveSlot(ctx, memorySpaceID, userID, subject, predicate, factType)
		return err
	})
	return out, err
}

func (w *wrappedStore) DecayFacts(ctx context.Context, cutoff int64, minConfidence int) (int, error) {
	var out int
	err := w.env.Do(ctx, "fact:decay", func(ctx context.Context) error {
		var err error
		out, err = w.inner.DecayFacts(ctx, cutoff, minConfidence)
		return err
	})
	return out, err
}

func (w *wrappedStore) AppendFactHistory(ctx context.Context, ev cortex.FactHistoryEvent) (cortex.FactHistoryEvent, error) {
	var out cortex.FactHistoryEvent
	err := w.env.Do(ctx, "fact:appendHistory", func(ctx context.Context) error {
		var err error
		out, err = w.inner.AppendFactHistory(ctx, ev)
		return err
	})
	return out, err
}

func (w *wrappedStore) ListFactHistory(ctx context.Context, factID string) ([]cortex.FactHistoryEvent, error) {
	var out []cortex.FactHistoryEvent
	err := w.env.Do(ctx, "fact:listHistory", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListFactHistory(ctx, factID)
		return err
	})
	return out, err
}

func (w *wrappedStore) CreateContext(ctx context.Context, c cortex.Context) (cortex.Context, error) {
	var out cortex.Context
	err := w.env.Do(ctx, "context:create", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CreateContext(ctx, c)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetContext(ctx context.Context, contextID string) (*cortex.Context, error) {
	var out *cortex.Context
	err := w.env.Do(ctx, "context:get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetContext(ctx, contextID)
		return err
	})
	return out, err
}

func (w *wrappedStore) UpdateContext(ctx context.Context, contextID string, patch func(cur cortex.Context) (cortex.Context, error), retention int) (cortex.Context, error) {
	var out cortex.Context
	err := w.env.Do(ctx, "context:update", func(ctx context.Context) error {
		var err error
		out, err = w.inner.UpdateContext(ctx, contextID, patch, retention)
		return err
	})
	return out, err
}

func (w *wrappedStore) AddContextParticipant(ctx context.Context, contextID, participantID string) error {
	return w.env.Do(ctx, "context:addParticipant", func(ctx context.Context) error {
		return w.inner.AddContextParticipant(ctx, contextID, participantID)
	})
}

func (w *wrappedStore) GrantContextAccess(ctx context.Context, contextID string, grant cortex.AccessGrant) error {
	return w.env.Do(ctx, "context:grantAccess", func(ctx context.Context) error {
		return w.inner.GrantContextAccess(ctx, contextID, grant)
	})
}

func (w *wrappedStore) DeleteContext(ctx context.Context, contextID string, cascade bool) error {
	return w.env.Do(ctx, "context:delete", func(ctx context.Context) error {
		return w.inner.DeleteContext(ctx, contextID, cascade)
	})
}

func (w *wrappedStore) ListContexts(ctx context.Context, memorySpaceID string) ([]cortex.Context, error) {
	var out []cortex.Context
	err := w.env.Do(ctx, "context:list", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListContexts(ctx, memorySpaceID)
		return err
	})
	return out, err
}

func (w *wrappedStore) CreateMemorySpace(ctx context.Context, s cortex.MemorySpace) (cortex.MemorySpace, error) {
	var out cortex.MemorySpace
	err := w.env.Do(ctx, "memorySpace:create", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CreateMemorySpace(ctx, s)
		return err
	})
	return out, err
}

func (w *wrappedStore) GetMemorySpace(ctx context.Context, memorySpaceID string) (*cortex.MemorySpace, error) {
	var out *cortex.MemorySpace
	err := w.env.Do(ctx, "memorySpace:get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.GetMemorySpace(ctx, memorySpaceID)
		return err
	})
	return out, err
}

func (w *wrappedStore) ListMemorySpaces(ctx context.Context, tenantID string) ([]cortex.MemorySpace, error) {
	var out []cortex.MemorySpace
	err := w.env.Do(ctx, "memorySpace:list", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ListMemorySpaces(ctx, tenantID)
		return err
	})
	return out, err
}

func (w *wrappedStore) UpdateMemorySpaceStatus(ctx context.Context, memorySpaceID string, status cortex.MemorySpaceStatus) error {
	return w.env.Do(ctx, "memorySpace:updateStatus", func(ctx context.Context) error {
		return w.inner.UpdateMemorySpaceStatus(ctx, memorySpaceID, status)
	})
}

func (w *wrappedStore) EnqueueGraphSync(ctx context.Context, item cortex.GraphSyncItem) (cortex.GraphSyncItem, error) {
	var out cortex.GraphSyncItem
	err := w.env.Do(ctx, "graphSync:enqueue", func(ctx context.Context) error {
		var err error
		out, err = w.inner.EnqueueGraphSync(ctx, item)
		return err
	})
	return out, err
}

func (w *wrappedStore) DequeueGraphSyncBatch(ctx context.Context, now int64, limit int) ([]cortex.GraphSyncItem, error) {
	var out []cortex.GraphSyncItem
	err := w.env.Do(ctx, "graphSync:dequeue", func(ctx context.Context) error {
		var err error
		out, err = w.inner.DequeueGraphSyncBatch(ctx, now, limit)
		return err
	})
	return out, err
}

func (w *wrappedStore) MarkGraphSyncSynced(ctx context.Context, id string) error {
	return w.env.Do(ctx, "graphSync:markSynced", func(ctx context.Context) error {
		return w.inner.MarkGraphSyncSynced(ctx, id)
	})
}

func (w *wrappedStore) MarkGraphSyncFailed(ctx context.Context, id string, lastErr string, nextAttemptAt int64) error {
	return w.env.Do(ctx, "graphSync:markFailed", func(ctx context.Context) error {
		return w.inner.MarkGraphSyncFailed(ctx, id, lastErr, nextAttemptAt)
	})
}

func (w *wrappedStore) MarkGraphSyncDeadLetter(ctx context.Context, id string) error {
	return w.env.Do(ctx, "graphSync:markDeadLetter", func(ctx context.Context) error {
		return w.inner.MarkGraphSyncDeadLetter(ctx, id)
	})
}

func (w *wrappedStore) CountGraphSyncPending(ctx context.Context) (int, error) {
	var out int
	err := w.env.Do(ctx, "graphSync:count", func(ctx context.Context) error {
		var err error
		out, err = w.inner.CountGraphSyncPending(ctx)
		return err
	})
	return out, err
}

func (w *wrappedStore) RecordEnforcement(ctx context.Context, e cortex.GovernanceEnforcement) (cortex.GovernanceEnforcement, error) {
	var out cortex.GovernanceEnforcement
	err := w.env.Do(ctx, "governance:recordEnforcement", func(ctx context.Context) error {
		var err error
		out, err = w.inner.RecordEnforcement(ctx, e)
		return err
	})
	return out, err
}

func (w *wrappedStore) EnqueueGDPRWork(ctx context.Context, userID string, collections []string) error {
	return w.env.Do(ctx, "governance:gdpr:enqueue", func(ctx context.Context) error {
		return w.inner.EnqueueGDPRWork(ctx, userID, collections)
	})
}

func (w *wrappedStore) PendingGDPRWork(ctx context.Context, userID string) ([]cortex.GDPRWorkItem, error) {
	var out []cortex.GDPRWorkItem
	err := w.env.Do(ctx, "governance:gdpr:pending", func(ctx context.Context) error {
		var err error
		out, err = w.inner.PendingGDPRWork(ctx, userID)
		return err
	})
	return out, err
}

func (w *wrappedStore) CompleteGDPRWork(ctx context.Context, userID, collection string, deletedCount int) error {
	return w.env.Do(ctx, "governance:gdpr:complete", func(ctx context.Context) error {
		return w.inner.CompleteGDPRWork(ctx, userID, collection, deletedCount)
	})
}

func (w *wrappedStore) DeleteByUser(ctx context.Context, collection, userID string) (int, error) {
	var out int
	err := w.env.Do(ctx, "governance:gdpr:deleteByUser", func(ctx context.Context) error {
		var err error
		out, err = w.inner.DeleteByUser(ctx, collection, userID)
		return err
	})
	return out, err
}

var _ cortex.Store = (*wrappedStore)(nil)
