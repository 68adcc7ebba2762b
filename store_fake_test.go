package cortex

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// fakeStore is an in-memory Store double used by the root package's unit
// tests. It is intentionally simple: no real vector math, no indexes, linear
// scans. store/sqlite and store/postgres carry the real implementations and
// their own tests.
type fakeStore struct {
	mu sync.Mutex

	conversations map[string]Conversation
	memories      map[string]Memory
	facts         map[string]Fact
	history       []FactHistoryEvent
	graphQueue    map[string]GraphSyncItem
	gdprWork      map[string][]GDPRWorkItem
	enforcements  []GovernanceEnforcement
	immutable     map[string]ImmutableRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: map[string]Conversation{},
		memories:      map[string]Memory{},
		facts:         map[string]Fact{},
		graphQueue:    map[string]GraphSyncItem{},
		gdprWork:      map[string][]GDPRWorkItem{},
		immutable:     map[string]ImmutableRecord{},
	}
}

func immutableKey(typ, id string) string { return typ + "\x1f" + id }

func (s *fakeStore) Init(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                    { return nil }

func (s *fakeStore) CreateConversation(ctx context.Context, conv Conversation, idem IdempotencyKey) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.ConversationID == "" {
		conv.ConversationID = NewID()
	}
	s.conversations[conv.ConversationID] = conv
	return conv, nil
}

func (s *fakeStore) AddMessage(ctx context.Context, conversationID string, msg Message, idem IdempotencyKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = Conversation{ConversationID: conversationID, CreatedAt: NowMillis()}
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	conv.Messages = append(conv.Messages, msg)
	conv.MessageCount = len(conv.Messages)
	conv.UpdatedAt = NowMillis()
	s.conversations[conversationID] = conv
	return msg.ID, nil
}

func (s *fakeStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *fakeStore) ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) CountConversations(ctx context.Context, f ConversationFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations), nil
}

func (s *fakeStore) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

func (s *fakeStore) ExportConversation(ctx context.Context, conversationID string) ([]byte, error) {
	return nil, nil
}

func (s *fakeStore) GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	if limit > 0 && len(c.Messages) > limit {
		return c.Messages[len(c.Messages)-limit:], nil
	}
	return c.Messages, nil
}

func (s *fakeStore) StoreImmutable(ctx context.Context, typ, id string, data map[string]any, userID string, retention int) (ImmutableRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := NowMillis()
	rec := ImmutableRecord{Type: typ, ID: id, Data: data, UserID: userID, Version: 1, CreatedAt: now, UpdatedAt: now}
	if existing, ok := s.immutable[immutableKey(typ, id)]; ok {
		rec.Version = existing.Version + 1
		rec.CreatedAt = existing.CreatedAt
		rec.PreviousVersions = append(existing.PreviousVersions, VersionSnapshot{
			Version: existing.Version, Data: existing.Data, Timestamp: existing.UpdatedAt,
		})
		if retention > 0 && len(rec.PreviousVersions) > retention {
			rec.PreviousVersions = rec.PreviousVersions[len(rec.PreviousVersions)-retention:]
		}
	}
	s.immutable[immutableKey(typ, id)] = rec
	return rec, nil
}
func (s *fakeStore) GetImmutable(ctx context.Context, typ, id string) (*ImmutableRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.immutable[immutableKey(typ, id)]
	if !ok {
		return nil, &NotFoundError{Collection: typ, Key: id}
	}
	return &rec, nil
}
func (s *fakeStore) GetImmutableVersion(ctx context.Context, typ, id string, version int) (*VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.immutable[immutableKey(typ, id)]
	if !ok {
		return nil, &NotFoundError{Collection: typ, Key: id}
	}
	if rec.Version == version {
		return &VersionSnapshot{Version: rec.Version, Data: rec.Data, Timestamp: rec.UpdatedAt}, nil
	}
	for _, v := range rec.PreviousVersions {
		if v.Version == version {
			snap := v
			return &snap, nil
		}
	}
	return nil, &NotFoundError{Collection: typ + ":version", Key: id}
}
func (s *fakeStore) GetImmutableHistory(ctx context.Context, typ, id string) ([]VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.immutable[immutableKey(typ, id)]
	if !ok {
		return nil, &NotFoundError{Collection: typ, Key: id}
	}
	history := append([]VersionSnapshot{}, rec.PreviousVersions...)
	return append(history, VersionSnapshot{Version: rec.Version, Data: rec.Data, Timestamp: rec.UpdatedAt}), nil
}
func (s *fakeStore) ListImmutable(ctx context.Context, typ, tenantID, userID string, limit int) ([]ImmutableRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ImmutableRecord
	for _, rec := range s.immutable {
		if rec.Type != typ {
			continue
		}
		if userID != "" && rec.UserID != userID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
func (s *fakeStore) CountImmutable(ctx context.Context, typ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.immutable {
		if rec.Type == typ {
			n++
		}
	}
	return n, nil
}
func (s *fakeStore) PurgeImmutable(ctx context.Context, typ, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.immutable, immutableKey(typ, id))
	return nil
}
func (s *fakeStore) TrimImmutableVersions(ctx context.Context, typ, id string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.immutable[immutableKey(typ, id)]
	if !ok {
		return 0, &NotFoundError{Collection: typ, Key: id}
	}
	dropped := len(rec.PreviousVersions) - keep
	if dropped <= 0 {
		return 0, nil
	}
	rec.PreviousVersions = rec.PreviousVersions[dropped:]
	rec.UpdatedAt = NowMillis()
	s.immutable[immutableKey(typ, id)] = rec
	return dropped, nil
}

func (s *fakeStore) SetMutable(ctx context.Context, namespace, key string, value map[string]any, userID string) (MutableRecord, error) {
	return MutableRecord{Namespace: namespace, Key: key, Value: value, UserID: userID}, nil
}
func (s *fakeStore) GetMutable(ctx context.Context, namespace, key string) (*MutableRecord, error) {
	return nil, nil
}
func (s *fakeStore) UpdateMutable(ctx context.Context, namespace, key string, maxAttempts int, fn func(current map[string]any) (map[string]any, error)) (MutableRecord, error) {
	v, err := fn(map[string]any{})
	if err != nil {
		return MutableRecord{}, err
	}
	return MutableRecord{Namespace: namespace, Key: key, Value: v}, nil
}
func (s *fakeStore) DeleteMutable(ctx context.Context, namespace, key string) error { return nil }
func (s *fakeStore) ListMutable(ctx context.Context, namespace, userID string, limit int) ([]MutableRecord, error) {
	return nil, nil
}
func (s *fakeStore) CountMutable(ctx context.Context, namespace string) (int, error) { return 0, nil }

func (s *fakeStore) StoreMemory(ctx context.Context, m Memory, retention int, idem IdempotencyKey) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.MemoryID == "" {
		m.MemoryID = NewID()
	}
	s.memories[m.MemoryID] = m
	return m, nil
}

func (s *fakeStore) UpdateMemory(ctx context.Context, memoryID string, patch func(cur Memory) (Memory, error), retention int) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.memories[memoryID]
	updated, err := patch(cur)
	if err != nil {
		return Memory{}, err
	}
	s.memories[memoryID] = updated
	return updated, nil
}

func (s *fakeStore) GetMemory(ctx context.Context, memoryID string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeStore) SearchMemory(ctx context.Context, embedding []float32, topK int, f MemoryFilter) ([]ScoredMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScoredMemory
	for _, m := range s.memories {
		if f.MemorySpaceID != "" && m.MemorySpaceID != f.MemorySpaceID {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: cosineSim(embedding, m.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *fakeStore) SearchMemoryText(ctx context.Context, query string, topK int, f MemoryFilter) ([]ScoredMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScoredMemory
	for _, m := range s.memories {
		if f.MemorySpaceID != "" && m.MemorySpaceID != f.MemorySpaceID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: 1})
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *fakeStore) ListMemory(ctx context.Context, f MemoryFilter) ([]Memory, error) { return nil, nil }
func (s *fakeStore) CountMemory(ctx context.Context, f MemoryFilter) (int, error)     { return len(s.memories), nil }
func (s *fakeStore) DeleteMemory(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, memoryID)
	return nil
}
func (s *fakeStore) DeleteManyMemory(ctx context.Context, memoryIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range memoryIDs {
		delete(s.memories, id)
	}
	return len(memoryIDs), nil
}
func (s *fakeStore) ArchiveMemory(ctx context.Context, memoryID string) error { return nil }
func (s *fakeStore) RestoreMemoryFromArchive(ctx context.Context, memoryID string) (*Memory, error) {
	return nil, nil
}
func (s *fakeStore) ExportMemory(ctx context.Context, f MemoryFilter) ([]byte, error) { return nil, nil }
func (s *fakeStore) BumpAccess(ctx context.Context, memoryID string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return nil
	}
	m.AccessCount++
	m.LastAccessed = at
	s.memories[memoryID] = m
	return nil
}

func (s *fakeStore) InsertFact(ctx context.Context, f Fact, idem IdempotencyKey) (Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.FactID == "" {
		f.FactID = NewID()
	}
	s.facts[f.FactID] = f
	return f, nil
}
func (s *fakeStore) GetFact(ctx context.Context, factID string) (*Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[factID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
func (s *fakeStore) UpdateFact(ctx context.Context, factID string, patch func(cur Fact) (Fact, error)) (Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.facts[factID]
	updated, err := patch(cur)
	if err != nil {
		return Fact{}, err
	}
	s.facts[factID] = updated
	return updated, nil
}
func (s *fakeStore) SearchFactsText(ctx context.Context, query string, f FactFilter) ([]ScoredFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScoredFact
	for _, fact := range s.facts {
		if f.MemorySpaceID != "" && fact.MemorySpaceID != f.MemorySpaceID {
			continue
		}
		if !f.IncludeSuperseded && !fact.Active() {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(fact.FactText), strings.ToLower(query)) {
			continue
		}
		out = append(out, ScoredFact{Fact: fact, Score: 1})
	}
	return out, nil
}
func (s *fakeStore) SearchFactsByVector(ctx context.Context, embedding []float32, topK int, f FactFilter) ([]ScoredFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScoredFact
	for _, fact := range s.facts {
		if f.MemorySpaceID != "" && fact.MemorySpaceID != f.MemorySpaceID {
			continue
		}
		if !f.IncludeSuperseded && !fact.Active() {
			continue
		}
		if len(fact.Embedding) == 0 {
			continue
		}
		out = append(out, ScoredFact{Fact: fact, Score: fakeCosineSimilarity(embedding, fact.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func fakeCosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (s *fakeStore) ListFacts(ctx context.Context, f FactFilter) ([]Fact, error) { return nil, nil }
func (s *fakeStore) CountFacts(ctx context.Context, f FactFilter) (int, error)   { return len(s.facts), nil }
func (s *fakeStore) DeleteFact(ctx context.Context, factID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, factID)
	return nil
}
func (s *fakeStore) QueryFactsBySubject(ctx context.Context, memorySpaceID, subject string) ([]Fact, error) {
	return nil, nil
}
func (s *fakeStore) QueryFactsByRelationship(ctx context.Context, memorySpaceID, predicate string) ([]Fact, error) {
	return nil, nil
}
func (s *fakeStore) ExportFacts(ctx context.Context, f FactFilter) ([]byte, error) { return nil, nil }
func (s *fakeStore) FindActiveSlot(ctx context.Context, memorySpaceID, userID, subject, predicate string, factType FactType) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey(userID, subject, predicate, factType)
	var out []Fact
	for _, f := range s.facts {
		if !f.Active() || f.MemorySpaceID != memorySpaceID || f.UserID != userID {
			continue
		}
		var fSubject, fPredicate string
		if f.Triple != nil {
			fSubject, fPredicate = f.Triple.Subject, f.Triple.Predicate
		}
		if slotKey(f.UserID, fSubject, fPredicate, f.FactType) == key {
			out = append(out, f)
		}
	}
	return out, nil
}
func (s *fakeStore) DecayFacts(ctx context.Context, cutoff int64, minConfidence int) (int, error) {
	return 0, nil
}

func (s *fakeStore) AppendFactHistory(ctx context.Context, ev FactHistoryEvent) (FactHistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.EventID == "" {
		ev.EventID = NewID()
	}
	s.history = append(s.history, ev)
	return ev, nil
}
func (s *fakeStore) ListFactHistory(ctx context.Context, factID string) ([]FactHistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FactHistoryEvent
	for _, ev := range s.history {
		if ev.FactID == factID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateContext(ctx context.Context, c Context) (Context, error) { return c, nil }
func (s *fakeStore) GetContext(ctx context.Context, contextID string) (*Context, error) {
	return nil, nil
}
func (s *fakeStore) UpdateContext(ctx context.Context, contextID string, patch func(cur Context) (Context, error), retention int) (Context, error) {
	return patch(Context{})
}
func (s *fakeStore) AddContextParticipant(ctx context.Context, contextID, participantID string) error {
	return nil
}
func (s *fakeStore) GrantContextAccess(ctx context.Context, contextID string, grant AccessGrant) error {
	return nil
}
func (s *fakeStore) DeleteContext(ctx context.Context, contextID string, cascade bool) error {
	return nil
}
func (s *fakeStore) ListContexts(ctx context.Context, memorySpaceID string) ([]Context, error) {
	return nil, nil
}

func (s *fakeStore) CreateMemorySpace(ctx context.Context, sp MemorySpace) (MemorySpace, error) {
	return sp, nil
}
func (s *fakeStore) GetMemorySpace(ctx context.Context, memorySpaceID string) (*MemorySpace, error) {
	return nil, nil
}
func (s *fakeStore) ListMemorySpaces(ctx context.Context, tenantID string) ([]MemorySpace, error) {
	return nil, nil
}
func (s *fakeStore) UpdateMemorySpaceStatus(ctx context.Context, memorySpaceID string, status MemorySpaceStatus) error {
	return nil
}

func (s *fakeStore) EnqueueGraphSync(ctx context.Context, item GraphSyncItem) (GraphSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = NewID()
	}
	s.graphQueue[item.ID] = item
	return item, nil
}
func (s *fakeStore) DequeueGraphSyncBatch(ctx context.Context, now int64, limit int) ([]GraphSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []GraphSyncItem
	for _, item := range s.graphQueue {
		if item.Synced || item.DeadLetter {
			continue
		}
		if item.NextAttemptAt > now {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
func (s *fakeStore) MarkGraphSyncSynced(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.graphQueue[id]
	item.Synced = true
	s.graphQueue[id] = item
	return nil
}
func (s *fakeStore) MarkGraphSyncFailed(ctx context.Context, id string, lastErr string, nextAttemptAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.graphQueue[id]
	item.FailedAttempts++
	item.LastError = lastErr
	item.NextAttemptAt = nextAttemptAt
	s.graphQueue[id] = item
	return nil
}
func (s *fakeStore) MarkGraphSyncDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.graphQueue[id]
	item.DeadLetter = true
	s.graphQueue[id] = item
	return nil
}
func (s *fakeStore) CountGraphSyncPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.graphQueue {
		if !item.Synced && !item.DeadLetter {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) RecordEnforcement(ctx context.Context, e GovernanceEnforcement) (GovernanceEnforcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforcements = append(s.enforcements, e)
	return e, nil
}
func (s *fakeStore) EnqueueGDPRWork(ctx context.Context, userID string, collections []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gdprWork[userID]; ok {
		return nil
	}
	items := make([]GDPRWorkItem, len(collections))
	for i, c := range collections {
		items[i] = GDPRWorkItem{UserID: userID, Collection: c}
	}
	s.gdprWork[userID] = items
	return nil
}
func (s *fakeStore) PendingGDPRWork(ctx context.Context, userID string) ([]GDPRWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gdprWork[userID], nil
}
func (s *fakeStore) CompleteGDPRWork(ctx context.Context, userID, collection string, deletedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.gdprWork[userID]
	for i, it := range items {
		if it.Collection == collection {
			items[i].Done = true
			items[i].DeletedCount = deletedCount
		}
	}
	s.gdprWork[userID] = items
	return nil
}
func (s *fakeStore) DeleteByUser(ctx context.Context, collection, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	switch collection {
	case "memories":
		for id, m := range s.memories {
			if m.UserID == userID {
				delete(s.memories, id)
				n++
			}
		}
	case "facts":
		for id, f := range s.facts {
			if f.UserID == userID {
				delete(s.facts, id)
				n++
			}
		}
	case "conversations":
		for id, c := range s.conversations {
			if c.ParticipantID == userID {
				delete(s.conversations, id)
				n++
			}
		}
	}
	return n, nil
}

var _ Store = (*fakeStore)(nil)

func cosineSim(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
