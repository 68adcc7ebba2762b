package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexmem/cortex"
)

// testStore connects to a real PostgreSQL instance for integration testing.
// Set CORTEX_TEST_POSTGRES_DSN to a reachable database to run this package's
// tests; otherwise they're skipped since pgvector and tsvector behavior
// can't be faked with an in-process stand-in the way SQLite can.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CORTEX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CORTEX_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool, WithEmbeddingDimension(4))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { truncateAll(t, pool) })
	return s
}

func truncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	tables := []string{
		"messages", "conversations", "immutable_records", "mutable_records", "memories", "facts",
		"fact_history", "memory_spaces", "contexts", "graph_sync_queue", "governance_enforcements", "gdpr_work_items",
	}
	for _, tbl := range tables {
		if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+tbl); err != nil {
			t.Logf("truncate %s: %v", tbl, err)
		}
	}
}

func TestInit_IsIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second init should be a no-op: %v", err)
	}
}

func TestVectorType_DefaultsToUntyped(t *testing.T) {
	s := &Store{}
	if got := s.vectorType(); got != "vector" {
		t.Errorf("vectorType() = %q, want %q", got, "vector")
	}
}

func TestVectorType_WithDimension(t *testing.T) {
	s := &Store{cfg: pgConfig{embeddingDimension: 1536}}
	if got := s.vectorType(); got != "vector(1536)" {
		t.Errorf("vectorType() = %q, want %q", got, "vector(1536)")
	}
}

func TestHNSWWithClause_Empty(t *testing.T) {
	s := &Store{}
	if got := s.hnswWithClause(); got != "" {
		t.Errorf("hnswWithClause() = %q, want empty", got)
	}
}

func TestHNSWWithClause_WithParams(t *testing.T) {
	s := &Store{cfg: pgConfig{hnswM: 16, hnswEFConstruction: 64}}
	got := s.hnswWithClause()
	want := " WITH (m = 16, ef_construction = 64)"
	if got != want {
		t.Errorf("hnswWithClause() = %q, want %q", got, want)
	}
}

func TestSerializeDeserializeEmbedding_RoundTrips(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	s := serializeEmbedding(in)
	out, err := deserializeEmbeddingPg(s)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d components, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := in[i] - out[i]; diff > 1e-5 || diff < -1e-5 {
			t.Errorf("component %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestSerializeEmbedding_Empty(t *testing.T) {
	if got := serializeEmbedding(nil); got != "" {
		t.Errorf("serializeEmbedding(nil) = %q, want empty", got)
	}
}

func TestCreateConversation_AndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, cortex.Conversation{
		MemorySpaceID: "space-1", ParticipantID: "u1", Type: cortex.ConversationUserAgent,
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ConversationID == "" {
		t.Fatal("expected generated conversation id")
	}

	got, err := s.GetConversation(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ParticipantID != "u1" {
		t.Errorf("ParticipantID = %q, want u1", got.ParticipantID)
	}
}

func TestAddMessage_BumpsMessageCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, cortex.Conversation{MemorySpaceID: "space-1", Type: cortex.ConversationUserAgent}, "")
	if _, err := s.AddMessage(ctx, conv.ConversationID, cortex.Message{Role: cortex.RoleUser, Content: "hi"}, ""); err != nil {
		t.Fatalf("add message: %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", got.MessageCount)
	}
}

func TestStoreMemory_AndSearch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.StoreMemory(ctx, cortex.Memory{
		MemorySpaceID: "space-1", Content: "the cat sat on the mat", ContentType: cortex.ContentRaw,
		SourceType: cortex.SourceSystem, Embedding: []float32{1, 0, 0, 0},
	}, 5, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := s.SearchMemory(ctx, []float32{1, 0, 0, 0}, 5, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %v, want close to 1 for identical vector", results[0].Score)
	}
}

func TestStoreMemory_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.StoreMemory(ctx, cortex.Memory{
		MemorySpaceID: "space-1", Content: "hello", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem,
	}, 5, "idem-1")
	if err != nil {
		t.Fatalf("first store: %v", err)
	}
	second, err := s.StoreMemory(ctx, cortex.Memory{
		MemorySpaceID: "space-1", Content: "hello again", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem,
	}, 5, "idem-1")
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if second.MemoryID != first.MemoryID {
		t.Errorf("expected idempotent replay, got a different memory id")
	}
}

func TestUpdateMemory_BumpsVersion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, _ := s.StoreMemory(ctx, cortex.Memory{
		MemorySpaceID: "space-1", Content: "v1", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem,
	}, 5, "")

	updated, err := s.UpdateMemory(ctx, created.MemoryID, func(cur cortex.Memory) (cortex.Memory, error) {
		cur.Content = "v2"
		return cur, nil
	}, 5)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if len(updated.PreviousVersions) != 1 {
		t.Errorf("PreviousVersions = %+v, want one entry", updated.PreviousVersions)
	}
}

func TestInsertFact_AndListFacts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.InsertFact(ctx, cortex.Fact{
		MemorySpaceID: "space-1", UserID: "u1", FactText: "likes coffee", FactType: cortex.FactPreference,
		Triple: &cortex.Triple{Subject: "u1", Predicate: "likes", Object: "coffee"}, Confidence: 90,
	}, "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	facts, err := s.ListFacts(ctx, cortex.FactFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
}

func TestDecayFacts_DeletesBelowMinConfidence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	fact, _ := s.InsertFact(ctx, cortex.Fact{
		MemorySpaceID: "space-1", FactText: "stale", FactType: cortex.FactPreference, Confidence: 10, DecayRate: 0.1,
	}, "")
	future := fact.LastReinforced + 1000

	n, err := s.DecayFacts(ctx, future, 50)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestCreateMemorySpace_DefaultsStatusActive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	space, err := s.CreateMemorySpace(ctx, cortex.MemorySpace{Type: cortex.SpacePersonal})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if space.Status != cortex.SpaceActive {
		t.Errorf("Status = %q, want active", space.Status)
	}
}

func TestCreateContext_RootDefaultsToSelf(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, err := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "plan trip", Status: cortex.ContextActive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.RootID != created.ContextID {
		t.Errorf("RootID = %q, want self %q", created.RootID, created.ContextID)
	}
}

func TestEnqueueAndDequeueGraphSync_OrdersByPriority(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.EnqueueGraphSync(ctx, cortex.GraphSyncItem{Table: "memories", EntityID: "m1", Operation: cortex.GraphOpInsert, Priority: "low"})
	s.EnqueueGraphSync(ctx, cortex.GraphSyncItem{Table: "memories", EntityID: "m2", Operation: cortex.GraphOpInsert, Priority: "critical"})

	batch, err := s.DequeueGraphSyncBatch(ctx, nowMs()+1000, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 2 || batch[0].EntityID != "m2" {
		t.Fatalf("got %+v, want critical item first", batch)
	}
}

func TestDeleteByUser_Conversations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateConversation(ctx, cortex.Conversation{MemorySpaceID: "space-1", ParticipantID: "u1", Type: cortex.ConversationUserAgent}, "")
	s.CreateConversation(ctx, cortex.Conversation{MemorySpaceID: "space-1", ParticipantID: "u2", Type: cortex.ConversationUserAgent}, "")

	n, err := s.DeleteByUser(ctx, "conversations", "u1")
	if err != nil {
		t.Fatalf("delete by user: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
}

func TestEnqueueGDPRWork_SkipsAlreadyQueued(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.EnqueueGDPRWork(ctx, "u1", []string{"memories", "facts"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.CompleteGDPRWork(ctx, "u1", "memories", 5); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.EnqueueGDPRWork(ctx, "u1", []string{"memories", "facts"}); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	pending, err := s.PendingGDPRWork(ctx, "u1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Collection != "facts" {
		t.Fatalf("got %+v, want only facts still pending", pending)
	}
}
