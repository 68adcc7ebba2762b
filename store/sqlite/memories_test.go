package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/cortexmem/cortex"
)

func TestStoreMemory_AndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := cortex.Memory{
		MemorySpaceID: "space-1",
		Content:       "the user prefers dark mode",
		ContentType:   cortex.ContentRaw,
		SourceType:    cortex.SourceConversation,
		Importance:    60,
		Tags:          []string{"preference"},
		Embedding:     []float32{1, 0, 0},
	}
	stored, err := s.StoreMemory(ctx, m, 5, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if stored.MemoryID == "" {
		t.Fatal("expected generated memory id")
	}
	if stored.Version != 1 {
		t.Errorf("Version = %d, want 1", stored.Version)
	}

	got, err := s.GetMemory(ctx, stored.MemoryID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected memory, got nil")
	}
	if got.Content != m.Content || len(got.Embedding) != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestStoreMemory_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := cortex.Memory{MemorySpaceID: "space-1", Content: "a fact", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}
	first, err := s.StoreMemory(ctx, m, 5, "idem-1")
	if err != nil {
		t.Fatalf("first store: %v", err)
	}
	second, err := s.StoreMemory(ctx, m, 5, "idem-1")
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if second.MemoryID != first.MemoryID {
		t.Errorf("expected idempotent hit, got %s vs %s", second.MemoryID, first.MemoryID)
	}
}

func TestGetMemory_MissingReturnsNilNotError(t *testing.T) {
	s := testStore(t)
	m, err := s.GetMemory(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil for missing memory, got %+v", m)
	}
}

func TestUpdateMemory_BumpsVersionAndKeepsHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stored, err := s.StoreMemory(ctx, cortex.Memory{
		MemorySpaceID: "space-1", Content: "v1", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem,
	}, 5, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	updated, err := s.UpdateMemory(ctx, stored.MemoryID, func(cur cortex.Memory) (cortex.Memory, error) {
		cur.Content = "v2"
		return cur, nil
	}, 5)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if updated.Content != "v2" {
		t.Errorf("Content = %q, want v2", updated.Content)
	}
	if len(updated.PreviousVersions) != 1 || updated.PreviousVersions[0].Content != "v1" {
		t.Errorf("PreviousVersions = %+v, want one entry with content v1", updated.PreviousVersions)
	}
}

func TestUpdateMemory_RetentionTrimsHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stored, _ := s.StoreMemory(ctx, cortex.Memory{
		MemorySpaceID: "space-1", Content: "v1", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem,
	}, 1, "")

	id := stored.MemoryID
	for _, content := range []string{"v2", "v3", "v4"} {
		c := content
		updated, err := s.UpdateMemory(ctx, id, func(cur cortex.Memory) (cortex.Memory, error) {
			cur.Content = c
			return cur, nil
		}, 1)
		if err != nil {
			t.Fatalf("update to %s: %v", c, err)
		}
		if len(updated.PreviousVersions) > 1 {
			t.Errorf("with retention=1, PreviousVersions should never exceed 1, got %d", len(updated.PreviousVersions))
		}
	}
}

func TestUpdateMemory_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.UpdateMemory(context.Background(), "missing", func(cur cortex.Memory) (cortex.Memory, error) {
		return cur, nil
	}, 5)
	var nf *cortex.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *cortex.NotFoundError, got %T: %v", err, err)
	}
}

func TestSearchMemory_RanksByCosineSimilarity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "close match", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem, Embedding: []float32{1, 0, 0}}, 5, "")
	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "orthogonal", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem, Embedding: []float32{0, 1, 0}}, 5, "")
	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "no embedding", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")

	results, err := s.SearchMemory(ctx, []float32{1, 0, 0}, 5, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (memory without embedding excluded)", len(results))
	}
	if results[0].Content != "close match" {
		t.Errorf("top result = %q, want %q", results[0].Content, "close match")
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected close match to outscore orthogonal: %v vs %v", results[0].Score, results[1].Score)
	}
}

func TestSearchMemory_TopKCaps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.StoreMemory(ctx, cortex.Memory{
			MemorySpaceID: "space-1", Content: "m", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem,
			Embedding: []float32{float32(i), 1, 0},
		}, 5, "")
	}
	results, err := s.SearchMemory(ctx, []float32{0, 1, 0}, 2, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want topK=2", len(results))
	}
}

func TestSearchMemoryText_MatchesContent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "the quick brown fox", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")
	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "a lazy dog sleeps", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")

	results, err := s.SearchMemoryText(ctx, "fox", 5, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("search text: %v", err)
	}
	if len(results) != 1 || results[0].Content != "the quick brown fox" {
		t.Fatalf("got %+v, want one match on fox", results)
	}
}

func TestListMemory_FilterByTag(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "tagged", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem, Tags: []string{"work"}}, 5, "")
	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "untagged", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")

	out, err := s.ListMemory(ctx, cortex.MemoryFilter{MemorySpaceID: "space-1", Tags: []string{"work"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].Content != "tagged" {
		t.Fatalf("got %+v, want one tagged memory", out)
	}
}

func TestListMemory_ExcludesArchivedByDefault(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stored, _ := s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "m", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")
	if err := s.ArchiveMemory(ctx, stored.MemoryID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	out, err := s.ListMemory(ctx, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected archived memory excluded, got %d", len(out))
	}

	if _, err := s.RestoreMemoryFromArchive(ctx, stored.MemoryID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	out, err = s.ListMemory(ctx, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("list after restore: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected restored memory listed, got %d", len(out))
	}
}

func TestDeleteMemory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stored, _ := s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "m", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")
	if err := s.DeleteMemory(ctx, stored.MemoryID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.GetMemory(ctx, stored.MemoryID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestDeleteManyMemory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		stored, _ := s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "m", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")
		ids = append(ids, stored.MemoryID)
	}
	n, err := s.DeleteManyMemory(ctx, ids)
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}
	count, err := s.CountMemory(ctx, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestBumpAccess(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stored, _ := s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "m", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")
	if err := s.BumpAccess(ctx, stored.MemoryID, 12345); err != nil {
		t.Fatalf("bump access: %v", err)
	}
	got, err := s.GetMemory(ctx, stored.MemoryID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessCount != 1 || got.LastAccessed != 12345 {
		t.Errorf("got AccessCount=%d LastAccessed=%d, want 1, 12345", got.AccessCount, got.LastAccessed)
	}
}

func TestExportMemory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.StoreMemory(ctx, cortex.Memory{MemorySpaceID: "space-1", Content: "m", ContentType: cortex.ContentRaw, SourceType: cortex.SourceSystem}, 5, "")
	data, err := s.ExportMemory(ctx, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty export")
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := cosineSimilarity(c.a, c.b)
			if got != c.expected {
				t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", c.a, c.b, got, c.expected)
			}
		})
	}
}
