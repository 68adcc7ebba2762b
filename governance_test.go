package cortex

import (
	"context"
	"testing"
)

func TestRequestGDPRDeletionDeletesAcrossCollections(t *testing.T) {
	store := newFakeStore()
	now := NowMillis()
	store.StoreMemory(context.Background(), Memory{MemorySpaceID: "s1", UserID: "user-1", CreatedAt: now, UpdatedAt: now}, 0, "")
	store.InsertFact(context.Background(), Fact{MemorySpaceID: "s1", UserID: "user-1", FactText: "x", CreatedAt: now, UpdatedAt: now}, "")

	gov := NewGovernance(store)
	if err := gov.RequestGDPRDeletion(context.Background(), "user-1"); err != nil {
		t.Fatalf("RequestGDPRDeletion: %v", err)
	}

	n, _ := store.CountMemory(context.Background(), MemoryFilter{})
	if n != 0 {
		t.Fatalf("expected memories for user-1 to be deleted, got %d remaining", n)
	}
	n, _ = store.CountFacts(context.Background(), FactFilter{})
	if n != 0 {
		t.Fatalf("expected facts for user-1 to be deleted, got %d remaining", n)
	}

	pending, _ := store.PendingGDPRWork(context.Background(), "user-1")
	for _, item := range pending {
		if !item.Done {
			t.Fatalf("expected all GDPR work items to be done, found pending %+v", item)
		}
	}
}

func TestRequestGDPRDeletionIsResumable(t *testing.T) {
	store := newFakeStore()
	// Seed work as if a prior run crashed after queuing but before completing.
	store.EnqueueGDPRWork(context.Background(), "user-2", gdprCollections)

	gov := NewGovernance(store)
	if err := gov.RequestGDPRDeletion(context.Background(), "user-2"); err != nil {
		t.Fatalf("RequestGDPRDeletion: %v", err)
	}

	pending, _ := store.PendingGDPRWork(context.Background(), "user-2")
	if len(pending) != len(gdprCollections) {
		t.Fatalf("expected %d work items, got %d", len(gdprCollections), len(pending))
	}
	for _, item := range pending {
		if !item.Done {
			t.Fatalf("expected resumed work to complete, found pending %+v", item)
		}
	}
}

func TestEnforceRetentionRecordsEnforcement(t *testing.T) {
	store := newFakeStore()
	gov := NewGovernance(store)

	enf, err := gov.EnforceRetention(context.Background(), RetentionPolicy{PolicyID: "p1", MaxAgeMs: 1000}, "session")
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if enf.EnforcementID == "" {
		t.Fatalf("expected enforcement to be assigned an id")
	}
	if enf.PolicyID != "p1" {
		t.Fatalf("enforcement policyId = %q, want p1", enf.PolicyID)
	}
}

// TestEnforceRetentionActuallyTrimsVersions proves the reported
// VersionsDeleted count corresponds to a persisted trim, not just an
// in-memory tally: the record's PreviousVersions must shrink in the store.
func TestEnforceRetentionActuallyTrimsVersions(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	for i := 0; i < 5; i++ {
		if _, err := store.StoreImmutable(ctx, "session", "rec-1", map[string]any{"n": i}, "u1", 0); err != nil {
			t.Fatalf("StoreImmutable: %v", err)
		}
	}
	before, _ := store.GetImmutable(ctx, "session", "rec-1")
	if len(before.PreviousVersions) != 4 {
		t.Fatalf("expected 4 previous versions before enforcement, got %d", len(before.PreviousVersions))
	}

	gov := NewGovernance(store)
	enf, err := gov.EnforceRetention(ctx, RetentionPolicy{PolicyID: "p1", MaxVersions: 2}, "session")
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if enf.VersionsDeleted != 2 {
		t.Fatalf("VersionsDeleted = %d, want 2", enf.VersionsDeleted)
	}

	after, _ := store.GetImmutable(ctx, "session", "rec-1")
	if len(after.PreviousVersions) != 2 {
		t.Fatalf("expected trim to persist: got %d previous versions, want 2", len(after.PreviousVersions))
	}
}

func TestShouldKeepVersions_NoPolicyBoundsKeepsAll(t *testing.T) {
	rec := ImmutableRecord{PreviousVersions: make([]VersionSnapshot, 5)}
	if got := shouldKeepVersions(rec, RetentionPolicy{}, 0); got != 5 {
		t.Errorf("shouldKeepVersions() = %d, want 5 (no bounds configured)", got)
	}
}

func TestShouldKeepVersions_CountOnly(t *testing.T) {
	rec := ImmutableRecord{PreviousVersions: make([]VersionSnapshot, 5)}
	got := shouldKeepVersions(rec, RetentionPolicy{MaxVersions: 3}, 0)
	if got != 3 {
		t.Errorf("shouldKeepVersions() = %d, want 3", got)
	}
}

func TestShouldKeepVersions_AgeOnly(t *testing.T) {
	now := int64(10_000)
	rec := ImmutableRecord{PreviousVersions: []VersionSnapshot{
		{Timestamp: 0},     // age 10000, too old
		{Timestamp: 1000},  // age 9000, too old
		{Timestamp: 9500},  // age 500, within bound
		{Timestamp: 9900},  // age 100, within bound
	}}
	got := shouldKeepVersions(rec, RetentionPolicy{MaxAgeMs: 1000}, now)
	if got != 2 {
		t.Errorf("shouldKeepVersions() = %d, want 2 (only the two recent snapshots)", got)
	}
}

func TestShouldKeepVersions_IntersectionIsStricterBound(t *testing.T) {
	now := int64(10_000)
	rec := ImmutableRecord{PreviousVersions: []VersionSnapshot{
		{Timestamp: 0},
		{Timestamp: 1000},
		{Timestamp: 9500},
		{Timestamp: 9900},
		{Timestamp: 9950},
	}}
	// Count bound keeps 4, age bound (MaxAgeMs=600) keeps 3 -> intersection keeps 3.
	got := shouldKeepVersions(rec, RetentionPolicy{MaxVersions: 4, MaxAgeMs: 600}, now)
	if got != 3 {
		t.Errorf("shouldKeepVersions() = %d, want 3 (intersection takes the stricter bound)", got)
	}
}

func TestShouldKeepVersions_UnionIsLooserBound(t *testing.T) {
	now := int64(10_000)
	rec := ImmutableRecord{PreviousVersions: []VersionSnapshot{
		{Timestamp: 0},
		{Timestamp: 1000},
		{Timestamp: 9500},
		{Timestamp: 9900},
		{Timestamp: 9950},
	}}
	// Count bound keeps 4, age bound (MaxAgeMs=600) keeps 3 -> union keeps 4.
	got := shouldKeepVersions(rec, RetentionPolicy{MaxVersions: 4, MaxAgeMs: 600, Mode: "union"}, now)
	if got != 4 {
		t.Errorf("shouldKeepVersions() = %d, want 4 (union takes the looser bound)", got)
	}
}
