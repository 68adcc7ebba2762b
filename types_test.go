package cortex

import "testing"

func TestFactActive(t *testing.T) {
	f := Fact{FactID: "f1"}
	if !f.Active() {
		t.Fatalf("fresh fact should be active")
	}
	f.Chain.SupersededBy = "f2"
	if f.Active() {
		t.Fatalf("fact with supersededBy set should not be active")
	}
}

func TestCanonicalizeValue(t *testing.T) {
	a := canonicalizeValue("My Favorite Color Is Blue")
	b := canonicalizeValue("my favorite color is   blue")
	if a != b {
		t.Fatalf("canonicalized values differ: %q vs %q", a, b)
	}
}

func TestSlotKeyFallsBackToHeadWhenNoPredicate(t *testing.T) {
	k1 := slotKey("user-1", "favorite color", "", FactPreference)
	k2 := slotKey("user-1", "favorite color", "", FactPreference)
	if k1 != k2 {
		t.Fatalf("slotKey not deterministic: %q vs %q", k1, k2)
	}
	k3 := slotKey("user-1", "favorite food", "", FactPreference)
	if k1 == k3 {
		t.Fatalf("slotKey should differ for different subjects")
	}
}

func TestScoreCandidateMonotoneInImportance(t *testing.T) {
	now := int64(1_700_000_000_000)
	w := DefaultRankWeights
	low := rankedCandidate{importance: 30, createdAt: now, sources: map[string]struct{}{"vector": {}}}
	high := rankedCandidate{importance: 90, createdAt: now, sources: map[string]struct{}{"vector": {}}}

	if scoreCandidate(high, w, now) < scoreCandidate(low, w, now) {
		t.Fatalf("higher importance should not score lower")
	}
}
