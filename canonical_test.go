package cortex

import "testing"

func TestCanonicalizeValue_FoldsCaseAndStopwords(t *testing.T) {
	got := canonicalizeValue("The Quick Brown Fox")
	want := "quick brown fox"
	if got != want {
		t.Errorf("canonicalizeValue = %q, want %q", got, want)
	}
}

func TestCanonicalizeValue_CollapsesWhitespace(t *testing.T) {
	got := canonicalizeValue("  lives   in   Seattle  ")
	want := "lives seattle"
	if got != want {
		t.Errorf("canonicalizeValue = %q, want %q", got, want)
	}
}

func TestCanonicalizeValue_Empty(t *testing.T) {
	if got := canonicalizeValue(""); got != "" {
		t.Errorf("canonicalizeValue(\"\") = %q, want empty", got)
	}
}

func TestSlotKey_DistinguishesUsersAndSubjects(t *testing.T) {
	a := slotKey("u1", "location", "lives in", FactPreference)
	b := slotKey("u2", "location", "lives in", FactPreference)
	if a == b {
		t.Error("expected different slot keys for different users")
	}

	c := slotKey("u1", "location", "lives in", FactPreference)
	if a != c {
		t.Error("expected identical slot keys for identical inputs")
	}
}

func TestSlotKey_EmptyPredicateFallsBackToSubject(t *testing.T) {
	withPredicate := slotKey("u1", "Seattle", "Seattle", FactPreference)
	withoutPredicate := slotKey("u1", "Seattle", "", FactPreference)
	if withPredicate != withoutPredicate {
		t.Errorf("expected empty predicate to canonicalize the subject as a fallback: %q vs %q",
			withPredicate, withoutPredicate)
	}
}

func TestSlotKey_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := slotKey("u1", "Seattle", "Lives In", FactPreference)
	b := slotKey("u1", "  seattle  ", "lives   in", FactPreference)
	if a != b {
		t.Errorf("expected slot key to be case/whitespace insensitive: %q vs %q", a, b)
	}
}
