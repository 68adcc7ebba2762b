package cortex

import "testing"

func TestRecencyDecay_ZeroAgeIsOne(t *testing.T) {
	if got := recencyDecay(0, DefaultRankWeights.HalfLifeMs); got != 1 {
		t.Errorf("recencyDecay(0, halfLife) = %v, want 1", got)
	}
}

func TestRecencyDecay_HalfLifeAgeIsOneHalf(t *testing.T) {
	halfLife := int64(1000)
	got := recencyDecay(halfLife, halfLife)
	if diff := got - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("recencyDecay(halfLife, halfLife) = %v, want ~0.5", got)
	}
}

func TestRecencyDecay_NegativeAgeClampsToZero(t *testing.T) {
	got := recencyDecay(-500, 1000)
	if got != 1 {
		t.Errorf("recencyDecay(negative age) = %v, want 1 (clamped to age 0)", got)
	}
}

func TestRecencyDecay_NonPositiveHalfLifeIsZero(t *testing.T) {
	if got := recencyDecay(100, 0); got != 0 {
		t.Errorf("recencyDecay with zero half-life = %v, want 0", got)
	}
}

func TestScoreCandidate_HigherSimilarityScoresHigher(t *testing.T) {
	now := int64(1_000_000)
	low := rankedCandidate{similarity: 0.2, createdAt: now, sources: map[string]struct{}{"memories": {}}}
	high := rankedCandidate{similarity: 0.9, createdAt: now, sources: map[string]struct{}{"memories": {}}}

	if scoreCandidate(low, DefaultRankWeights, now) >= scoreCandidate(high, DefaultRankWeights, now) {
		t.Error("expected higher similarity to score higher")
	}
}

func TestScoreCandidate_MultiSourceBonus(t *testing.T) {
	now := int64(1_000_000)
	single := rankedCandidate{similarity: 0.5, createdAt: now, sources: map[string]struct{}{"memories": {}}}
	multi := rankedCandidate{similarity: 0.5, createdAt: now, sources: map[string]struct{}{"memories": {}, "facts": {}}}

	if scoreCandidate(multi, DefaultRankWeights, now) <= scoreCandidate(single, DefaultRankWeights, now) {
		t.Error("expected multi-source candidate to score higher due to MultiSource bonus")
	}
}

func TestScoreCandidate_OlderCandidateScoresLowerOnRecency(t *testing.T) {
	now := int64(30 * 24 * 60 * 60 * 1000)
	fresh := rankedCandidate{similarity: 0.5, createdAt: now, sources: map[string]struct{}{"memories": {}}}
	stale := rankedCandidate{similarity: 0.5, createdAt: 0, sources: map[string]struct{}{"memories": {}}}

	if scoreCandidate(stale, DefaultRankWeights, now) >= scoreCandidate(fresh, DefaultRankWeights, now) {
		t.Error("expected older candidate to score lower due to recency decay")
	}
}
