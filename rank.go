package cortex

import "math"

// RankWeights are the scoring coefficients. Each candidate's score is:
//
//	score = w_sim*similarity + w_imp*(importance/100) + w_conf*(confidence/100)
//	      + w_recency*recencyDecay(age) + w_access*log1p(accessCount)/K
//	      + w_multi*(numSources-1)
type RankWeights struct {
	Similarity float32
	Importance float32
	Confidence float32
	Recency    float32
	Access     float32
	MultiSource float32
	// HalfLifeMs is the recency-decay half-life; recencyDecay(age) = exp(-age*ln2/HalfLifeMs).
	HalfLifeMs int64
	// AccessK normalises the access-frequency term: log1p(accessCount)/AccessK.
	AccessK float32
}

// DefaultRankWeights are the default scoring coefficients.
var DefaultRankWeights = RankWeights{
	Similarity:  0.50,
	Importance:  0.20,
	Confidence:  0.20,
	Recency:     0.15,
	Access:      0.05,
	MultiSource: 0.10,
	HalfLifeMs:  7 * 24 * 60 * 60 * 1000, // 7 days
	AccessK:     5,
}

func recencyDecay(ageMs int64, halfLifeMs int64) float64 {
	if halfLifeMs <= 0 {
		return 0
	}
	if ageMs < 0 {
		ageMs = 0
	}
	return math.Exp(-float64(ageMs) * math.Ln2 / float64(halfLifeMs))
}

// rankedCandidate is the common scoring shape shared by memories and facts
// before the two collections are merged into a RecallResult.
type rankedCandidate struct {
	collection string // "memories" | "facts" | "graph"
	id         string
	similarity float32
	importance int // memories only
	confidence int // facts only
	accessCount int
	createdAt  int64
	sources    map[string]struct{}
	score      float32
}

func scoreCandidate(c rankedCandidate, w RankWeights, now int64) float32 {
	age := now - c.createdAt
	score := w.Similarity*c.similarity +
		w.Importance*(float32(c.importance)/100) +
		w.Confidence*(float32(c.confidence)/100) +
		w.Recency*float32(recencyDecay(age, w.HalfLifeMs)) +
		w.Access*float32(math.Log1p(float64(c.accessCount)))/w.AccessK
	if n := len(c.sources); n > 1 {
		score += w.MultiSource * float32(n-1)
	}
	return score
}
