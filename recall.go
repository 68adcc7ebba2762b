package cortex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RecallRequest is the input to Client.Recall. Query is embedded with
// GenerateEmbedding or the configured embedding provider when either is
// set; without an embedding the memories source falls back to full-text
// search on Query, and is skipped when Query is empty as well.
type RecallRequest struct {
	Query             string
	GenerateEmbedding GenerateEmbeddingFunc

	MemorySpaceID string
	TenantID      string
	UserID        string
	AgentID       string
	ParticipantID string

	Tags              []string
	MinImportance     int
	CreatedAfter      int64
	CreatedBefore     int64
	Subject           string
	Predicate         string
	IncludeSuperseded bool

	TopK             int           // default 10
	PerSourceTimeout time.Duration // default 2s
	TotalDeadline    time.Duration // default 5s
	ExpandGraph      bool
}

// SourceStat reports how one recall source performed.
type SourceStat struct {
	Count     int
	LatencyMs int64
	Err       string
}

// RecallResult is the output of Client.Recall.
type RecallResult struct {
	Memories      []ScoredMemory
	Facts         []ScoredFact
	GraphEntities []GraphEntity
	Sources       map[string]SourceStat
	TotalResults  int
}

// GraphEntity is a node surfaced by one- or two-hop graph expansion that was
// not already present in the vector/facts results.
type GraphEntity struct {
	Label string
	ID    string
	Props map[string]any
}

// Recall fans out to the vector, facts, and (if configured) graph sources
// under a per-source timeout and a total deadline, merges results identified
// by (collection, id), and ranks them. A timeout or error on any one
// source is recorded in Sources but is not fatal to the call.
func (c *Client) Recall(ctx context.Context, req RecallRequest) (RecallResult, error) {
	ctx, span := c.cfg.tracer.Start(ctx, "cortex.Recall", StringAttr("memorySpaceId", req.MemorySpaceID))
	defer span.End()

	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.PerSourceTimeout <= 0 {
		req.PerSourceTimeout = 2 * time.Second
	}
	if req.TotalDeadline <= 0 {
		req.TotalDeadline = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, req.TotalDeadline)
	defer cancel()

	var embedding []float32
	if req.GenerateEmbedding != nil || c.cfg.embedding != nil {
		var err error
		embedding, err = embedOne(ctx, req.GenerateEmbedding, c.cfg.embedding, req.Query)
		if err != nil {
			span.Event("embedding-unavailable", StringAttr("err", err.Error()))
		}
	}

	sources := map[string]SourceStat{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	memFilter := MemoryFilter{
		MemorySpaceID: req.MemorySpaceID,
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		AgentID:       req.AgentID,
		ParticipantID: req.ParticipantID,
		Tags:          req.Tags,
		MinImportance: req.MinImportance,
		CreatedAfter:  req.CreatedAfter,
		CreatedBefore: req.CreatedBefore,
		Limit:         req.TopK * 3,
	}
	factFilter := FactFilter{
		MemorySpaceID:     req.MemorySpaceID,
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		ParticipantID:     req.ParticipantID,
		Subject:           req.Subject,
		Predicate:         req.Predicate,
		IncludeSuperseded: req.IncludeSuperseded,
		Limit:             req.TopK * 3,
	}

	var vecResults []ScoredMemory
	var factResults []ScoredFact

	wg.Add(1)
	go func() {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, req.PerSourceTimeout)
		defer cancel()
		start := time.Now()
		var stat SourceStat
		if len(embedding) > 0 {
			res, err := c.cfg.store.SearchMemory(sctx, embedding, req.TopK*3, memFilter)
			stat.LatencyMs = time.Since(start).Milliseconds()
			if err != nil {
				stat.Err = err.Error()
			} else {
				vecResults = res
				stat.Count = len(res)
			}
		} else if req.Query != "" {
			res, err := c.cfg.store.SearchMemoryText(sctx, req.Query, req.TopK*3, memFilter)
			stat.LatencyMs = time.Since(start).Milliseconds()
			if err != nil {
				stat.Err = err.Error()
			} else {
				vecResults = res
				stat.Count = len(res)
			}
		}
		mu.Lock()
		sources["vector"] = stat
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, req.PerSourceTimeout)
		defer cancel()
		start := time.Now()
		var stat SourceStat
		res, err := c.cfg.store.SearchFactsText(sctx, req.Query, factFilter)
		stat.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			stat.Err = err.Error()
		} else {
			factResults = res
			stat.Count = len(res)
		}
		mu.Lock()
		sources["facts"] = stat
		mu.Unlock()
	}()

	wg.Wait()

	now := NowMillis()
	w := c.cfg.recallWeights

	memByID := map[string]*ScoredMemory{}
	for i := range vecResults {
		m := &vecResults[i]
		cand := rankedCandidate{
			collection:  "memories",
			id:          m.MemoryID,
			similarity:  m.Score,
			importance:  m.Importance,
			accessCount: m.AccessCount,
			createdAt:   m.CreatedAt,
			sources:     map[string]struct{}{"vector": {}},
		}
		m.Score = scoreCandidate(cand, w, now)
		m.Sources = []string{"vector"}
		memByID[m.MemoryID] = m
	}

	factByID := map[string]*ScoredFact{}
	for i := range factResults {
		f := &factResults[i]
		cand := rankedCandidate{
			collection:  "facts",
			id:          f.FactID,
			similarity:  f.Score,
			confidence:  f.Confidence,
			createdAt:   f.CreatedAt,
			sources:     map[string]struct{}{"facts": {}},
		}
		f.Score = scoreCandidate(cand, w, now)
		f.Sources = []string{"facts"}
		factByID[f.FactID] = f
	}

	var graphEntities []GraphEntity
	if req.ExpandGraph && c.cfg.graph != nil {
		start := time.Now()
		seeds := make([]string, 0, len(memByID)+len(factByID))
		for id := range memByID {
			seeds = append(seeds, id)
		}
		for id := range factByID {
			seeds = append(seeds, id)
		}
		ents, err := c.expandGraph(ctx, seeds, req.TopK)
		stat := SourceStat{LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			stat.Err = err.Error()
		} else {
			graphEntities = ents
			stat.Count = len(ents)
		}
		sources["graph"] = stat
	}

	memories := make([]ScoredMemory, 0, len(memByID))
	for _, m := range memByID {
		memories = append(memories, *m)
	}
	sort.Slice(memories, func(i, j int) bool { return lessScored(memories[i].Score, memories[i].CreatedAt, memories[i].MemoryID, memories[j].Score, memories[j].CreatedAt, memories[j].MemoryID) })
	if len(memories) > req.TopK {
		memories = memories[:req.TopK]
	}

	facts := make([]ScoredFact, 0, len(factByID))
	for _, f := range factByID {
		facts = append(facts, *f)
	}
	sort.Slice(facts, func(i, j int) bool { return lessScored(facts[i].Score, facts[i].CreatedAt, facts[i].FactID, facts[j].Score, facts[j].CreatedAt, facts[j].FactID) })
	if len(facts) > req.TopK {
		facts = facts[:req.TopK]
	}

	return RecallResult{
		Memories:      memories,
		Facts:         facts,
		GraphEntities: graphEntities,
		Sources:       sources,
		TotalResults:  len(memories) + len(facts) + len(graphEntities),
	}, nil
}

// lessScored orders by score descending, then createdAt descending, then id
// ascending, the tie-break rule.
func lessScored(scoreA float32, createdAtA int64, idA string, scoreB float32, createdAtB int64, idB string) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	if createdAtA != createdAtB {
		return createdAtA > createdAtB
	}
	return idA < idB
}

// ContextString concatenates the top-K recall result into a model-ready
// prompt fragment with source attributions.
func (r RecallResult) ContextString(k int) string {
	if k <= 0 {
		k = 10
	}
	var b strings.Builder
	n := 0
	for _, m := range r.Memories {
		if n >= k {
			break
		}
		fmt.Fprintf(&b, "[memory:%s] %s\n", strings.Join(m.Sources, ","), m.Content)
		n++
	}
	for _, f := range r.Facts {
		if n >= k {
			break
		}
		fmt.Fprintf(&b, "[fact:%s] %s\n", strings.Join(f.Sources, ","), f.FactText)
		n++
	}
	return b.String()
}
