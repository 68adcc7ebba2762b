package cortex

import (
	"context"
	"encoding/json"
	"fmt"
)

// extractedFact is one LLM-proposed fact candidate, extracted from a
// conversation exchange before it enters belief revision.
type extractedFact struct {
	Fact       string   `json:"fact"`
	FactType   FactType `json:"factType"`
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Confidence int      `json:"confidence"`
}

const extractionSchema = `{
  "type": "object",
  "properties": {
    "facts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "fact": {"type": "string"},
          "factType": {"type": "string"},
          "subject": {"type": "string"},
          "predicate": {"type": "string"},
          "object": {"type": "string"},
          "confidence": {"type": "integer"}
        },
        "required": ["fact", "subject"]
      }
    }
  },
  "required": ["facts"]
}`

// extractAndReviseFacts runs LLM fact extraction over the exchange content,
// then routes each candidate through the three-stage belief-revision
// pipeline. Returns the per-candidate outcomes and the factId to set
// as the memory's primary factsRef, if any fact remained active.
func (c *Client) extractAndReviseFacts(ctx context.Context, req RememberRequest, content string) ([]FactOutcome, string, error) {
	candidates, err := extractFacts(ctx, c.cfg.llm, content)
	if err != nil {
		return nil, "", err
	}

	var outcomes []FactOutcome
	primary := ""
	for _, cand := range candidates {
		outcome, err := c.reviseBelief(ctx, cand, req)
		if err != nil {
			return outcomes, primary, err
		}
		outcomes = append(outcomes, outcome)
		if outcome.Action != ActionSkip && outcome.Action != ActionDelete {
			primary = outcome.Fact.FactID
		}
	}
	return outcomes, primary, nil
}

func extractFacts(ctx context.Context, llm LLMProvider, content string) ([]extractedFact, error) {
	if llm == nil {
		return nil, nil
	}
	messages := []ChatMessage{
		{Role: "system", Content: "Extract durable facts about the user from this exchange. Return only facts worth remembering long-term."},
		{Role: "user", Content: content},
	}
	raw, err := chat(ctx, llm, messages, ChatOptions{
		Schema:      &ResponseSchema{Name: "extracted_facts", Schema: json.RawMessage(extractionSchema)},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var parsed struct {
		Facts []extractedFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &LLMError{Provider: llm.Name(), Err: fmt.Errorf("parse extraction response: %w", err)}
	}
	return parsed.Facts, nil
}

// adjudication is the Stage-3 outcome vocabulary.
type adjudication string

const (
	adjudicateCreate    adjudication = "create"
	adjudicateUpdate    adjudication = "update"
	adjudicateSupersede adjudication = "supersede"
	adjudicateSkip      adjudication = "skip"
)

// reviseBelief adjudicates one candidate fact through the three-stage
// pipeline and persists the outcome, recording exactly one factHistory event.
func (c *Client) reviseBelief(ctx context.Context, cand extractedFact, req RememberRequest) (FactOutcome, error) {
	ctx, span := c.cfg.tracer.Start(ctx, "cortex.reviseBelief")
	defer span.End()

	now := NowMillis()
	flags := PipelineFlags{SlotMatching: true}

	key := slotKey(req.UserID, cand.Subject, cand.Predicate, cand.FactType)
	active, err := c.cfg.store.FindActiveSlot(ctx, req.MemorySpaceID, req.UserID, cand.Subject, cand.Predicate, cand.FactType)
	if err != nil {
		return FactOutcome{}, err
	}

	var conflict *Fact
	for i := range active {
		if canonicalizeValue(active[i].FactText) == canonicalizeValue(cand.Fact) {
			return c.recordSkip(ctx, req, cand, now, flags, "duplicate-slot", key)
		}
		conflict = &active[i]
	}

	if conflict == nil {
		flags.SemanticMatching = true
		neighbourFilter := FactFilter{MemorySpaceID: req.MemorySpaceID, UserID: req.UserID, Limit: 5}
		var neighbours []ScoredFact
		var err error
		if emb, embErr := embedOne(ctx, req.GenerateEmbedding, c.cfg.embedding, cand.Fact); embErr == nil && len(emb) > 0 {
			neighbours, err = c.cfg.store.SearchFactsByVector(ctx, emb, neighbourFilter.Limit, neighbourFilter)
		} else {
			neighbours, err = c.cfg.store.SearchFactsText(ctx, cand.Fact, neighbourFilter)
		}
		if err != nil {
			return FactOutcome{}, err
		}
		for _, n := range neighbours {
			if n.Score >= c.cfg.similarityThresh && canonicalizeValue(n.FactText) == canonicalizeValue(cand.Fact) {
				return c.recordSkip(ctx, req, cand, now, flags, "duplicate-semantic", key)
			}
		}
	}

	decision := adjudicateCreate
	reason := "novel fact, no conflict"
	if conflict != nil {
		decision = adjudicateSupersede
		reason = "slot conflict, no llm configured"
	}
	if c.cfg.llm != nil && conflict != nil {
		flags.LLMResolution = true
		decision, reason, err = c.adjudicate(ctx, *conflict, cand)
		if err != nil {
			return FactOutcome{}, err
		}
	}

	switch decision {
	case adjudicateSkip:
		return c.recordSkip(ctx, req, cand, now, flags, reason, key)
	case adjudicateUpdate:
		return c.applyUpdate(ctx, *conflict, cand, req, now, flags, reason)
	case adjudicateSupersede:
		if conflict == nil {
			return c.applyCreate(ctx, cand, req, now, flags, reason)
		}
		return c.applySupersede(ctx, *conflict, cand, req, now, flags, reason)
	default:
		return c.applyCreate(ctx, cand, req, now, flags, reason)
	}
}

const adjudicationSchema = `{
  "type": "object",
  "properties": {
    "decision": {"type": "string", "enum": ["create", "update", "supersede", "skip"]},
    "reason": {"type": "string"}
  },
  "required": ["decision"]
}`

func (c *Client) adjudicate(ctx context.Context, old Fact, cand extractedFact) (adjudication, string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: "Decide how a new candidate fact relates to an existing stored fact: create, update, supersede, or skip."},
		{Role: "user", Content: fmt.Sprintf("old: %s\nnew: %s", old.FactText, cand.Fact)},
	}
	raw, err := chat(ctx, c.cfg.llm, messages, ChatOptions{
		Schema:      &ResponseSchema{Name: "adjudication", Schema: json.RawMessage(adjudicationSchema)},
		Temperature: 0.1,
	})
	if err != nil {
		return "", "", err
	}
	var parsed struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", "", &LLMError{Provider: c.cfg.llm.Name(), Err: fmt.Errorf("parse adjudication: %w", err)}
	}
	return adjudication(parsed.Decision), parsed.Reason, nil
}

func (c *Client) recordSkip(ctx context.Context, req RememberRequest, cand extractedFact, now int64, flags PipelineFlags, reason, key string) (FactOutcome, error) {
	ev := FactHistoryEvent{
		EventID:        NewID(),
		MemorySpaceID:  req.MemorySpaceID,
		Action:         ActionSkip,
		NewValue:       cand.Fact,
		Reason:         reason,
		Pipeline:       flags,
		UserID:         req.UserID,
		ParticipantID:  req.ParticipantID,
		ConversationID: req.ConversationID,
		Timestamp:      now,
	}
	if _, err := c.cfg.store.AppendFactHistory(ctx, ev); err != nil {
		return FactOutcome{}, err
	}
	return FactOutcome{Action: ActionSkip, Reason: reason}, nil
}

func (c *Client) applyCreate(ctx context.Context, cand extractedFact, req RememberRequest, now int64, flags PipelineFlags, reason string) (FactOutcome, error) {
	f := Fact{
		FactID:        NewID(),
		MemorySpaceID: req.MemorySpaceID,
		ParticipantID: req.ParticipantID,
		UserID:        req.UserID,
		FactText:      cand.Fact,
		FactType:      cand.FactType,
		Confidence:    cand.Confidence,
		SourceType:    SourceFactExtraction,
		SourceRef:     &FactSourceRef{ConversationID: req.ConversationID},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cand.Subject != "" || cand.Object != "" {
		f.Triple = &Triple{Subject: cand.Subject, Predicate: cand.Predicate, Object: cand.Object}
	}
	f, err := c.cfg.store.InsertFact(ctx, f, "")
	if err != nil {
		return FactOutcome{}, err
	}
	if err := c.appendHistory(ctx, f, ActionCreate, "", cand.Fact, reason, flags, req, now); err != nil {
		return FactOutcome{}, err
	}
	c.enqueueFactGraphSync(ctx, f, GraphOpInsert)
	return FactOutcome{Fact: f, Action: ActionCreate, Reason: reason}, nil
}

func (c *Client) applyUpdate(ctx context.Context, old Fact, cand extractedFact, req RememberRequest, now int64, flags PipelineFlags, reason string) (FactOutcome, error) {
	updated, err := c.cfg.store.UpdateFact(ctx, old.FactID, func(cur Fact) (Fact, error) {
		cur.FactText = cand.Fact
		cur.Confidence = cand.Confidence
		cur.Version++
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		return FactOutcome{}, err
	}
	if err := c.appendHistory(ctx, updated, ActionUpdate, old.FactText, cand.Fact, reason, flags, req, now); err != nil {
		return FactOutcome{}, err
	}
	c.enqueueFactGraphSync(ctx, updated, GraphOpUpdate)
	return FactOutcome{Fact: updated, Action: ActionUpdate, Reason: reason}, nil
}

func (c *Client) applySupersede(ctx context.Context, old Fact, cand extractedFact, req RememberRequest, now int64, flags PipelineFlags, reason string) (FactOutcome, error) {
	if old.Chain.SupersededBy != "" {
		if _, err := c.recordSkip(ctx, req, cand, now, flags, "cycle", ""); err != nil {
			return FactOutcome{}, err
		}
		return FactOutcome{}, &CircularSupersedeError{FactID: old.FactID}
	}
	newFact := Fact{
		FactID:        NewID(),
		MemorySpaceID: req.MemorySpaceID,
		ParticipantID: req.ParticipantID,
		UserID:        req.UserID,
		FactText:      cand.Fact,
		FactType:      cand.FactType,
		Confidence:    cand.Confidence,
		SourceType:    SourceFactExtraction,
		SourceRef:     &FactSourceRef{ConversationID: req.ConversationID},
		Version:       old.Version + 1,
		Chain:         SupersedeChain{Supersedes: old.FactID},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cand.Subject != "" || cand.Object != "" {
		newFact.Triple = &Triple{Subject: cand.Subject, Predicate: cand.Predicate, Object: cand.Object}
	}
	newFact, err := c.cfg.store.InsertFact(ctx, newFact, "")
	if err != nil {
		return FactOutcome{}, err
	}
	if _, err := c.cfg.store.UpdateFact(ctx, old.FactID, func(cur Fact) (Fact, error) {
		cur.Chain.SupersededBy = newFact.FactID
		cur.UpdatedAt = now
		return cur, nil
	}); err != nil {
		return FactOutcome{}, err
	}
	if err := c.appendHistory(ctx, newFact, ActionSupersede, old.FactText, cand.Fact, reason, flags, req, now); err != nil {
		return FactOutcome{}, err
	}
	c.enqueueFactGraphSync(ctx, newFact, GraphOpUpdate)
	return FactOutcome{Fact: newFact, Action: ActionSupersede, Reason: reason}, nil
}

func (c *Client) appendHistory(ctx context.Context, f Fact, action FactHistoryAction, oldVal, newVal, reason string, flags PipelineFlags, req RememberRequest, now int64) error {
	ev := FactHistoryEvent{
		EventID:        NewID(),
		FactID:         f.FactID,
		MemorySpaceID:  f.MemorySpaceID,
		Action:         action,
		OldValue:       oldVal,
		NewValue:       newVal,
		SupersededBy:   f.Chain.SupersededBy,
		Supersedes:     f.Chain.Supersedes,
		Reason:         reason,
		Confidence:     f.Confidence,
		Pipeline:       flags,
		UserID:         req.UserID,
		ParticipantID:  req.ParticipantID,
		ConversationID: req.ConversationID,
		Timestamp:      now,
	}
	_, err := c.cfg.store.AppendFactHistory(ctx, ev)
	return err
}

func (c *Client) enqueueFactGraphSync(ctx context.Context, f Fact, op GraphQueueOperation) {
	if c.cfg.graph == nil {
		return
	}
	now := NowMillis()
	_, _ = c.cfg.store.EnqueueGraphSync(ctx, GraphSyncItem{
		ID:        NewID(),
		Table:     "facts",
		EntityID:  f.FactID,
		Operation: op,
		Entity: map[string]any{
			"factId":   f.FactID,
			"fact":     f.FactText,
			"factType": string(f.FactType),
		},
		Priority:  "background",
		CreatedAt: now,
		UpdatedAt: now,
	})
}
