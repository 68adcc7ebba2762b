package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cortexmem/cortex"
)

const factSelectColumnsPg = `SELECT fact_id, memory_space_id, participant_id, user_id, fact_text, fact_type, subject,
	predicate, object, confidence, source_type, source_ref, tags, category, search_aliases, semantic_context, entities,
	relations, valid_from, valid_until, version, superseded_by, supersedes, decay_rate, last_reinforced, embedding,
	tenant_id, created_at, updated_at`

func (s *Store) InsertFact(ctx context.Context, f cortex.Fact, idem cortex.IdempotencyKey) (cortex.Fact, error) {
	if idem != "" {
		var existingID string
		err := s.pool.QueryRow(ctx, `SELECT fact_id FROM facts WHERE idem_key = $1`, string(idem)).Scan(&existingID)
		if err == nil {
			if existing, getErr := s.GetFact(ctx, existingID); getErr == nil && existing != nil {
				return *existing, nil
			}
		} else if err != pgx.ErrNoRows {
			return cortex.Fact{}, fmt.Errorf("postgres: check fact idempotency: %w", err)
		}
	}

	if f.FactID == "" {
		f.FactID = cortex.NewID()
	}
	now := nowMs()
	f.CreatedAt, f.UpdatedAt = now, now
	if f.Version == 0 {
		f.Version = 1
	}
	if f.LastReinforced == 0 {
		f.LastReinforced = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return cortex.Fact{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertFactPg(ctx, tx, f, idem); err != nil {
		return cortex.Fact{}, fmt.Errorf("postgres: insert fact: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cortex.Fact{}, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return f, nil
}

func insertFactPg(ctx context.Context, tx pgx.Tx, f cortex.Fact, idem cortex.IdempotencyKey) error {
	var subject, predicate, object *string
	if f.Triple != nil {
		subject, predicate, object = &f.Triple.Subject, &f.Triple.Predicate, &f.Triple.Object
	}
	var embStr *string
	if len(f.Embedding) > 0 {
		v := serializeEmbedding(f.Embedding)
		embStr = &v
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO facts (fact_id, memory_space_id, participant_id, user_id, fact_text, fact_type, subject,
			predicate, object, confidence, source_type, source_ref, tags, category, search_aliases, semantic_context,
			entities, relations, valid_from, valid_until, version, superseded_by, supersedes, decay_rate,
			last_reinforced, embedding, tenant_id, idem_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			$22, $23, $24, $25, $26::vector, $27, $28, $29, $30)
		 ON CONFLICT (fact_id) DO UPDATE SET fact_text = EXCLUDED.fact_text, confidence = EXCLUDED.confidence,
			version = EXCLUDED.version, superseded_by = EXCLUDED.superseded_by, embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`,
		f.FactID, f.MemorySpaceID, nullStr(f.ParticipantID), nullStr(f.UserID), f.FactText, string(f.FactType),
		subject, predicate, object, f.Confidence, nullStr(string(f.SourceType)), marshalJSON(f.SourceRef),
		marshalJSON(f.Tags), nullStr(f.Category), marshalJSON(f.SearchAliases), nullStr(f.SemanticContext),
		marshalJSON(f.Entities), marshalJSON(f.Relations), nullInt64Ptr(windowFromPg(f.Window)), nullInt64Ptr(windowUntilPg(f.Window)),
		f.Version, nullStr(f.Chain.SupersededBy), nullStr(f.Chain.Supersedes), f.DecayRate, nullInt64Ptr(f.LastReinforced),
		embStr, nullStr(f.TenantID), nullStr(string(idem)), f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func windowFromPg(w *cortex.TemporalWindow) int64 {
	if w == nil {
		return 0
	}
	return w.ValidFrom
}

func windowUntilPg(w *cortex.TemporalWindow) int64 {
	if w == nil {
		return 0
	}
	return w.ValidUntil
}

func (s *Store) GetFact(ctx context.Context, factID string) (*cortex.Fact, error) {
	row := s.pool.QueryRow(ctx, factSelectColumnsPg+` FROM facts WHERE fact_id = $1`, factID)
	f, err := scanFactPg(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get fact: %w", err)
	}
	return &f, nil
}

func (s *Store) UpdateFact(ctx context.Context, factID string, patch func(cur cortex.Fact) (cortex.Fact, error)) (cortex.Fact, error) {
	cur, err := s.GetFact(ctx, factID)
	if err != nil {
		return cortex.Fact{}, err
	}
	if cur == nil {
		return cortex.Fact{}, &cortex.NotFoundError{Collection: "fact", Key: factID}
	}
	next, err := patch(*cur)
	if err != nil {
		return cortex.Fact{}, err
	}
	next.FactID = factID
	next.Version = cur.Version + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = nowMs()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return cortex.Fact{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := insertFactPg(ctx, tx, next, ""); err != nil {
		return cortex.Fact{}, fmt.Errorf("postgres: update fact: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cortex.Fact{}, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return next, nil
}

func factFilterClausePg(f cortex.FactFilter, startParam int) (string, []any) {
	var clauses []string
	var args []any
	p := startParam
	if !f.IncludeSuperseded {
		clauses = append(clauses, "superseded_by IS NULL")
	}
	if f.MemorySpaceID != "" {
		clauses = append(clauses, fmt.Sprintf("memory_space_id = $%d", p))
		args = append(args, f.MemorySpaceID)
		p++
	}
	if f.TenantID != "" {
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", p))
		args = append(args, f.TenantID)
		p++
	}
	if f.UserID != "" {
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", p))
		args = append(args, f.UserID)
		p++
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, fmt.Sprintf("participant_id = $%d", p))
		args = append(args, f.ParticipantID)
		p++
	}
	if f.Subject != "" {
		clauses = append(clauses, fmt.Sprintf("subject = $%d", p))
		args = append(args, f.Subject)
		p++
	}
	if f.Predicate != "" {
		clauses = append(clauses, fmt.Sprintf("predicate = $%d", p))
		args = append(args, f.Predicate)
		p++
	}
	if f.FactType != "" {
		clauses = append(clauses, fmt.Sprintf("fact_type = $%d", p))
		args = append(args, string(f.FactType))
		p++
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SearchFactsByVector performs pgvector HNSW cosine-distance search over
// facts with a stored embedding, pre-filtered by f.
func (s *Store) SearchFactsByVector(ctx context.Context, embedding []float32, topK int, f cortex.FactFilter) ([]cortex.ScoredFact, error) {
	where, args := factFilterClausePg(f, 2) // $1 reserved for the query embedding
	extra := strings.Replace(where, " WHERE", " AND", 1)

	embStr := serializeEmbedding(embedding)
	allArgs := append([]any{embStr}, args...)
	limitParam := len(allArgs) + 1
	allArgs = append(allArgs, topK)

	q := strings.Replace(factSelectColumnsPg, "SELECT", "SELECT 1 - (embedding <=> $1::vector) AS score,", 1) +
		` FROM facts WHERE embedding IS NOT NULL` + extra +
		` ORDER BY embedding <=> $1::vector LIMIT $` + fmt.Sprint(limitParam)

	rows, err := s.pool.Query(ctx, q, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search facts by vector: %w", err)
	}
	defer rows.Close()

	var out []cortex.ScoredFact
	for rows.Next() {
		var score float32
		fact, err := scanFactWithScorePg(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored fact: %w", err)
		}
		out = append(out, cortex.ScoredFact{Fact: fact, Score: score})
	}
	return out, rows.Err()
}

// SearchFactsText performs tsvector full-text search over fact_text, pre-filtered by f.
func (s *Store) SearchFactsText(ctx context.Context, query string, f cortex.FactFilter) ([]cortex.ScoredFact, error) {
	where, args := factFilterClausePg(f, 2) // $1 reserved for the query text
	extra := strings.Replace(where, " WHERE", " AND", 1)
	if extra == "" {
		extra = ""
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := strings.Replace(factSelectColumnsPg, "SELECT",
		"SELECT ts_rank(to_tsvector('english', fact_text), plainto_tsquery('english', $1)) AS score,", 1) +
		` FROM facts WHERE to_tsvector('english', fact_text) @@ plainto_tsquery('english', $1)` + extra +
		fmt.Sprintf(" ORDER BY score DESC LIMIT %d", limit)
	allArgs := append([]any{query}, args...)

	rows, err := s.pool.Query(ctx, q, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search facts text: %w", err)
	}
	defer rows.Close()

	var out []cortex.ScoredFact
	for rows.Next() {
		var score float32
		fact, err := scanFactWithScorePg(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored fact: %w", err)
		}
		out = append(out, cortex.ScoredFact{Fact: fact, Score: score})
	}
	return out, rows.Err()
}

func (s *Store) ListFacts(ctx context.Context, f cortex.FactFilter) ([]cortex.Fact, error) {
	where, args := factFilterClausePg(f, 1)
	query := factSelectColumnsPg + ` FROM facts` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list facts: %w", err)
	}
	defer rows.Close()

	var out []cortex.Fact
	for rows.Next() {
		fact, err := scanFactPg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		out = append(out, fact)
	}
	return out, rows.Err()
}

func (s *Store) CountFacts(ctx context.Context, f cortex.FactFilter) (int, error) {
	where, args := factFilterClausePg(f, 1)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facts`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count facts: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteFact(ctx context.Context, factID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM facts WHERE fact_id = $1`, factID)
	if err != nil {
		return fmt.Errorf("postgres: delete fact: %w", err)
	}
	return nil
}

func (s *Store) QueryFactsBySubject(ctx context.Context, memorySpaceID, subject string) ([]cortex.Fact, error) {
	rows, err := s.pool.Query(ctx,
		factSelectColumnsPg+` FROM facts WHERE memory_space_id = $1 AND subject = $2 AND superseded_by IS NULL`,
		memorySpaceID, subject)
	if err != nil {
		return nil, fmt.Errorf("postgres: query facts by subject: %w", err)
	}
	defer rows.Close()
	return scanFactsPg(rows)
}

func (s *Store) QueryFactsByRelationship(ctx context.Context, memorySpaceID, predicate string) ([]cortex.Fact, error) {
	rows, err := s.pool.Query(ctx,
		factSelectColumnsPg+` FROM facts WHERE memory_space_id = $1 AND predicate = $2 AND superseded_by IS NULL`,
		memorySpaceID, predicate)
	if err != nil {
		return nil, fmt.Errorf("postgres: query facts by relationship: %w", err)
	}
	defer rows.Close()
	return scanFactsPg(rows)
}

func (s *Store) ExportFacts(ctx context.Context, f cortex.FactFilter) ([]byte, error) {
	facts, err := s.ListFacts(ctx, f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(facts)
}

// FindActiveSlot returns active facts matching the belief-revision slot key:
// same memory space, user, subject, predicate, and fact type.
func (s *Store) FindActiveSlot(ctx context.Context, memorySpaceID, userID, subject, predicate string, factType cortex.FactType) ([]cortex.Fact, error) {
	rows, err := s.pool.Query(ctx,
		factSelectColumnsPg+` FROM facts
		 WHERE memory_space_id = $1 AND user_id = $2 AND subject = $3 AND predicate = $4 AND fact_type = $5 AND superseded_by IS NULL`,
		memorySpaceID, userID, subject, predicate, string(factType))
	if err != nil {
		return nil, fmt.Errorf("postgres: find active slot: %w", err)
	}
	defer rows.Close()
	return scanFactsPg(rows)
}

// DecayFacts multiplies confidence by decayRate for facts not reinforced
// since cutoff, then deletes any that fall below minConfidence.
func (s *Store) DecayFacts(ctx context.Context, cutoff int64, minConfidence int) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fact_id, confidence, decay_rate FROM facts WHERE last_reinforced < $1 AND decay_rate > 0 AND superseded_by IS NULL`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: decay facts: %w", err)
	}
	type candidate struct {
		id         string
		confidence int
		decayRate  float64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.confidence, &c.decayRate); err != nil {
			rows.Close()
			return 0, fmt.Errorf("postgres: scan decay candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()

	deleted := 0
	for _, c := range candidates {
		newConfidence := int(float64(c.confidence) * c.decayRate)
		if newConfidence < minConfidence {
			if err := s.DeleteFact(ctx, c.id); err != nil {
				return deleted, err
			}
			deleted++
			continue
		}
		if _, err := s.pool.Exec(ctx, `UPDATE facts SET confidence = $1 WHERE fact_id = $2`, newConfidence, c.id); err != nil {
			return deleted, fmt.Errorf("postgres: apply decay: %w", err)
		}
	}
	return deleted, nil
}

func (s *Store) AppendFactHistory(ctx context.Context, ev cortex.FactHistoryEvent) (cortex.FactHistoryEvent, error) {
	if ev.EventID == "" {
		ev.EventID = cortex.NewID()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = nowMs()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fact_history (event_id, fact_id, memory_space_id, action, old_value, new_value, superseded_by,
			supersedes, reason, confidence, pipeline, user_id, participant_id, conversation_id, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ev.EventID, ev.FactID, ev.MemorySpaceID, string(ev.Action), nullStr(ev.OldValue), nullStr(ev.NewValue),
		nullStr(ev.SupersededBy), nullStr(ev.Supersedes), nullStr(ev.Reason), ev.Confidence, marshalJSON(ev.Pipeline),
		nullStr(ev.UserID), nullStr(ev.ParticipantID), nullStr(ev.ConversationID), ev.Timestamp,
	)
	if err != nil {
		return cortex.FactHistoryEvent{}, fmt.Errorf("postgres: append fact history: %w", err)
	}
	return ev, nil
}

func (s *Store) ListFactHistory(ctx context.Context, factID string) ([]cortex.FactHistoryEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, fact_id, memory_space_id, action, old_value, new_value, superseded_by, supersedes, reason,
			confidence, pipeline, user_id, participant_id, conversation_id, timestamp
		 FROM fact_history WHERE fact_id = $1 ORDER BY timestamp`, factID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fact history: %w", err)
	}
	defer rows.Close()

	var out []cortex.FactHistoryEvent
	for rows.Next() {
		var ev cortex.FactHistoryEvent
		var action string
		var oldValue, newValue, supersededBy, supersedes, reason, userID, participantID, conversationID *string
		var pipelineJSON []byte
		if err := rows.Scan(&ev.EventID, &ev.FactID, &ev.MemorySpaceID, &action, &oldValue, &newValue, &supersededBy,
			&supersedes, &reason, &ev.Confidence, &pipelineJSON, &userID, &participantID, &conversationID, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan fact history: %w", err)
		}
		ev.Action = cortex.FactHistoryAction(action)
		ev.OldValue, ev.NewValue = strOf(oldValue), strOf(newValue)
		ev.SupersededBy, ev.Supersedes, ev.Reason = strOf(supersededBy), strOf(supersedes), strOf(reason)
		ev.UserID, ev.ParticipantID, ev.ConversationID = strOf(userID), strOf(participantID), strOf(conversationID)
		unmarshalJSON(pipelineJSON, &ev.Pipeline)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanFactsPg(rows pgx.Rows) ([]cortex.Fact, error) {
	var out []cortex.Fact
	for rows.Next() {
		f, err := scanFactPg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, rows.Err()
}

func scanFactPg(row pgx.Row) (cortex.Fact, error) {
	return scanFactRowPg(row, nil)
}

func scanFactWithScorePg(row pgx.Row, score *float32) (cortex.Fact, error) {
	return scanFactRowPg(row, score)
}

func scanFactRowPg(row pgx.Row, score *float32) (cortex.Fact, error) {
	var f cortex.Fact
	var participantID, userID, subject, predicate, object, sourceType, category, semanticContext, supersededBy,
		supersedes, tenantID, embStr *string
	var sourceRefJSON, tagsJSON, aliasesJSON, entitiesJSON, relationsJSON []byte
	var validFrom, validUntil, lastReinforced *int64
	var factType string

	dest := []any{&f.FactID, &f.MemorySpaceID, &participantID, &userID, &f.FactText, &factType, &subject, &predicate,
		&object, &f.Confidence, &sourceType, &sourceRefJSON, &tagsJSON, &category, &aliasesJSON, &semanticContext,
		&entitiesJSON, &relationsJSON, &validFrom, &validUntil, &f.Version, &supersededBy, &supersedes, &f.DecayRate,
		&lastReinforced, &embStr, &tenantID, &f.CreatedAt, &f.UpdatedAt}
	if score != nil {
		dest = append([]any{score}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return cortex.Fact{}, err
	}

	f.FactType = cortex.FactType(factType)
	f.ParticipantID, f.UserID = strOf(participantID), strOf(userID)
	f.SourceType = cortex.SourceType(strOf(sourceType))
	f.Category, f.SemanticContext, f.TenantID = strOf(category), strOf(semanticContext), strOf(tenantID)
	f.Chain = cortex.SupersedeChain{SupersededBy: strOf(supersededBy), Supersedes: strOf(supersedes)}

	if subject != nil || predicate != nil || object != nil {
		f.Triple = &cortex.Triple{Subject: strOf(subject), Predicate: strOf(predicate), Object: strOf(object)}
	}
	unmarshalJSON(sourceRefJSON, &f.SourceRef)
	unmarshalJSON(tagsJSON, &f.Tags)
	unmarshalJSON(aliasesJSON, &f.SearchAliases)
	unmarshalJSON(entitiesJSON, &f.Entities)
	unmarshalJSON(relationsJSON, &f.Relations)
	if validFrom != nil || validUntil != nil {
		f.Window = &cortex.TemporalWindow{}
		if validFrom != nil {
			f.Window.ValidFrom = *validFrom
		}
		if validUntil != nil {
			f.Window.ValidUntil = *validUntil
		}
	}
	if lastReinforced != nil {
		f.LastReinforced = *lastReinforced
	}
	if embStr != nil {
		f.Embedding, _ = deserializeEmbeddingPg(*embStr)
	}
	return f, nil
}
