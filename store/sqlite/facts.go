package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cortexmem/cortex"
)

const factSelectColumns = `SELECT fact_id, memory_space_id, participant_id, user_id, fact_text, fact_type, subject, predicate,
	object, confidence, source_type, source_ref, tags, category, search_aliases, semantic_context, entities, relations,
	valid_from, valid_until, version, superseded_by, supersedes, decay_rate, last_reinforced, embedding, tenant_id,
	created_at, updated_at`

func (s *Store) InsertFact(ctx context.Context, f cortex.Fact, idem cortex.IdempotencyKey) (cortex.Fact, error) {
	start := time.Now()
	s.logger.Debug("sqlite: insert fact", "memory_space_id", f.MemorySpaceID, "fact_type", f.FactType)

	if idem != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx, `SELECT fact_id FROM facts WHERE idem_key = ?`, string(idem)).Scan(&existingID)
		if err == nil {
			existing, getErr := s.GetFact(ctx, existingID)
			if getErr == nil && existing != nil {
				return *existing, nil
			}
		} else if err != sql.ErrNoRows {
			return cortex.Fact{}, fmt.Errorf("check idempotency: %w", err)
		}
	}

	if f.FactID == "" {
		f.FactID = cortex.NewID()
	}
	now := cortex.NowMillis()
	f.CreatedAt, f.UpdatedAt = now, now
	if f.Version == 0 {
		f.Version = 1
	}
	if f.LastReinforced == 0 {
		f.LastReinforced = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cortex.Fact{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertFact(ctx, tx, f, idem); err != nil {
		s.logger.Error("sqlite: insert fact failed", "error", err, "duration", time.Since(start))
		return cortex.Fact{}, fmt.Errorf("insert fact: %w", err)
	}
	if err := indexFactFTS(ctx, tx, f); err != nil {
		return cortex.Fact{}, err
	}
	if err := tx.Commit(); err != nil {
		return cortex.Fact{}, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: insert fact ok", "fact_id", f.FactID, "duration", time.Since(start))
	return f, nil
}

func insertFact(ctx context.Context, tx *sql.Tx, f cortex.Fact, idem cortex.IdempotencyKey) error {
	var subject, predicate, object string
	if f.Triple != nil {
		subject, predicate, object = f.Triple.Subject, f.Triple.Predicate, f.Triple.Object
	}
	var embJSON *string
	if len(f.Embedding) > 0 {
		v := serializeEmbedding(f.Embedding)
		embJSON = &v
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO facts (fact_id, memory_space_id, participant_id, user_id, fact_text, fact_type,
			subject, predicate, object, confidence, source_type, source_ref, tags, category, search_aliases,
			semantic_context, entities, relations, valid_from, valid_until, version, superseded_by, supersedes,
			decay_rate, last_reinforced, embedding, tenant_id, idem_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FactID, f.MemorySpaceID, nullString(f.ParticipantID), nullString(f.UserID), f.FactText, string(f.FactType),
		nullString(subject), nullString(predicate), nullString(object), f.Confidence, nullString(string(f.SourceType)),
		marshalJSON(f.SourceRef), marshalJSON(f.Tags), nullString(f.Category), marshalJSON(f.SearchAliases),
		nullString(f.SemanticContext), marshalJSON(f.Entities), marshalJSON(f.Relations),
		nullInt64(windowFrom(f.Window)), nullInt64(windowUntil(f.Window)), f.Version,
		nullString(f.Chain.SupersededBy), nullString(f.Chain.Supersedes), f.DecayRate, nullInt64(f.LastReinforced),
		embJSON, nullString(f.TenantID), nullString(string(idem)), f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func indexFactFTS(ctx context.Context, tx *sql.Tx, f cortex.Fact) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM facts_fts WHERE fact_id = ?`, f.FactID); err != nil {
		return fmt.Errorf("reset fact fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO facts_fts(fact_id, fact_text) VALUES (?, ?)`, f.FactID, f.FactText); err != nil {
		return fmt.Errorf("index fact fts: %w", err)
	}
	return nil
}

func windowFrom(w *cortex.TemporalWindow) int64 {
	if w == nil {
		return 0
	}
	return w.ValidFrom
}

func windowUntil(w *cortex.TemporalWindow) int64 {
	if w == nil {
		return 0
	}
	return w.ValidUntil
}

func (s *Store) GetFact(ctx context.Context, factID string) (*cortex.Fact, error) {
	row := s.db.QueryRowContext(ctx, factSelectColumns+` FROM facts WHERE fact_id = ?`, factID)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fact: %w", err)
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
	next.UpdatedAt = cortex.NowMillis()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cortex.Fact{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := insertFact(ctx, tx, next, ""); err != nil {
		return cortex.Fact{}, fmt.Errorf("update fact: %w", err)
	}
	if err := indexFactFTS(ctx, tx, next); err != nil {
		return cortex.Fact{}, err
	}
	if err := tx.Commit(); err != nil {
		return cortex.Fact{}, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

func factFilterClause(f cortex.FactFilter) (string, []any) {
	var clauses []string
	var args []any
	if !f.IncludeSuperseded {
		clauses = append(clauses, "superseded_by IS NULL")
	}
	if f.MemorySpaceID != "" {
		clauses = append(clauses, "memory_space_id = ?")
		args = append(args, f.MemorySpaceID)
	}
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, "participant_id = ?")
		args = append(args, f.ParticipantID)
	}
	if f.Subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Predicate != "" {
		clauses = append(clauses, "predicate = ?")
		args = append(args, f.Predicate)
	}
	if f.FactType != "" {
		clauses = append(clauses, "fact_type = ?")
		args = append(args, string(f.FactType))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SearchFactsByVector performs k-NN cosine similarity search over facts with
// a stored embedding, pre-filtered by f.
func (s *Store) SearchFactsByVector(ctx context.Context, embedding []float32, topK int, f cortex.FactFilter) ([]cortex.ScoredFact, error) {
	start := time.Now()
	where, args := factFilterClause(f)
	extra := " embedding IS NOT NULL"
	if where == "" {
		where = " WHERE" + extra
	} else {
		where += " AND" + extra
	}
	q := factSelectColumns + ` FROM facts` + where

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search facts by vector: %w", err)
	}
	defer rows.Close()

	var results []cortex.ScoredFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if len(fact.Embedding) == 0 {
			continue
		}
		results = append(results, cortex.ScoredFact{Fact: fact, Score: cosineSimilarity(embedding, fact.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search facts by vector ok", "returned", len(results), "duration", time.Since(start))
	return results, nil
}

func (s *Store) SearchFactsText(ctx context.Context, query string, f cortex.FactFilter) ([]cortex.ScoredFact, error) {
	start := time.Now()
	where, args := factFilterClause(f)

	q := factSelectColumns + ` FROM facts JOIN (SELECT fact_id AS fts_id, rank AS fts_rank
		FROM facts_fts WHERE facts_fts MATCH ?) AS fts ON fts.fts_id = facts.fact_id` + where + ` ORDER BY fts.fts_rank`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += fmt.Sprintf(" LIMIT %d", limit)
	allArgs := append([]any{query}, args...)

	rows, err := s.db.QueryContext(ctx, q, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("search facts text: %w", err)
	}
	defer rows.Close()

	var results []cortex.ScoredFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		results = append(results, cortex.ScoredFact{Fact: fact, Score: 1})
	}
	s.logger.Debug("sqlite: search facts text ok", "returned", len(results), "duration", time.Since(start))
	return results, rows.Err()
}

func (s *Store) ListFacts(ctx context.Context, f cortex.FactFilter) ([]cortex.Fact, error) {
	where, args := factFilterClause(f)
	query := factSelectColumns + ` FROM facts` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var out []cortex.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, fact)
	}
	return out, rows.Err()
}

func (s *Store) CountFacts(ctx context.Context, f cortex.FactFilter) (int, error) {
	where, args := factFilterClause(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteFact(ctx context.Context, factID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `DELETE FROM facts_fts WHERE fact_id = ?`, factID); err != nil {
		return fmt.Errorf("delete fact fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE fact_id = ?`, factID); err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	return tx.Commit()
}

func (s *Store) QueryFactsBySubject(ctx context.Context, memorySpaceID, subject string) ([]cortex.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		factSelectColumns+` FROM facts WHERE memory_space_id = ? AND subject = ? AND superseded_by IS NULL`,
		memorySpaceID, subject)
	if err != nil {
		return nil, fmt.Errorf("query facts by subject: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (s *Store) QueryFactsByRelationship(ctx context.Context, memorySpaceID, predicate string) ([]cortex.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		factSelectColumns+` FROM facts WHERE memory_space_id = ? AND predicate = ? AND superseded_by IS NULL`,
		memorySpaceID, predicate)
	if err != nil {
		return nil, fmt.Errorf("query facts by relationship: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
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
	rows, err := s.db.QueryContext(ctx,
		factSelectColumns+` FROM facts
		 WHERE memory_space_id = ? AND user_id = ? AND subject = ? AND predicate = ? AND fact_type = ? AND superseded_by IS NULL`,
		memorySpaceID, userID, subject, predicate, string(factType))
	if err != nil {
		return nil, fmt.Errorf("find active slot: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// DecayFacts multiplies confidence by decayRate for facts not reinforced
// since cutoff, then deletes any that fall below minConfidence.
func (s *Store) DecayFacts(ctx context.Context, cutoff int64, minConfidence int) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_id, confidence, decay_rate FROM facts WHERE last_reinforced < ? AND decay_rate > 0 AND superseded_by IS NULL`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("decay facts: %w", err)
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
			return 0, fmt.Errorf("scan decay candidate: %w", err)
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
		if _, err := s.db.ExecContext(ctx, `UPDATE facts SET confidence = ? WHERE fact_id = ?`, newConfidence, c.id); err != nil {
			return deleted, fmt.Errorf("apply decay: %w", err)
		}
	}
	s.logger.Debug("sqlite: decay facts ok", "candidates", len(candidates), "deleted", deleted)
	return deleted, nil
}

func (s *Store) AppendFactHistory(ctx context.Context, ev cortex.FactHistoryEvent) (cortex.FactHistoryEvent, error) {
	if ev.EventID == "" {
		ev.EventID = cortex.NewID()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = cortex.NowMillis()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fact_history (event_id, fact_id, memory_space_id, action, old_value, new_value, superseded_by,
			supersedes, reason, confidence, pipeline, user_id, participant_id, conversation_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.FactID, ev.MemorySpaceID, string(ev.Action), nullString(ev.OldValue), nullString(ev.NewValue),
		nullString(ev.SupersededBy), nullString(ev.Supersedes), nullString(ev.Reason), ev.Confidence,
		marshalJSON(ev.Pipeline), nullString(ev.UserID), nullString(ev.ParticipantID), nullString(ev.ConversationID), ev.Timestamp,
	)
	if err != nil {
		return cortex.FactHistoryEvent{}, fmt.Errorf("append fact history: %w", err)
	}
	return ev, nil
}

func (s *Store) ListFactHistory(ctx context.Context, factID string) ([]cortex.FactHistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, fact_id, memory_space_id, action, old_value, new_value, superseded_by, supersedes, reason,
			confidence, pipeline, user_id, participant_id, conversation_id, timestamp
		 FROM fact_history WHERE fact_id = ? ORDER BY timestamp`, factID)
	if err != nil {
		return nil, fmt.Errorf("list fact history: %w", err)
	}
	defer rows.Close()

	var out []cortex.FactHistoryEvent
	for rows.Next() {
		var ev cortex.FactHistoryEvent
		var action string
		var oldValue, newValue, supersededBy, supersedes, reason, pipelineJSON, userID, participantID, conversationID sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.FactID, &ev.MemorySpaceID, &action, &oldValue, &newValue, &supersededBy,
			&supersedes, &reason, &ev.Confidence, &pipelineJSON, &userID, &participantID, &conversationID, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fact history: %w", err)
		}
		ev.Action = cortex.FactHistoryAction(action)
		ev.OldValue, ev.NewValue = oldValue.String, newValue.String
		ev.SupersededBy, ev.Supersedes, ev.Reason = supersededBy.String, supersedes.String, reason.String
		ev.UserID, ev.ParticipantID, ev.ConversationID = userID.String, participantID.String, conversationID.String
		if pipelineJSON.Valid {
			unmarshalJSON(pipelineJSON.String, &ev.Pipeline)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanFacts(rows *sql.Rows) ([]cortex.Fact, error) {
	var out []cortex.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, rows.Err()
}

func scanFact(row rowScanner) (cortex.Fact, error) {
	var f cortex.Fact
	var participantID, userID, subject, predicate, object, sourceType, sourceRefJSON, tagsJSON, category,
		aliasesJSON, semanticContext, entitiesJSON, relationsJSON, supersededBy, supersedes, embJSON, tenantID sql.NullString
	var validFrom, validUntil, lastReinforced sql.NullInt64
	var factType string

	err := row.Scan(&f.FactID, &f.MemorySpaceID, &participantID, &userID, &f.FactText, &factType, &subject, &predicate,
		&object, &f.Confidence, &sourceType, &sourceRefJSON, &tagsJSON, &category, &aliasesJSON, &semanticContext,
		&entitiesJSON, &relationsJSON, &validFrom, &validUntil, &f.Version, &supersededBy, &supersedes, &f.DecayRate,
		&lastReinforced, &embJSON, &tenantID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return cortex.Fact{}, err
	}
	f.FactType = cortex.FactType(factType)
	f.ParticipantID, f.UserID = participantID.String, userID.String
	f.SourceType = cortex.SourceType(sourceType.String)
	f.Category, f.SemanticContext, f.TenantID = category.String, semanticContext.String, tenantID.String
	f.Chain = cortex.SupersedeChain{SupersededBy: supersededBy.String, Supersedes: supersedes.String}

	if subject.Valid || predicate.Valid || object.Valid {
		f.Triple = &cortex.Triple{Subject: subject.String, Predicate: predicate.String, Object: object.String}
	}
	if sourceRefJSON.Valid {
		f.SourceRef = &cortex.FactSourceRef{}
		unmarshalJSON(sourceRefJSON.String, f.SourceRef)
	}
	if tagsJSON.Valid {
		unmarshalJSON(tagsJSON.String, &f.Tags)
	}
	if aliasesJSON.Valid {
		unmarshalJSON(aliasesJSON.String, &f.SearchAliases)
	}
	if entitiesJSON.Valid {
		unmarshalJSON(entitiesJSON.String, &f.Entities)
	}
	if relationsJSON.Valid {
		unmarshalJSON(relationsJSON.String, &f.Relations)
	}
	if validFrom.Valid || validUntil.Valid {
		f.Window = &cortex.TemporalWindow{ValidFrom: validFrom.Int64, ValidUntil: validUntil.Int64}
	}
	if lastReinforced.Valid {
		f.LastReinforced = lastReinforced.Int64
	}
	if embJSON.Valid {
		f.Embedding, _ = deserializeEmbedding(embJSON.String)
	}
	return f, nil
}
