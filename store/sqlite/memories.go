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

func (s *Store) StoreMemory(ctx context.Context, m cortex.Memory, retention int, idem cortex.IdempotencyKey) (cortex.Memory, error) {
	start := time.Now()
	s.logger.Debug("sqlite: store memory", "memory_space_id", m.MemorySpaceID, "content_type", m.ContentType)

	if idem != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx, `SELECT memory_id FROM memories WHERE idem_key = ?`, string(idem)).Scan(&existingID)
		if err == nil {
			existing, getErr := s.GetMemory(ctx, existingID)
			if getErr == nil && existing != nil {
				s.logger.Debug("sqlite: store memory idempotent hit", "memory_id", existingID)
				return *existing, nil
			}
		} else if err != sql.ErrNoRows {
			return cortex.Memory{}, fmt.Errorf("check idempotency: %w", err)
		}
	}

	if m.MemoryID == "" {
		m.MemoryID = cortex.NewID()
	}
	now := cortex.NowMillis()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Version == 0 {
		m.Version = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cortex.Memory{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertMemory(ctx, tx, m, idem); err != nil {
		s.logger.Error("sqlite: store memory failed", "memory_id", m.MemoryID, "error", err, "duration", time.Since(start))
		return cortex.Memory{}, fmt.Errorf("store memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE memory_id = ?`, m.MemoryID); err != nil {
		return cortex.Memory{}, fmt.Errorf("reset memory fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(memory_id, content) VALUES (?, ?)`, m.MemoryID, m.Content); err != nil {
		return cortex.Memory{}, fmt.Errorf("index memory fts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return cortex.Memory{}, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: store memory ok", "memory_id", m.MemoryID, "duration", time.Since(start))
	return m, nil
}

func insertMemory(ctx context.Context, tx *sql.Tx, m cortex.Memory, idem cortex.IdempotencyKey) error {
	var embJSON *string
	if len(m.Embedding) > 0 {
		v := serializeEmbedding(m.Embedding)
		embJSON = &v
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (memory_id, memory_space_id, participant_id, content, content_type, embedding,
			source_type, message_role, user_id, agent_id, conversation_ref, immutable_ref, mutable_ref, facts_ref,
			importance, tags, version, previous_versions, access_count, last_accessed, archived, tenant_id, idem_key,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		m.MemoryID, m.MemorySpaceID, nullString(m.ParticipantID), m.Content, string(m.ContentType), embJSON,
		string(m.SourceType), nullString(string(m.MessageRole)), nullString(m.UserID), nullString(m.AgentID),
		marshalJSON(m.ConversationRef), marshalJSON(m.ImmutableRef), marshalJSON(m.MutableRef), marshalJSON(m.FactsRef),
		m.Importance, marshalJSON(m.Tags), m.Version, marshalJSON(m.PreviousVersions), m.AccessCount,
		nullInt64(m.LastAccessed), nullString(m.TenantID), nullString(string(idem)), m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateMemory(ctx context.Context, memoryID string, patch func(cur cortex.Memory) (cortex.Memory, error), retention int) (cortex.Memory, error) {
	start := time.Now()
	cur, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return cortex.Memory{}, err
	}
	if cur == nil {
		return cortex.Memory{}, &cortex.NotFoundError{Collection: "memory", Key: memoryID}
	}

	next, err := patch(*cur)
	if err != nil {
		return cortex.Memory{}, err
	}
	next.MemoryID = memoryID
	next.Version = cur.Version + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = cortex.NowMillis()
	next.PreviousVersions = append(cur.PreviousVersions, cortex.MemoryVersion{
		Version: cur.Version, Content: cur.Content, Timestamp: cur.UpdatedAt,
	})
	if retention > 0 && len(next.PreviousVersions) > retention {
		next.PreviousVersions = next.PreviousVersions[len(next.PreviousVersions)-retention:]
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cortex.Memory{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertMemory(ctx, tx, next, ""); err != nil {
		return cortex.Memory{}, fmt.Errorf("update memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE memory_id = ?`, memoryID); err != nil {
		return cortex.Memory{}, fmt.Errorf("reset memory fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(memory_id, content) VALUES (?, ?)`, memoryID, next.Content); err != nil {
		return cortex.Memory{}, fmt.Errorf("index memory fts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return cortex.Memory{}, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: update memory ok", "memory_id", memoryID, "version", next.Version, "duration", time.Since(start))
	return next, nil
}

func (s *Store) GetMemory(ctx context.Context, memoryID string) (*cortex.Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelectColumns+` FROM memories WHERE memory_id = ? AND archived = 0`, memoryID)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &m, nil
}

const memorySelectColumns = `SELECT memory_id, memory_space_id, participant_id, content, content_type, embedding,
	source_type, message_role, user_id, agent_id, conversation_ref, immutable_ref, mutable_ref, facts_ref,
	importance, tags, version, previous_versions, access_count, last_accessed, tenant_id, created_at, updated_at`

func scanMemory(row rowScanner) (cortex.Memory, error) {
	var m cortex.Memory
	var participantID, embJSON, messageRole, userID, agentID, convRef, immRef, mutRef, factsRef, tagsJSON, prevJSON, tenantID sql.NullString
	var lastAccessed sql.NullInt64
	var contentType, sourceType string
	err := row.Scan(&m.MemoryID, &m.MemorySpaceID, &participantID, &m.Content, &contentType, &embJSON,
		&sourceType, &messageRole, &userID, &agentID, &convRef, &immRef, &mutRef, &factsRef,
		&m.Importance, &tagsJSON, &m.Version, &prevJSON, &m.AccessCount, &lastAccessed, &tenantID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return cortex.Memory{}, err
	}
	m.ContentType = cortex.ContentType(contentType)
	m.SourceType = cortex.SourceType(sourceType)
	if participantID.Valid {
		m.ParticipantID = participantID.String
	}
	if messageRole.Valid {
		m.MessageRole = cortex.MessageRole(messageRole.String)
	}
	if userID.Valid {
		m.UserID = userID.String
	}
	if agentID.Valid {
		m.AgentID = agentID.String
	}
	if convRef.Valid {
		m.ConversationRef = &cortex.ConversationRef{}
		unmarshalJSON(convRef.String, m.ConversationRef)
	}
	if immRef.Valid {
		m.ImmutableRef = &cortex.ImmutableRef{}
		unmarshalJSON(immRef.String, m.ImmutableRef)
	}
	if mutRef.Valid {
		m.MutableRef = &cortex.MutableRef{}
		unmarshalJSON(mutRef.String, m.MutableRef)
	}
	if factsRef.Valid {
		m.FactsRef = &cortex.FactsRef{}
		unmarshalJSON(factsRef.String, m.FactsRef)
	}
	if tagsJSON.Valid {
		unmarshalJSON(tagsJSON.String, &m.Tags)
	}
	if prevJSON.Valid {
		unmarshalJSON(prevJSON.String, &m.PreviousVersions)
	}
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Int64
	}
	if tenantID.Valid {
		m.TenantID = tenantID.String
	}
	if embJSON.Valid {
		m.Embedding, _ = deserializeEmbedding(embJSON.String)
	}
	return m, nil
}

func memoryFilterClause(f cortex.MemoryFilter) (string, []any) {
	var clauses []string
	var args []any
	clauses = append(clauses, "archived = 0")
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
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, "participant_id = ?")
		args = append(args, f.ParticipantID)
	}
	if f.MinImportance > 0 {
		clauses = append(clauses, "importance >= ?")
		args = append(args, f.MinImportance)
	}
	if f.CreatedAfter > 0 {
		clauses = append(clauses, "created_at > ?")
		args = append(args, f.CreatedAfter)
	}
	if f.CreatedBefore > 0 {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.CreatedBefore)
	}
	for _, tag := range f.Tags {
		clauses = append(clauses, "tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SearchMemory performs brute-force cosine similarity search over memories
// pre-filtered by f.
func (s *Store) SearchMemory(ctx context.Context, embedding []float32, topK int, f cortex.MemoryFilter) ([]cortex.ScoredMemory, error) {
	start := time.Now()
	where, args := memoryFilterClause(f)
	query := memorySelectColumns + ` FROM memories` + where + ` AND embedding IS NOT NULL`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var results []cortex.ScoredMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if len(m.Embedding) == 0 {
			continue
		}
		results = append(results, cortex.ScoredMemory{Memory: m, Score: cosineSimilarity(embedding, m.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search memory ok", "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// SearchMemoryText performs FTS5 keyword search over memory content,
// pre-filtered by f. Results are ordered by FTS5 rank (best match first); the
// rank is not carried into Score, which is 1 for every match.
func (s *Store) SearchMemoryText(ctx context.Context, query string, topK int, f cortex.MemoryFilter) ([]cortex.ScoredMemory, error) {
	start := time.Now()
	where, args := memoryFilterClause(f)
	// The FTS match runs in a subquery that exposes only fts_id and fts_rank,
	// so the unqualified memories columns in the select list and in the
	// " WHERE archived = 0 ..." filter clause stay unambiguous.
	q := memorySelectColumns + ` FROM memories JOIN (SELECT memory_id AS fts_id, rank AS fts_rank
		FROM memories_fts WHERE memories_fts MATCH ?) AS fts ON fts.fts_id = memories.memory_id` + where + `
		ORDER BY fts.fts_rank LIMIT ?`
	allArgs := append([]any{query}, args...)
	allArgs = append(allArgs, topK)

	rows, err := s.db.QueryContext(ctx, q, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("search memory text: %w", err)
	}
	defer rows.Close()

	var results []cortex.ScoredMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		results = append(results, cortex.ScoredMemory{Memory: m, Score: 1})
	}
	s.logger.Debug("sqlite: search memory text ok", "returned", len(results), "duration", time.Since(start))
	return results, rows.Err()
}

func (s *Store) ListMemory(ctx context.Context, f cortex.MemoryFilter) ([]cortex.Memory, error) {
	where, args := memoryFilterClause(f)
	query := memorySelectColumns + ` FROM memories` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	var out []cortex.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMemory(ctx context.Context, f cortex.MemoryFilter) (int, error) {
	where, args := memoryFilterClause(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memory: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteMemory(ctx context.Context, memoryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete memory fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteManyMemory(ctx context.Context, memoryIDs []string) (int, error) {
	n := 0
	for _, id := range memoryIDs {
		if err := s.DeleteMemory(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) ArchiveMemory(ctx context.Context, memoryID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET archived = 1, updated_at = ? WHERE memory_id = ?`, cortex.NowMillis(), memoryID)
	if err != nil {
		return fmt.Errorf("archive memory: %w", err)
	}
	return nil
}

func (s *Store) RestoreMemoryFromArchive(ctx context.Context, memoryID string) (*cortex.Memory, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET archived = 0, updated_at = ? WHERE memory_id = ?`, cortex.NowMillis(), memoryID)
	if err != nil {
		return nil, fmt.Errorf("restore memory: %w", err)
	}
	return s.GetMemory(ctx, memoryID)
}

func (s *Store) ExportMemory(ctx context.Context, f cortex.MemoryFilter) ([]byte, error) {
	memories, err := s.ListMemory(ctx, f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(memories)
}

func (s *Store) BumpAccess(ctx context.Context, memoryID string, at int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE memory_id = ?`, at, memoryID)
	if err != nil {
		return fmt.Errorf("bump access: %w", err)
	}
	return nil
}
