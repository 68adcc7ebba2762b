package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cortexmem/cortex"
)

const memorySelectColumnsPg = `SELECT memory_id, memory_space_id, participant_id, content, content_type, embedding,
	source_type, message_role, user_id, agent_id, conversation_ref, immutable_ref, mutable_ref, facts_ref, importance,
	tags, version, previous_versions, access_count, last_accessed, tenant_id, created_at, updated_at`

func (s *Store) StoreMemory(ctx context.Context, m cortex.Memory, retention int, idem cortex.IdempotencyKey) (cortex.Memory, error) {
	if idem != "" {
		var existingID string
		err := s.pool.QueryRow(ctx, `SELECT memory_id FROM memories WHERE idem_key = $1`, string(idem)).Scan(&existingID)
		if err == nil {
			if existing, getErr := s.GetMemory(ctx, existingID); getErr == nil && existing != nil {
				return *existing, nil
			}
		} else if err != pgx.ErrNoRows {
			return cortex.Memory{}, fmt.Errorf("postgres: check memory idempotency: %w", err)
		}
	}

	if m.MemoryID == "" {
		m.MemoryID = cortex.NewID()
	}
	now := nowMs()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Version == 0 {
		m.Version = 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return cortex.Memory{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertMemoryPg(ctx, tx, m, idem); err != nil {
		return cortex.Memory{}, fmt.Errorf("postgres: store memory: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cortex.Memory{}, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return m, nil
}

func insertMemoryPg(ctx context.Context, tx pgx.Tx, m cortex.Memory, idem cortex.IdempotencyKey) error {
	var embStr *string
	if len(m.Embedding) > 0 {
		v := serializeEmbedding(m.Embedding)
		embStr = &v
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO memories (memory_id, memory_space_id, participant_id, content, content_type, embedding,
			source_type, message_role, user_id, agent_id, conversation_ref, immutable_ref, mutable_ref, facts_ref,
			importance, tags, version, previous_versions, access_count, last_accessed, archived, tenant_id,
			idem_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, FALSE, $21, $22, $23, $24)
		 ON CONFLICT (memory_id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding,
			importance = EXCLUDED.importance, tags = EXCLUDED.tags, version = EXCLUDED.version,
			previous_versions = EXCLUDED.previous_versions, updated_at = EXCLUDED.updated_at`,
		m.MemoryID, m.MemorySpaceID, nullStr(m.ParticipantID), m.Content, string(m.ContentType), embStr,
		string(m.SourceType), nullStr(string(m.MessageRole)), nullStr(m.UserID), nullStr(m.AgentID),
		marshalJSON(m.ConversationRef), marshalJSON(m.ImmutableRef), marshalJSON(m.MutableRef), marshalJSON(m.FactsRef),
		m.Importance, marshalJSON(m.Tags), m.Version, marshalJSON(m.PreviousVersions), m.AccessCount,
		nullInt64Ptr(m.LastAccessed), nullStr(m.TenantID), nullStr(string(idem)), m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func nullInt64Ptr(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

// deserializeEmbeddingPg parses pgvector's text output format "[0.1,0.2,0.3]".
func deserializeEmbeddingPg(s string) ([]float32, error) {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse embedding component: %w", err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

func (s *Store) UpdateMemory(ctx context.Context, memoryID string, patch func(cur cortex.Memory) (cortex.Memory, error), retention int) (cortex.Memory, error) {
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
	next.UpdatedAt = nowMs()
	next.PreviousVersions = append(cur.PreviousVersions, cortex.MemoryVersion{
		Version: cur.Version, Content: cur.Content, Timestamp: cur.UpdatedAt,
	})
	if retention > 0 && len(next.PreviousVersions) > retention {
		next.PreviousVersions = next.PreviousVersions[len(next.PreviousVersions)-retention:]
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return cortex.Memory{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := insertMemoryPg(ctx, tx, next, ""); err != nil {
		return cortex.Memory{}, fmt.Errorf("postgres: update memory: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cortex.Memory{}, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return next, nil
}

func (s *Store) GetMemory(ctx context.Context, memoryID string) (*cortex.Memory, error) {
	row := s.pool.QueryRow(ctx, memorySelectColumnsPg+` FROM memories WHERE memory_id = $1 AND archived = FALSE`, memoryID)
	m, err := scanMemoryPg(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get memory: %w", err)
	}
	return &m, nil
}

func memoryFilterClausePg(f cortex.MemoryFilter, startParam int) (string, []any) {
	clauses := []string{"archived = FALSE"}
	var args []any
	p := startParam
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
	if f.AgentID != "" {
		clauses = append(clauses, fmt.Sprintf("agent_id = $%d", p))
		args = append(args, f.AgentID)
		p++
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, fmt.Sprintf("participant_id = $%d", p))
		args = append(args, f.ParticipantID)
		p++
	}
	if f.MinImportance > 0 {
		clauses = append(clauses, fmt.Sprintf("importance >= $%d", p))
		args = append(args, f.MinImportance)
		p++
	}
	if f.CreatedAfter > 0 {
		clauses = append(clauses, fmt.Sprintf("created_at > $%d", p))
		args = append(args, f.CreatedAfter)
		p++
	}
	if f.CreatedBefore > 0 {
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", p))
		args = append(args, f.CreatedBefore)
		p++
	}
	for _, tag := range f.Tags {
		clauses = append(clauses, fmt.Sprintf("tags::jsonb ? $%d", p))
		args = append(args, tag)
		p++
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SearchMemory performs pgvector HNSW cosine-distance search, pre-filtered by f.
func (s *Store) SearchMemory(ctx context.Context, embedding []float32, topK int, f cortex.MemoryFilter) ([]cortex.ScoredMemory, error) {
	where, args := memoryFilterClausePg(f, 2) // $1 reserved for the query embedding
	embStr := serializeEmbedding(embedding)
	allArgs := append([]any{embStr}, args...)
	limitParam := len(allArgs) + 1
	allArgs = append(allArgs, topK)

	query := strings.Replace(memorySelectColumnsPg, "SELECT", "SELECT 1 - (embedding <=> $1::vector) AS score,", 1) +
		` FROM memories` + where + ` AND embedding IS NOT NULL ORDER BY embedding <=> $1::vector LIMIT $` + fmt.Sprint(limitParam)

	rows, err := s.pool.Query(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memory: %w", err)
	}
	defer rows.Close()

	var out []cortex.ScoredMemory
	for rows.Next() {
		var score float32
		m, err := scanMemoryWithScorePg(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored memory: %w", err)
		}
		out = append(out, cortex.ScoredMemory{Memory: m, Score: score})
	}
	return out, rows.Err()
}

// SearchMemoryText performs tsvector full-text search, pre-filtered by f.
func (s *Store) SearchMemoryText(ctx context.Context, query string, topK int, f cortex.MemoryFilter) ([]cortex.ScoredMemory, error) {
	where, args := memoryFilterClausePg(f, 2) // $1 reserved for the query text
	allArgs := append([]any{query}, args...)
	limitParam := len(allArgs) + 1
	allArgs = append(allArgs, topK)

	q := strings.Replace(memorySelectColumnsPg, "SELECT",
		"SELECT ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score,", 1) +
		` FROM memories` + where + ` AND to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC LIMIT $` + fmt.Sprint(limitParam)

	rows, err := s.pool.Query(ctx, q, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memory text: %w", err)
	}
	defer rows.Close()

	var out []cortex.ScoredMemory
	for rows.Next() {
		var score float32
		m, err := scanMemoryWithScorePg(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored memory: %w", err)
		}
		out = append(out, cortex.ScoredMemory{Memory: m, Score: score})
	}
	return out, rows.Err()
}

func (s *Store) ListMemory(ctx context.Context, f cortex.MemoryFilter) ([]cortex.Memory, error) {
	where, args := memoryFilterClausePg(f, 1)
	query := memorySelectColumnsPg + ` FROM memories` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memory: %w", err)
	}
	defer rows.Close()

	var out []cortex.Memory
	for rows.Next() {
		m, err := scanMemoryPg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMemory(ctx context.Context, f cortex.MemoryFilter) (int, error) {
	where, args := memoryFilterClausePg(f, 1)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count memory: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteMemory(ctx context.Context, memoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE memory_id = $1`, memoryID)
	if err != nil {
		return fmt.Errorf("postgres: delete memory: %w", err)
	}
	return nil
}

func (s *Store) DeleteManyMemory(ctx context.Context, memoryIDs []string) (int, error) {
	if len(memoryIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE memory_id = ANY($1)`, memoryIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete many memory: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ArchiveMemory(ctx context.Context, memoryID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET archived = TRUE, updated_at = $1 WHERE memory_id = $2`, nowMs(), memoryID)
	if err != nil {
		return fmt.Errorf("postgres: archive memory: %w", err)
	}
	return nil
}

func (s *Store) RestoreMemoryFromArchive(ctx context.Context, memoryID string) (*cortex.Memory, error) {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET archived = FALSE, updated_at = $1 WHERE memory_id = $2`, nowMs(), memoryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: restore memory: %w", err)
	}
	return s.GetMemory(ctx, memoryID)
}

func (s *Store) ExportMemory(ctx context.Context, f cortex.MemoryFilter) ([]byte, error) {
	mems, err := s.ListMemory(ctx, f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(mems)
}

func (s *Store) BumpAccess(ctx context.Context, memoryID string, at int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed = $1 WHERE memory_id = $2`, at, memoryID)
	if err != nil {
		return fmt.Errorf("postgres: bump access: %w", err)
	}
	return nil
}

func scanMemoryPg(row pgx.Row) (cortex.Memory, error) {
	return scanMemoryRowPg(row, nil)
}

func scanMemoryWithScorePg(row pgx.Row, score *float32) (cortex.Memory, error) {
	return scanMemoryRowPg(row, score)
}

func scanMemoryRowPg(row pgx.Row, score *float32) (cortex.Memory, error) {
	var m cortex.Memory
	var participantID, messageRole, userID, agentID, tenantID, embStr *string
	var convRefJSON, immRefJSON, mutRefJSON, factsRefJSON, tagsJSON, prevJSON []byte
	var contentType, sourceType string
	var lastAccessed *int64

	dest := []any{&m.MemoryID, &m.MemorySpaceID, &participantID, &m.Content, &contentType, &embStr, &sourceType,
		&messageRole, &userID, &agentID, &convRefJSON, &immRefJSON, &mutRefJSON, &factsRefJSON, &m.Importance,
		&tagsJSON, &m.Version, &prevJSON, &m.AccessCount, &lastAccessed, &tenantID, &m.CreatedAt, &m.UpdatedAt}
	if score != nil {
		dest = append([]any{score}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return cortex.Memory{}, err
	}

	m.ContentType = cortex.ContentType(contentType)
	m.SourceType = cortex.SourceType(sourceType)
	m.ParticipantID, m.UserID, m.AgentID, m.TenantID = strOf(participantID), strOf(userID), strOf(agentID), strOf(tenantID)
	if messageRole != nil {
		m.MessageRole = cortex.MessageRole(*messageRole)
	}
	if lastAccessed != nil {
		m.LastAccessed = *lastAccessed
	}
	if embStr != nil {
		m.Embedding, _ = deserializeEmbeddingPg(*embStr)
	}
	unmarshalJSON(convRefJSON, &m.ConversationRef)
	unmarshalJSON(immRefJSON, &m.ImmutableRef)
	unmarshalJSON(mutRefJSON, &m.MutableRef)
	unmarshalJSON(factsRefJSON, &m.FactsRef)
	unmarshalJSON(tagsJSON, &m.Tags)
	unmarshalJSON(prevJSON, &m.PreviousVersions)
	return m, nil
}
