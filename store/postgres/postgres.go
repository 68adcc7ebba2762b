// Package postgres implements cortex.Store using PostgreSQL with pgvector
// for native vector similarity search and tsvector for full-text keyword
// search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection;
// the caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexmem/cortex"
)

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int
	hnswEFConstruction int
	hnswEFSearch       int
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction build-time parameter.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search query-time parameter, applied via
// SET during Init.
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

// Store implements cortex.Store backed by PostgreSQL with pgvector.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

var _ cortex.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			memory_space_id TEXT NOT NULL,
			participant_id TEXT,
			type TEXT NOT NULL,
			participants JSONB,
			summary TEXT,
			message_count INTEGER DEFAULT 0,
			tenant_id TEXT,
			idem_key TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_space ON conversations(memory_space_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			participant_id TEXT,
			metadata JSONB,
			idem_key TEXT,
			"timestamp" BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,

		`CREATE TABLE IF NOT EXISTS immutable_records (
			type TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			user_id TEXT,
			tenant_id TEXT,
			version INTEGER NOT NULL,
			previous_versions JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (type, id)
		)`,

		`CREATE TABLE IF NOT EXISTS mutable_records (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value JSONB NOT NULL,
			user_id TEXT,
			tenant_id TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			memory_id TEXT PRIMARY KEY,
			memory_space_id TEXT NOT NULL,
			participant_id TEXT,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL,
			embedding %s,
			source_type TEXT NOT NULL,
			message_role TEXT,
			user_id TEXT,
			agent_id TEXT,
			conversation_ref JSONB,
			immutable_ref JSONB,
			mutable_ref JSONB,
			facts_ref JSONB,
			importance INTEGER DEFAULT 50,
			tags JSONB,
			version INTEGER DEFAULT 1,
			previous_versions JSONB,
			access_count INTEGER DEFAULT 0,
			last_accessed BIGINT,
			archived BOOLEAN DEFAULT FALSE,
			tenant_id TEXT,
			idem_key TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS idx_memories_space ON memories(memory_space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS memories_fts_idx ON memories USING gin(to_tsvector('english', content))`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS facts (
			fact_id TEXT PRIMARY KEY,
			memory_space_id TEXT NOT NULL,
			participant_id TEXT,
			user_id TEXT,
			fact_text TEXT NOT NULL,
			fact_type TEXT NOT NULL,
			subject TEXT,
			predicate TEXT,
			object TEXT,
			confidence INTEGER DEFAULT 80,
			source_type TEXT,
			source_ref JSONB,
			tags JSONB,
			category TEXT,
			search_aliases JSONB,
			semantic_context TEXT,
			entities JSONB,
			relations JSONB,
			valid_from BIGINT,
			valid_until BIGINT,
			version INTEGER DEFAULT 1,
			superseded_by TEXT,
			supersedes TEXT,
			decay_rate REAL,
			last_reinforced BIGINT,
			embedding %s,
			tenant_id TEXT,
			idem_key TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS idx_facts_space ON facts(memory_space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_slot ON facts(memory_space_id, user_id, subject, predicate, fact_type)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS facts_embedding_idx ON facts USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS facts_fts_idx ON facts USING gin(to_tsvector('english', fact_text))`,

		`CREATE TABLE IF NOT EXISTS fact_history (
			event_id TEXT PRIMARY KEY,
			fact_id TEXT NOT NULL,
			memory_space_id TEXT NOT NULL,
			action TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			superseded_by TEXT,
			supersedes TEXT,
			reason TEXT,
			confidence INTEGER,
			pipeline JSONB,
			user_id TEXT,
			participant_id TEXT,
			conversation_id TEXT,
			"timestamp" BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fact_history_fact ON fact_history(fact_id)`,

		`CREATE TABLE IF NOT EXISTS memory_spaces (
			memory_space_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			description TEXT,
			created_by TEXT,
			participants JSONB,
			status TEXT NOT NULL,
			tenant_id TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS contexts (
			context_id TEXT PRIMARY KEY,
			memory_space_id TEXT NOT NULL,
			purpose TEXT,
			user_id TEXT,
			parent_id TEXT,
			root_id TEXT NOT NULL,
			depth INTEGER DEFAULT 0,
			child_ids JSONB,
			status TEXT NOT NULL,
			participants JSONB,
			granted_access JSONB,
			version INTEGER DEFAULT 1,
			previous_versions JSONB,
			tenant_id TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_space ON contexts(memory_space_id)`,

		`CREATE TABLE IF NOT EXISTS graph_sync_queue (
			id TEXT PRIMARY KEY,
			"table" TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			entity JSONB,
			synced BOOLEAN DEFAULT FALSE,
			failed_attempts INTEGER DEFAULT 0,
			last_error TEXT,
			priority TEXT,
			next_attempt_at BIGINT DEFAULT 0,
			dead_letter BOOLEAN DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_sync_pending ON graph_sync_queue(synced, dead_letter, next_attempt_at)`,

		`CREATE TABLE IF NOT EXISTS governance_enforcements (
			enforcement_id TEXT PRIMARY KEY,
			policy_id TEXT,
			versions_deleted INTEGER,
			records_purged INTEGER,
			storage_freed BIGINT,
			ran_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS gdpr_work_items (
			user_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			done BOOLEAN DEFAULT FALSE,
			deleted_count INTEGER DEFAULT 0,
			PRIMARY KEY (user_id, collection)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}
	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error { return nil }

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func marshalJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func unmarshalJSON(b []byte, v any) {
	if len(b) == 0 {
		return
	}
	_ = json.Unmarshal(b, v)
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nowMs() int64 { return cortex.NowMillis() }

const idempotencyWindowPg = 5 * time.Minute

// --- Conversations --------------------------------------------------------

func (s *Store) CreateConversation(ctx context.Context, conv cortex.Conversation, idem cortex.IdempotencyKey) (cortex.Conversation, error) {
	if idem != "" {
		var existingID string
		err := s.pool.QueryRow(ctx,
			`SELECT conversation_id FROM conversations WHERE idem_key = $1 AND created_at > $2`,
			string(idem), nowMs()-idempotencyWindowPg.Milliseconds()).Scan(&existingID)
		if err == nil {
			existing, getErr := s.GetConversation(ctx, existingID)
			if getErr == nil && existing != nil {
				return *existing, nil
			}
		} else if err != pgx.ErrNoRows {
			return cortex.Conversation{}, fmt.Errorf("postgres: check conversation idempotency: %w", err)
		}
	}

	if conv.ConversationID == "" {
		conv.ConversationID = cortex.NewID()
	}
	now := nowMs()
	conv.CreatedAt, conv.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (conversation_id, memory_space_id, participant_id, type, participants, summary,
			message_count, tenant_id, idem_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		conv.ConversationID, conv.MemorySpaceID, nullStr(conv.ParticipantID), string(conv.Type),
		marshalJSON(conv.Participants), nullStr(conv.Summary), conv.MessageCount, nullStr(conv.TenantID),
		nullStr(string(idem)), conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return cortex.Conversation{}, fmt.Errorf("postgres: create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) AddMessage(ctx context.Context, conversationID string, msg cortex.Message, idem cortex.IdempotencyKey) (string, error) {
	if msg.ID == "" {
		msg.ID = cortex.NewID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMs()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, participant_id, metadata, idem_key, "timestamp")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, conversationID, string(msg.Role), msg.Content, nullStr(msg.ParticipantID), marshalJSON(msg.Metadata),
		nullStr(string(idem)), msg.Timestamp,
	)
	if err != nil {
		return "", fmt.Errorf("postgres: add message: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET message_count = message_count + 1, updated_at = $1 WHERE conversation_id = $2`,
		nowMs(), conversationID); err != nil {
		return "", fmt.Errorf("postgres: bump message count: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("postgres: commit tx: %w", err)
	}
	return msg.ID, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*cortex.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT conversation_id, memory_space_id, participant_id, type, participants, summary, message_count,
			tenant_id, created_at, updated_at FROM conversations WHERE conversation_id = $1`, conversationID)
	conv, err := scanConversationPg(row)
	if err == pgx.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: "conversation", Key: conversationID}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get conversation: %w", err)
	}
	return &conv, nil
}

func conversationFilterClausePg(f cortex.ConversationFilter, startParam int) (string, []any) {
	var clauses []string
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
		clauses = append(clauses, fmt.Sprintf("participant_id = $%d", p))
		args = append(args, f.UserID)
		p++
	}
	if f.Type != "" {
		clauses = append(clauses, fmt.Sprintf("type = $%d", p))
		args = append(args, string(f.Type))
		p++
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListConversations(ctx context.Context, f cortex.ConversationFilter) ([]cortex.Conversation, error) {
	where, args := conversationFilterClausePg(f, 1)
	query := `SELECT conversation_id, memory_space_id, participant_id, type, participants, summary, message_count,
		tenant_id, created_at, updated_at FROM conversations` + where + ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	var out []cortex.Conversation
	for rows.Next() {
		c, err := scanConversationPg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountConversations(ctx context.Context, f cortex.ConversationFilter) (int, error) {
	where, args := conversationFilterClausePg(f, 1)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count conversations: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("postgres: delete messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("postgres: delete conversation: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ExportConversation(ctx context.Context, conversationID string) ([]byte, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history, err := s.GetConversationHistory(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	conv.Messages = history
	return json.Marshal(conv)
}

func (s *Store) GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]cortex.Message, error) {
	query := `SELECT id, role, content, participant_id, metadata, "timestamp"
		FROM messages WHERE conversation_id = $1 ORDER BY "timestamp" DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get conversation history: %w", err)
	}
	defer rows.Close()

	var out []cortex.Message
	for rows.Next() {
		var m cortex.Message
		var participantID *string
		var metaJSON []byte
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &participantID, &metaJSON, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Role = cortex.MessageRole(role)
		m.ParticipantID = strOf(participantID)
		unmarshalJSON(metaJSON, &m.Metadata)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanConversationPg(row pgx.Row) (cortex.Conversation, error) {
	var c cortex.Conversation
	var participantID, summary, tenantID *string
	var participantsJSON []byte
	var typ string
	err := row.Scan(&c.ConversationID, &c.MemorySpaceID, &participantID, &typ, &participantsJSON, &summary,
		&c.MessageCount, &tenantID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return cortex.Conversation{}, err
	}
	c.Type = cortex.ConversationType(typ)
	c.ParticipantID, c.Summary, c.TenantID = strOf(participantID), strOf(summary), strOf(tenantID)
	unmarshalJSON(participantsJSON, &c.Participants)
	return c, nil
}

// --- Immutable / Mutable records ------------------------------------------

func (s *Store) StoreImmutable(ctx context.Context, typ, id string, data map[string]any, userID string, retention int) (cortex.ImmutableRecord, error) {
	now := nowMs()
	rec := cortex.ImmutableRecord{Type: typ, ID: id, Data: data, UserID: userID, Version: 1, CreatedAt: now, UpdatedAt: now}

	existing, err := s.GetImmutable(ctx, typ, id)
	if err != nil {
		if _, ok := err.(*cortex.NotFoundError); !ok {
			return cortex.ImmutableRecord{}, err
		}
	}
	if existing != nil {
		snapshot := cortex.VersionSnapshot{Version: existing.Version, Data: existing.Data, Timestamp: existing.UpdatedAt}
		rec.Version = existing.Version + 1
		rec.PreviousVersions = append(existing.PreviousVersions, snapshot)
		rec.CreatedAt = existing.CreatedAt
		if retention > 0 && len(rec.PreviousVersions) > retention {
			rec.PreviousVersions = rec.PreviousVersions[len(rec.PreviousVersions)-retention:]
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO immutable_records (type, id, data, user_id, tenant_id, version, previous_versions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (type, id) DO UPDATE SET data = EXCLUDED.data, version = EXCLUDED.version,
		   previous_versions = EXCLUDED.previous_versions, updated_at = EXCLUDED.updated_at`,
		rec.Type, rec.ID, marshalJSON(rec.Data), nullStr(rec.UserID), nullStr(rec.TenantID),
		rec.Version, marshalJSON(rec.PreviousVersions), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return cortex.ImmutableRecord{}, fmt.Errorf("postgres: store immutable: %w", err)
	}
	return rec, nil
}

func (s *Store) GetImmutable(ctx context.Context, typ, id string) (*cortex.ImmutableRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT type, id, data, user_id, tenant_id, version, previous_versions, created_at, updated_at
		 FROM immutable_records WHERE type = $1 AND id = $2`, typ, id)
	rec, err := scanImmutablePg(row)
	if err == pgx.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: typ, Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get immutable: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetImmutableVersion(ctx context.Context, typ, id string, version int) (*cortex.VersionSnapshot, error) {
	rec, err := s.GetImmutable(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	if rec.Version == version {
		return &cortex.VersionSnapshot{Version: rec.Version, Data: rec.Data, Timestamp: rec.UpdatedAt}, nil
	}
	for _, v := range rec.PreviousVersions {
		if v.Version == version {
			snap := v
			return &snap, nil
		}
	}
	return nil, &cortex.NotFoundError{Collection: typ + ":version", Key: fmt.Sprintf("%s@%d", id, version)}
}

func (s *Store) GetImmutableHistory(ctx context.Context, typ, id string) ([]cortex.VersionSnapshot, error) {
	rec, err := s.GetImmutable(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	history := append([]cortex.VersionSnapshot{}, rec.PreviousVersions...)
	history = append(history, cortex.VersionSnapshot{Version: rec.Version, Data: rec.Data, Timestamp: rec.UpdatedAt})
	return history, nil
}

func (s *Store) ListImmutable(ctx context.Context, typ, tenantID, userID string, limit int) ([]cortex.ImmutableRecord, error) {
	query := `SELECT type, id, data, user_id, tenant_id, version, previous_versions, created_at, updated_at FROM immutable_records WHERE type = $1`
	args := []any{typ}
	p := 2
	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", p)
		args = append(args, tenantID)
		p++
	}
	if userID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", p)
		args = append(args, userID)
		p++
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list immutable: %w", err)
	}
	defer rows.Close()

	var out []cortex.ImmutableRecord
	for rows.Next() {
		rec, err := scanImmutablePg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan immutable: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountImmutable(ctx context.Context, typ string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM immutable_records WHERE type = $1`, typ).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count immutable: %w", err)
	}
	return n, nil
}

func (s *Store) TrimImmutableVersions(ctx context.Context, typ, id string, keep int) (int, error) {
	rec, err := s.GetImmutable(ctx, typ, id)
	if err != nil {
		return 0, err
	}
	dropped := len(rec.PreviousVersions) - keep
	if dropped <= 0 {
		return 0, nil
	}
	trimmed := rec.PreviousVersions[dropped:]

	_, err = s.pool.Exec(ctx,
		`UPDATE immutable_records SET previous_versions = $1, updated_at = $2 WHERE type = $3 AND id = $4`,
		marshalJSON(trimmed), nowMs(), typ, id,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: trim immutable versions: %w", err)
	}
	return dropped, nil
}

func (s *Store) PurgeImmutable(ctx context.Context, typ, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM immutable_records WHERE type = $1 AND id = $2`, typ, id)
	if err != nil {
		return fmt.Errorf("postgres: purge immutable: %w", err)
	}
	return nil
}

func scanImmutablePg(row pgx.Row) (cortex.ImmutableRecord, error) {
	var rec cortex.ImmutableRecord
	var dataJSON, prevJSON []byte
	var userID, tenantID *string
	err := row.Scan(&rec.Type, &rec.ID, &dataJSON, &userID, &tenantID, &rec.Version, &prevJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return cortex.ImmutableRecord{}, err
	}
	unmarshalJSON(dataJSON, &rec.Data)
	rec.UserID, rec.TenantID = strOf(userID), strOf(tenantID)
	unmarshalJSON(prevJSON, &rec.PreviousVersions)
	return rec, nil
}

func (s *Store) SetMutable(ctx context.Context, namespace, key string, value map[string]any, userID string) (cortex.MutableRecord, error) {
	now := nowMs()
	var createdAt int64
	err := s.pool.QueryRow(ctx, `SELECT created_at FROM mutable_records WHERE namespace = $1 AND key = $2`, namespace, key).Scan(&createdAt)
	if err == pgx.ErrNoRows {
		createdAt = now
	} else if err != nil {
		return cortex.MutableRecord{}, fmt.Errorf("postgres: set mutable: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO mutable_records (namespace, key, value, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, user_id = EXCLUDED.user_id, updated_at = EXCLUDED.updated_at`,
		namespace, key, marshalJSON(value), nullStr(userID), createdAt, now,
	)
	if err != nil {
		return cortex.MutableRecord{}, fmt.Errorf("postgres: set mutable: %w", err)
	}
	return cortex.MutableRecord{Namespace: namespace, Key: key, Value: value, UserID: userID, CreatedAt: createdAt, UpdatedAt: now}, nil
}

func (s *Store) GetMutable(ctx context.Context, namespace, key string) (*cortex.MutableRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT namespace, key, value, user_id, tenant_id, created_at, updated_at FROM mutable_records WHERE namespace = $1 AND key = $2`,
		namespace, key)
	rec, err := scanMutablePg(row)
	if err == pgx.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: namespace, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get mutable: %w", err)
	}
	return &rec, nil
}

// UpdateMutable relies on Postgres row-level locking (SELECT ... FOR UPDATE)
// rather than SQLite's single-connection serialization, but keeps the same
// bounded retry shape so callers see identical semantics across backends.
func (s *Store) UpdateMutable(ctx context.Context, namespace, key string, maxAttempts int, fn func(current map[string]any) (map[string]any, error)) (cortex.MutableRecord, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var fnErr error
	tracked := func(current map[string]any) (map[string]any, error) {
		next, err := fn(current)
		fnErr = err
		return next, err
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec, err := s.tryUpdateMutable(ctx, namespace, key, tracked)
		if err == nil {
			return rec, nil
		}
		if fnErr != nil {
			return cortex.MutableRecord{}, fnErr
		}
	}
	return cortex.MutableRecord{}, &cortex.ConflictError{Namespace: namespace, Key: key, Attempts: maxAttempts}
}

func (s *Store) tryUpdateMutable(ctx context.Context, namespace, key string, fn func(current map[string]any) (map[string]any, error)) (cortex.MutableRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return cortex.MutableRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var valueJSON []byte
	var createdAt int64
	err = tx.QueryRow(ctx, `SELECT value, created_at FROM mutable_records WHERE namespace = $1 AND key = $2 FOR UPDATE`, namespace, key).
		Scan(&valueJSON, &createdAt)
	var current map[string]any
	now := nowMs()
	if err == pgx.ErrNoRows {
		createdAt = now
	} else if err != nil {
		return cortex.MutableRecord{}, fmt.Errorf("read mutable: %w", err)
	} else {
		unmarshalJSON(valueJSON, &current)
	}

	next, err := fn(current)
	if err != nil {
		return cortex.MutableRecord{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO mutable_records (namespace, key, value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		namespace, key, marshalJSON(next), createdAt, now,
	)
	if err != nil {
		return cortex.MutableRecord{}, fmt.Errorf("write mutable: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cortex.MutableRecord{}, fmt.Errorf("commit tx: %w", err)
	}
	return cortex.MutableRecord{Namespace: namespace, Key: key, Value: next, CreatedAt: createdAt, UpdatedAt: now}, nil
}

func (s *Store) DeleteMutable(ctx context.Context, namespace, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mutable_records WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return fmt.Errorf("postgres: delete mutable: %w", err)
	}
	return nil
}

func (s *Store) ListMutable(ctx context.Context, namespace, userID string, limit int) ([]cortex.MutableRecord, error) {
	query := `SELECT namespace, key, value, user_id, tenant_id, created_at, updated_at FROM mutable_records WHERE namespace = $1`
	args := []any{namespace}
	if userID != "" {
		query += " AND user_id = $2"
		args = append(args, userID)
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mutable: %w", err)
	}
	defer rows.Close()

	var out []cortex.MutableRecord
	for rows.Next() {
		rec, err := scanMutablePg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mutable: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountMutable(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mutable_records WHERE namespace = $1`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count mutable: %w", err)
	}
	return n, nil
}

func scanMutablePg(row pgx.Row) (cortex.MutableRecord, error) {
	var rec cortex.MutableRecord
	var valueJSON []byte
	var userID, tenantID *string
	err := row.Scan(&rec.Namespace, &rec.Key, &valueJSON, &userID, &tenantID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return cortex.MutableRecord{}, err
	}
	unmarshalJSON(valueJSON, &rec.Value)
	rec.UserID, rec.TenantID = strOf(userID), strOf(tenantID)
	return rec, nil
}
