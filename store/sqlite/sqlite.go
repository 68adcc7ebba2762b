// Package sqlite implements cortex.Store using pure-Go SQLite with
// in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cortexmem/cortex"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements cortex.Store backed by a local SQLite file. Embeddings are
// stored as JSON text and vector search is done in-process using brute-force
// cosine similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ cortex.Store = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			memory_space_id TEXT NOT NULL,
			participant_id TEXT,
			type TEXT NOT NULL,
			participants TEXT,
			summary TEXT,
			message_count INTEGER DEFAULT 0,
			tenant_id TEXT,
			idem_key TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			participant_id TEXT,
			metadata TEXT,
			idem_key TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS immutable_records (
			type TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			user_id TEXT,
			tenant_id TEXT,
			version INTEGER NOT NULL,
			previous_versions TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (type, id)
		)`,
		`CREATE TABLE IF NOT EXISTS mutable_records (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			user_id TEXT,
			tenant_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			memory_id TEXT PRIMARY KEY,
			memory_space_id TEXT NOT NULL,
			participant_id TEXT,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL,
			embedding TEXT,
			source_type TEXT NOT NULL,
			message_role TEXT,
			user_id TEXT,
			agent_id TEXT,
			conversation_ref TEXT,
			immutable_ref TEXT,
			mutable_ref TEXT,
			facts_ref TEXT,
			importance INTEGER DEFAULT 50,
			tags TEXT,
			version INTEGER DEFAULT 1,
			previous_versions TEXT,
			access_count INTEGER DEFAULT 0,
			last_accessed INTEGER,
			archived INTEGER DEFAULT 0,
			tenant_id TEXT,
			idem_key TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS facts (
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
			source_ref TEXT,
			tags TEXT,
			category TEXT,
			search_aliases TEXT,
			semantic_context TEXT,
			entities TEXT,
			relations TEXT,
			valid_from INTEGER,
			valid_until INTEGER,
			version INTEGER DEFAULT 1,
			superseded_by TEXT,
			supersedes TEXT,
			decay_rate REAL,
			last_reinforced INTEGER,
			embedding TEXT,
			tenant_id TEXT,
			idem_key TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
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
			pipeline TEXT,
			user_id TEXT,
			participant_id TEXT,
			conversation_id TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_spaces (
			memory_space_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			description TEXT,
			created_by TEXT,
			participants TEXT,
			status TEXT NOT NULL,
			tenant_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contexts (
			context_id TEXT PRIMARY KEY,
			memory_space_id TEXT NOT NULL,
			purpose TEXT,
			user_id TEXT,
			parent_id TEXT,
			root_id TEXT NOT NULL,
			depth INTEGER DEFAULT 0,
			child_ids TEXT,
			status TEXT NOT NULL,
			participants TEXT,
			granted_access TEXT,
			version INTEGER DEFAULT 1,
			previous_versions TEXT,
			tenant_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS graph_sync_queue (
			id TEXT PRIMARY KEY,
			"table" TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			entity TEXT,
			synced INTEGER DEFAULT 0,
			failed_attempts INTEGER DEFAULT 0,
			last_error TEXT,
			priority TEXT,
			next_attempt_at INTEGER DEFAULT 0,
			dead_letter INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS governance_enforcements (
			enforcement_id TEXT PRIMARY KEY,
			policy_id TEXT,
			versions_deleted INTEGER,
			records_purged INTEGER,
			storage_freed INTEGER,
			ran_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gdpr_work_items (
			user_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			done INTEGER DEFAULT 0,
			deleted_count INTEGER DEFAULT 0,
			PRIMARY KEY (user_id, collection)
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_space ON conversations(memory_space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_space ON memories(memory_space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_space ON facts(memory_space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_slot ON facts(memory_space_id, user_id, subject, predicate, fact_type)`,
		`CREATE INDEX IF NOT EXISTS idx_fact_history_fact ON fact_history(fact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_space ON contexts(memory_space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_sync_pending ON graph_sync_queue(synced, dead_letter, next_attempt_at)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	// FTS5 full-text index for keyword search over memories and facts.
	_, _ = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(memory_id UNINDEXED, content)`)
	_, _ = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(fact_id UNINDEXED, fact_text)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// DB returns the underlying *sql.DB, for sharing with a companion store that
// must serialize through the same connection.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	if err := s.db.Close(); err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
		return err
	}
	return nil
}

// --- shared helpers ---------------------------------------------------

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

func deserializeEmbedding(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalJSON(s string, v any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}
