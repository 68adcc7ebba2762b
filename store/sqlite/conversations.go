package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexmem/cortex"
)

// idempotency window: a create/append seen again with the same key within
// this window returns the prior result instead of duplicating the write.
const idempotencyWindow = 5 * time.Minute

func (s *Store) CreateConversation(ctx context.Context, conv cortex.Conversation, idem cortex.IdempotencyKey) (cortex.Conversation, error) {
	start := time.Now()
	s.logger.Debug("sqlite: create conversation", "memory_space_id", conv.MemorySpaceID, "type", conv.Type)

	if idem != "" {
		if existing, ok, err := s.findConversationByIdem(ctx, string(idem)); err != nil {
			return cortex.Conversation{}, fmt.Errorf("check idempotency: %w", err)
		} else if ok {
			s.logger.Debug("sqlite: create conversation idempotent hit", "conversation_id", existing.ConversationID)
			return existing, nil
		}
	}

	if conv.ConversationID == "" {
		conv.ConversationID = cortex.NewID()
	}
	now := cortex.NowMillis()
	conv.CreatedAt, conv.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, memory_space_id, participant_id, type, participants, summary, message_count, tenant_id, idem_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ConversationID, conv.MemorySpaceID, nullString(conv.ParticipantID), string(conv.Type),
		marshalJSON(conv.Participants), conv.Summary, conv.MessageCount, nullString(conv.TenantID),
		nullString(string(idem)), conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create conversation failed", "error", err, "duration", time.Since(start))
		return cortex.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Debug("sqlite: create conversation ok", "conversation_id", conv.ConversationID, "duration", time.Since(start))
	return conv, nil
}

func (s *Store) findConversationByIdem(ctx context.Context, idem string) (cortex.Conversation, bool, error) {
	cutoff := cortex.NowMillis() - idempotencyWindow.Milliseconds()
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, memory_space_id, participant_id, type, participants, summary, message_count, tenant_id, created_at, updated_at
		 FROM conversations WHERE idem_key = ? AND created_at >= ?`, idem, cutoff)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return cortex.Conversation{}, false, nil
	}
	if err != nil {
		return cortex.Conversation{}, false, err
	}
	return conv, true, nil
}

func (s *Store) AddMessage(ctx context.Context, conversationID string, msg cortex.Message, idem cortex.IdempotencyKey) (string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: add message", "conversation_id", conversationID, "role", msg.Role)

	if idem != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM messages WHERE conversation_id = ? AND idem_key = ? AND timestamp >= ?`,
			conversationID, string(idem), cortex.NowMillis()-idempotencyWindow.Milliseconds(),
		).Scan(&existingID)
		if err == nil {
			s.logger.Debug("sqlite: add message idempotent hit", "id", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("check idempotency: %w", err)
		}
	}

	if msg.ID == "" {
		msg.ID = cortex.NewID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = cortex.NowMillis()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, participant_id, metadata, idem_key, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Role), msg.Content, nullString(msg.ParticipantID),
		marshalJSON(msg.Metadata), nullString(string(idem)), msg.Timestamp,
	)
	if err != nil {
		s.logger.Error("sqlite: add message failed", "conversation_id", conversationID, "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, updated_at = ? WHERE conversation_id = ?`,
		cortex.NowMillis(), conversationID,
	)
	if err != nil {
		return "", fmt.Errorf("bump message count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: add message ok", "id", msg.ID, "duration", time.Since(start))
	return msg.ID, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*cortex.Conversation, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get conversation", "conversation_id", conversationID)

	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, memory_space_id, participant_id, type, participants, summary, message_count, tenant_id, created_at, updated_at
		 FROM conversations WHERE conversation_id = ?`, conversationID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: "conversation", Key: conversationID}
	}
	if err != nil {
		s.logger.Error("sqlite: get conversation failed", "conversation_id", conversationID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	s.logger.Debug("sqlite: get conversation ok", "conversation_id", conversationID, "duration", time.Since(start))
	return &conv, nil
}

func (s *Store) ListConversations(ctx context.Context, f cortex.ConversationFilter) ([]cortex.Conversation, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list conversations", "memory_space_id", f.MemorySpaceID)

	where, args := conversationFilterClause(f)
	query := `SELECT conversation_id, memory_space_id, participant_id, type, participants, summary, message_count, tenant_id, created_at, updated_at
		FROM conversations` + where + ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list conversations failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []cortex.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	s.logger.Debug("sqlite: list conversations ok", "count", len(out), "duration", time.Since(start))
	return out, rows.Err()
}

func (s *Store) CountConversations(ctx context.Context, f cortex.ConversationFilter) (int, error) {
	where, args := conversationFilterClause(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete conversation", "conversation_id", conversationID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: delete conversation ok", "conversation_id", conversationID, "duration", time.Since(start))
	return nil
}

func (s *Store) ExportConversation(ctx context.Context, conversationID string) ([]byte, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.GetConversationHistory(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return json.Marshal(conv)
}

// GetConversationHistory returns the most recent `limit` messages for a
// conversation in chronological order (oldest first); limit <= 0 means all.
func (s *Store) GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]cortex.Message, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get conversation history", "conversation_id", conversationID, "limit", limit)

	query := `SELECT id, role, content, participant_id, metadata, timestamp FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: get conversation history failed", "conversation_id", conversationID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("get conversation history: %w", err)
	}
	defer rows.Close()

	var msgs []cortex.Message
	for rows.Next() {
		var m cortex.Message
		var role string
		var participantID, metaJSON sql.NullString
		if err := rows.Scan(&m.ID, &role, &m.Content, &participantID, &metaJSON, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = cortex.MessageRole(role)
		if participantID.Valid {
			m.ParticipantID = participantID.String
		}
		if metaJSON.Valid {
			unmarshalJSON(metaJSON.String, &m.Metadata)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	s.logger.Debug("sqlite: get conversation history ok", "conversation_id", conversationID, "count", len(msgs), "duration", time.Since(start))
	return msgs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (cortex.Conversation, error) {
	var c cortex.Conversation
	var participantID, participantsJSON, summary, tenantID sql.NullString
	var typ string
	err := row.Scan(&c.ConversationID, &c.MemorySpaceID, &participantID, &typ, &participantsJSON,
		&summary, &c.MessageCount, &tenantID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return cortex.Conversation{}, err
	}
	c.Type = cortex.ConversationType(typ)
	if participantID.Valid {
		c.ParticipantID = participantID.String
	}
	if participantsJSON.Valid {
		unmarshalJSON(participantsJSON.String, &c.Participants)
	}
	if summary.Valid {
		c.Summary = summary.String
	}
	if tenantID.Valid {
		c.TenantID = tenantID.String
	}
	return c, nil
}

func conversationFilterClause(f cortex.ConversationFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.MemorySpaceID != "" {
		clauses = append(clauses, "memory_space_id = ?")
		args = append(args, f.MemorySpaceID)
	}
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "participant_id = ?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}
