package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cortexmem/cortex"
)

func (s *Store) EnqueueGraphSync(ctx context.Context, item cortex.GraphSyncItem) (cortex.GraphSyncItem, error) {
	if item.ID == "" {
		item.ID = cortex.NewID()
	}
	now := cortex.NowMillis()
	item.CreatedAt, item.UpdatedAt = now, now
	if item.Priority == "" {
		item.Priority = "normal"
	}
	if item.NextAttemptAt == 0 {
		item.NextAttemptAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_sync_queue (id, "table", entity_id, operation, entity, synced, failed_attempts,
			last_error, priority, next_attempt_at, dead_letter, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, NULL, ?, ?, 0, ?, ?)`,
		item.ID, item.Table, item.EntityID, string(item.Operation), marshalJSON(item.Entity), item.Priority,
		item.NextAttemptAt, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return cortex.GraphSyncItem{}, fmt.Errorf("enqueue graph sync: %w", err)
	}
	return item, nil
}

// DequeueGraphSyncBatch orders candidates by priority (critical first) then
// age, matching the envelope package's priority tiers.
func (s *Store) DequeueGraphSyncBatch(ctx context.Context, now int64, limit int) ([]cortex.GraphSyncItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, "table", entity_id, operation, entity, synced, failed_attempts, last_error, priority,
			next_attempt_at, dead_letter, created_at, updated_at
		 FROM graph_sync_queue
		 WHERE synced = 0 AND dead_letter = 0 AND next_attempt_at <= ?
		 ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END, created_at
		 LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue graph sync batch: %w", err)
	}
	defer rows.Close()

	var out []cortex.GraphSyncItem
	for rows.Next() {
		item, err := scanGraphSyncItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan graph sync item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) MarkGraphSyncSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE graph_sync_queue SET synced = 1, updated_at = ? WHERE id = ?`, cortex.NowMillis(), id)
	if err != nil {
		return fmt.Errorf("mark graph sync synced: %w", err)
	}
	return nil
}

func (s *Store) MarkGraphSyncFailed(ctx context.Context, id string, lastErr string, nextAttemptAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE graph_sync_queue SET failed_attempts = failed_attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		lastErr, nextAttemptAt, cortex.NowMillis(), id)
	if err != nil {
		return fmt.Errorf("mark graph sync failed: %w", err)
	}
	return nil
}

func (s *Store) MarkGraphSyncDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE graph_sync_queue SET dead_letter = 1, updated_at = ? WHERE id = ?`, cortex.NowMillis(), id)
	if err != nil {
		return fmt.Errorf("mark graph sync dead letter: %w", err)
	}
	return nil
}

func (s *Store) CountGraphSyncPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_sync_queue WHERE synced = 0 AND dead_letter = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count graph sync pending: %w", err)
	}
	return n, nil
}

func scanGraphSyncItem(row rowScanner) (cortex.GraphSyncItem, error) {
	var item cortex.GraphSyncItem
	var entityJSON, lastError sql.NullString
	var synced, deadLetter int
	var operation string
	err := row.Scan(&item.ID, &item.Table, &item.EntityID, &operation, &entityJSON, &synced, &item.FailedAttempts,
		&lastError, &item.Priority, &item.NextAttemptAt, &deadLetter, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return cortex.GraphSyncItem{}, err
	}
	item.Operation = cortex.GraphQueueOperation(operation)
	item.Synced = synced != 0
	item.DeadLetter = deadLetter != 0
	item.LastError = lastError.String
	if entityJSON.Valid {
		unmarshalJSON(entityJSON.String, &item.Entity)
	}
	return item, nil
}
