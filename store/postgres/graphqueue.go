package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cortexmem/cortex"
)

func (s *Store) EnqueueGraphSync(ctx context.Context, item cortex.GraphSyncItem) (cortex.GraphSyncItem, error) {
	if item.ID == "" {
		item.ID = cortex.NewID()
	}
	now := nowMs()
	item.CreatedAt, item.UpdatedAt = now, now
	if item.Priority == "" {
		item.Priority = "normal"
	}
	if item.NextAttemptAt == 0 {
		item.NextAttemptAt = now
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO graph_sync_queue (id, "table", entity_id, operation, entity, synced, failed_attempts,
			last_error, priority, next_attempt_at, dead_letter, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, 0, NULL, $6, $7, FALSE, $8, $9)`,
		item.ID, item.Table, item.EntityID, string(item.Operation), marshalJSON(item.Entity), item.Priority,
		item.NextAttemptAt, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return cortex.GraphSyncItem{}, fmt.Errorf("postgres: enqueue graph sync: %w", err)
	}
	return item, nil
}

// DequeueGraphSyncBatch orders candidates by priority (critical first) then
// age, matching the envelope package's priority tiers.
func (s *Store) DequeueGraphSyncBatch(ctx context.Context, now int64, limit int) ([]cortex.GraphSyncItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, "table", entity_id, operation, entity, synced, failed_attempts, last_error, priority,
			next_attempt_at, dead_letter, created_at, updated_at
		 FROM graph_sync_queue
		 WHERE synced = FALSE AND dead_letter = FALSE AND next_attempt_at <= $1
		 ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END, created_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: dequeue graph sync batch: %w", err)
	}
	defer rows.Close()

	var out []cortex.GraphSyncItem
	for rows.Next() {
		item, err := scanGraphSyncItemPg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan graph sync item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) MarkGraphSyncSynced(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE graph_sync_queue SET synced = TRUE, updated_at = $1 WHERE id = $2`, nowMs(), id)
	if err != nil {
		return fmt.Errorf("postgres: mark graph sync synced: %w", err)
	}
	return nil
}

func (s *Store) MarkGraphSyncFailed(ctx context.Context, id string, lastErr string, nextAttemptAt int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE graph_sync_queue SET failed_attempts = failed_attempts + 1, last_error = $1, next_attempt_at = $2, updated_at = $3 WHERE id = $4`,
		lastErr, nextAttemptAt, nowMs(), id)
	if err != nil {
		return fmt.Errorf("postgres: mark graph sync failed: %w", err)
	}
	return nil
}

func (s *Store) MarkGraphSyncDeadLetter(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE graph_sync_queue SET dead_letter = TRUE, updated_at = $1 WHERE id = $2`, nowMs(), id)
	if err != nil {
		return fmt.Errorf("postgres: mark graph sync dead letter: %w", err)
	}
	return nil
}

func (s *Store) CountGraphSyncPending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM graph_sync_queue WHERE synced = FALSE AND dead_letter = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count graph sync pending: %w", err)
	}
	return n, nil
}

func scanGraphSyncItemPg(row pgx.Row) (cortex.GraphSyncItem, error) {
	var item cortex.GraphSyncItem
	var entityJSON []byte
	var lastError *string
	var synced, deadLetter bool
	var operation string
	err := row.Scan(&item.ID, &item.Table, &item.EntityID, &operation, &entityJSON, &synced, &item.FailedAttempts,
		&lastError, &item.Priority, &item.NextAttemptAt, &deadLetter, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return cortex.GraphSyncItem{}, err
	}
	item.Operation = cortex.GraphQueueOperation(operation)
	item.Synced = synced
	item.DeadLetter = deadLetter
	item.LastError = strOf(lastError)
	unmarshalJSON(entityJSON, &item.Entity)
	return item, nil
}
