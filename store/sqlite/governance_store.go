package sqlite

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortex"
)

func (s *Store) RecordEnforcement(ctx context.Context, e cortex.GovernanceEnforcement) (cortex.GovernanceEnforcement, error) {
	if e.EnforcementID == "" {
		e.EnforcementID = cortex.NewID()
	}
	if e.RanAt == 0 {
		e.RanAt = cortex.NowMillis()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO governance_enforcements (enforcement_id, policy_id, versions_deleted, records_purged, storage_freed, ran_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.EnforcementID, nullString(e.PolicyID), e.VersionsDeleted, e.RecordsPurged, e.StorageFreed, e.RanAt,
	)
	if err != nil {
		return cortex.GovernanceEnforcement{}, fmt.Errorf("record enforcement: %w", err)
	}
	return e, nil
}

// EnqueueGDPRWork seeds one work item per collection for userID, skipping
// any already queued so resuming a crashed cascade doesn't reset progress.
func (s *Store) EnqueueGDPRWork(ctx context.Context, userID string, collections []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, col := range collections {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO gdpr_work_items (user_id, collection, done, deleted_count) VALUES (?, ?, 0, 0)
			 ON CONFLICT(user_id, collection) DO NOTHING`, userID, col)
		if err != nil {
			return fmt.Errorf("enqueue gdpr work: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) PendingGDPRWork(ctx context.Context, userID string) ([]cortex.GDPRWorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, collection, done, deleted_count FROM gdpr_work_items WHERE user_id = ? AND done = 0`, userID)
	if err != nil {
		return nil, fmt.Errorf("pending gdpr work: %w", err)
	}
	defer rows.Close()

	var out []cortex.GDPRWorkItem
	for rows.Next() {
		var item cortex.GDPRWorkItem
		var done int
		if err := rows.Scan(&item.UserID, &item.Collection, &done, &item.DeletedCount); err != nil {
			return nil, fmt.Errorf("scan gdpr work item: %w", err)
		}
		item.Done = done != 0
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) CompleteGDPRWork(ctx context.Context, userID, collection string, deletedCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE gdpr_work_items SET done = 1, deleted_count = ? WHERE user_id = ? AND collection = ?`,
		deletedCount, userID, collection)
	if err != nil {
		return fmt.Errorf("complete gdpr work: %w", err)
	}
	return nil
}

// gdprCollectionTables maps the collection names used by the GDPR cascade to
// the physical table and user-identifying column.
var gdprCollectionTables = map[string]struct {
	table  string
	column string
}{
	"conversations":      {"conversations", "participant_id"},
	"immutable":          {"immutable_records", "user_id"},
	"mutable":            {"mutable_records", "user_id"},
	"memories":           {"memories", "user_id"},
	"facts":              {"facts", "user_id"},
	"factHistory":        {"fact_history", "user_id"},
	"contexts":           {"contexts", "user_id"},
}

func (s *Store) DeleteByUser(ctx context.Context, collection, userID string) (int, error) {
	mapping, ok := gdprCollectionTables[collection]
	if !ok {
		return 0, fmt.Errorf("delete by user: unknown collection %q", collection)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, mapping.table, mapping.column), userID)
	if err != nil {
		return 0, fmt.Errorf("delete by user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete by user: %w", err)
	}
	return int(n), nil
}
