package postgres

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
		e.RanAt = nowMs()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO governance_enforcements (enforcement_id, policy_id, versions_deleted, records_purged, storage_freed, ran_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.EnforcementID, nullStr(e.PolicyID), e.VersionsDeleted, e.RecordsPurged, e.StorageFreed, e.RanAt,
	)
	if err != nil {
		return cortex.GovernanceEnforcement{}, fmt.Errorf("postgres: record enforcement: %w", err)
	}
	return e, nil
}

// EnqueueGDPRWork seeds one work item per collection for userID, skipping
// any already queued so resuming a crashed cascade doesn't reset progress.
func (s *Store) EnqueueGDPRWork(ctx context.Context, userID string, collections []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, col := range collections {
		_, err := tx.Exec(ctx,
			`INSERT INTO gdpr_work_items (user_id, collection, done, deleted_count) VALUES ($1, $2, FALSE, 0)
			 ON CONFLICT (user_id, collection) DO NOTHING`, userID, col)
		if err != nil {
			return fmt.Errorf("postgres: enqueue gdpr work: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) PendingGDPRWork(ctx context.Context, userID string) ([]cortex.GDPRWorkItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, collection, done, deleted_count FROM gdpr_work_items WHERE user_id = $1 AND done = FALSE`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending gdpr work: %w", err)
	}
	defer rows.Close()

	var out []cortex.GDPRWorkItem
	for rows.Next() {
		var item cortex.GDPRWorkItem
		if err := rows.Scan(&item.UserID, &item.Collection, &item.Done, &item.DeletedCount); err != nil {
			return nil, fmt.Errorf("postgres: scan gdpr work item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) CompleteGDPRWork(ctx context.Context, userID, collection string, deletedCount int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE gdpr_work_items SET done = TRUE, deleted_count = $1 WHERE user_id = $2 AND collection = $3`,
		deletedCount, userID, collection)
	if err != nil {
		return fmt.Errorf("postgres: complete gdpr work: %w", err)
	}
	return nil
}

// gdprCollectionTablesPg maps the collection names used by the GDPR cascade
// to the physical table and user-identifying column.
var gdprCollectionTablesPg = map[string]struct {
	table  string
	column string
}{
	"conversations":     {"conversations", "participant_id"},
	"immutable":         {"immutable_records", "user_id"},
	"mutable":           {"mutable_records", "user_id"},
	"memories":          {"memories", "user_id"},
	"facts":             {"facts", "user_id"},
	"factHistory":       {"fact_history", "user_id"},
	"contexts":          {"contexts", "user_id"},
}

func (s *Store) DeleteByUser(ctx context.Context, collection, userID string) (int, error) {
	mapping, ok := gdprCollectionTablesPg[collection]
	if !ok {
		return 0, fmt.Errorf("postgres: delete by user: unknown collection %q", collection)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, mapping.table, mapping.column), userID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete by user: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
