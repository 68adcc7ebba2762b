package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexmem/cortex"
)

func (s *Store) SetMutable(ctx context.Context, namespace, key string, value map[string]any, userID string) (cortex.MutableRecord, error) {
	start := time.Now()
	now := cortex.NowMillis()

	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM mutable_records WHERE namespace = ? AND key = ?`, namespace, key).Scan(&createdAt)
	if err == sql.ErrNoRows {
		createdAt = now
	} else if err != nil {
		return cortex.MutableRecord{}, fmt.Errorf("set mutable: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mutable_records (namespace, key, value, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value=excluded.value, user_id=excluded.user_id, updated_at=excluded.updated_at`,
		namespace, key, marshalJSON(value), nullString(userID), createdAt, now,
	)
	if err != nil {
		s.logger.Error("sqlite: set mutable failed", "namespace", namespace, "key", key, "error", err, "duration", time.Since(start))
		return cortex.MutableRecord{}, fmt.Errorf("set mutable: %w", err)
	}
	s.logger.Debug("sqlite: set mutable ok", "namespace", namespace, "key", key, "duration", time.Since(start))
	return cortex.MutableRecord{Namespace: namespace, Key: key, Value: value, UserID: userID, CreatedAt: createdAt, UpdatedAt: now}, nil
}

func (s *Store) GetMutable(ctx context.Context, namespace, key string) (*cortex.MutableRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT namespace, key, value, user_id, tenant_id, created_at, updated_at FROM mutable_records WHERE namespace = ? AND key = ?`,
		namespace, key)
	rec, err := scanMutable(row)
	if err == sql.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: namespace, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get mutable: %w", err)
	}
	return &rec, nil
}

// UpdateMutable performs an optimistic-concurrency read/apply/CAS loop,
// retrying up to maxAttempts times before returning *cortex.ConflictError.
// SQLite's single-connection serialization makes every individual
// transaction atomic; the retry loop exists to give fn a chance to
// recompute against a value it raced another caller to write.
func (s *Store) UpdateMutable(ctx context.Context, namespace, key string, maxAttempts int, fn func(current map[string]any) (map[string]any, error)) (cortex.MutableRecord, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return cortex.MutableRecord{}, fmt.Errorf("begin tx: %w", err)
		}

		var valueJSON sql.NullString
		var createdAt sql.NullInt64
		err = tx.QueryRowContext(ctx, `SELECT value, created_at FROM mutable_records WHERE namespace = ? AND key = ?`, namespace, key).
			Scan(&valueJSON, &createdAt)
		var current map[string]any
		now := cortex.NowMillis()
		if err == sql.ErrNoRows {
			createdAt = sql.NullInt64{Int64: now, Valid: true}
		} else if err != nil {
			tx.Rollback() //nolint:errcheck
			return cortex.MutableRecord{}, fmt.Errorf("read mutable: %w", err)
		} else if valueJSON.Valid {
			unmarshalJSON(valueJSON.String, &current)
		}

		next, err := fn(current)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return cortex.MutableRecord{}, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO mutable_records (namespace, key, value, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(namespace, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
			namespace, key, marshalJSON(next), createdAt.Int64, now,
		)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			lastErr = err
			continue
		}
		if err := tx.Commit(); err != nil {
			lastErr = err
			continue
		}
		return cortex.MutableRecord{Namespace: namespace, Key: key, Value: next, CreatedAt: createdAt.Int64, UpdatedAt: now}, nil
	}
	s.logger.Warn("sqlite: update mutable exhausted retries", "namespace", namespace, "key", key, "attempts", maxAttempts, "error", lastErr)
	return cortex.MutableRecord{}, &cortex.ConflictError{Namespace: namespace, Key: key, Attempts: maxAttempts}
}

func (s *Store) DeleteMutable(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mutable_records WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete mutable: %w", err)
	}
	return nil
}

func (s *Store) ListMutable(ctx context.Context, namespace, userID string, limit int) ([]cortex.MutableRecord, error) {
	query := `SELECT namespace, key, value, user_id, tenant_id, created_at, updated_at FROM mutable_records WHERE namespace = ?`
	args := []any{namespace}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mutable: %w", err)
	}
	defer rows.Close()

	var out []cortex.MutableRecord
	for rows.Next() {
		rec, err := scanMutable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutable: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountMutable(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutable_records WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mutable: %w", err)
	}
	return n, nil
}

func scanMutable(row rowScanner) (cortex.MutableRecord, error) {
	var rec cortex.MutableRecord
	var valueJSON string
	var userID, tenantID sql.NullString
	err := row.Scan(&rec.Namespace, &rec.Key, &valueJSON, &userID, &tenantID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return cortex.MutableRecord{}, err
	}
	unmarshalJSON(valueJSON, &rec.Value)
	if userID.Valid {
		rec.UserID = userID.String
	}
	if tenantID.Valid {
		rec.TenantID = tenantID.String
	}
	return rec, nil
}
