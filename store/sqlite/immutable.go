package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexmem/cortex"
)

func (s *Store) StoreImmutable(ctx context.Context, typ, id string, data map[string]any, userID string, retention int) (cortex.ImmutableRecord, error) {
	start := time.Now()
	s.logger.Debug("sqlite: store immutable", "type", typ, "id", id)

	now := cortex.NowMillis()
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO immutable_records (type, id, data, user_id, tenant_id, version, previous_versions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(type, id) DO UPDATE SET data=excluded.data, version=excluded.version,
		   previous_versions=excluded.previous_versions, updated_at=excluded.updated_at`,
		rec.Type, rec.ID, marshalJSON(rec.Data), nullString(rec.UserID), nullString(rec.TenantID),
		rec.Version, marshalJSON(rec.PreviousVersions), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: store immutable failed", "type", typ, "id", id, "error", err, "duration", time.Since(start))
		return cortex.ImmutableRecord{}, fmt.Errorf("store immutable: %w", err)
	}
	s.logger.Debug("sqlite: store immutable ok", "type", typ, "id", id, "version", rec.Version, "duration", time.Since(start))
	return rec, nil
}

func (s *Store) GetImmutable(ctx context.Context, typ, id string) (*cortex.ImmutableRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT type, id, data, user_id, tenant_id, version, previous_versions, created_at, updated_at
		 FROM immutable_records WHERE type = ? AND id = ?`, typ, id)
	rec, err := scanImmutable(row)
	if err == sql.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: typ, Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get immutable: %w", err)
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
	start := time.Now()
	query := `SELECT type, id, data, user_id, tenant_id, version, previous_versions, created_at, updated_at FROM immutable_records WHERE type = ?`
	args := []any{typ}
	if tenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
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
		return nil, fmt.Errorf("list immutable: %w", err)
	}
	defer rows.Close()

	var out []cortex.ImmutableRecord
	for rows.Next() {
		rec, err := scanImmutable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan immutable: %w", err)
		}
		out = append(out, rec)
	}
	s.logger.Debug("sqlite: list immutable ok", "type", typ, "count", len(out), "duration", time.Since(start))
	return out, rows.Err()
}

func (s *Store) CountImmutable(ctx context.Context, typ string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM immutable_records WHERE type = ?`, typ).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count immutable: %w", err)
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

	_, err = s.db.ExecContext(ctx,
		`UPDATE immutable_records SET previous_versions = ?, updated_at = ? WHERE type = ? AND id = ?`,
		marshalJSON(trimmed), cortex.NowMillis(), typ, id,
	)
	if err != nil {
		return 0, fmt.Errorf("trim immutable versions: %w", err)
	}
	s.logger.Debug("sqlite: trim immutable versions ok", "type", typ, "id", id, "dropped", dropped)
	return dropped, nil
}

func (s *Store) PurgeImmutable(ctx context.Context, typ, id string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `DELETE FROM immutable_records WHERE type = ? AND id = ?`, typ, id)
	if err != nil {
		return fmt.Errorf("purge immutable: %w", err)
	}
	s.logger.Debug("sqlite: purge immutable ok", "type", typ, "id", id, "duration", time.Since(start))
	return nil
}

func scanImmutable(row rowScanner) (cortex.ImmutableRecord, error) {
	var rec cortex.ImmutableRecord
	var dataJSON string
	var userID, tenantID, prevJSON sql.NullString
	err := row.Scan(&rec.Type, &rec.ID, &dataJSON, &userID, &tenantID, &rec.Version, &prevJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return cortex.ImmutableRecord{}, err
	}
	unmarshalJSON(dataJSON, &rec.Data)
	if userID.Valid {
		rec.UserID = userID.String
	}
	if tenantID.Valid {
		rec.TenantID = tenantID.String
	}
	if prevJSON.Valid {
		unmarshalJSON(prevJSON.String, &rec.PreviousVersions)
	}
	return rec, nil
}
