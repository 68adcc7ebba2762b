package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexmem/cortex"
)

func (s *Store) CreateMemorySpace(ctx context.Context, m cortex.MemorySpace) (cortex.MemorySpace, error) {
	start := time.Now()
	if m.MemorySpaceID == "" {
		m.MemorySpaceID = cortex.NewID()
	}
	now := cortex.NowMillis()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Status == "" {
		m.Status = cortex.SpaceActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_spaces (memory_space_id, type, description, created_by, participants, status, tenant_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MemorySpaceID, string(m.Type), nullString(m.Description), nullString(m.CreatedBy), marshalJSON(m.Participants),
		string(m.Status), nullString(m.TenantID), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create memory space failed", "error", err, "duration", time.Since(start))
		return cortex.MemorySpace{}, fmt.Errorf("create memory space: %w", err)
	}
	s.logger.Debug("sqlite: create memory space ok", "memory_space_id", m.MemorySpaceID, "duration", time.Since(start))
	return m, nil
}

func (s *Store) GetMemorySpace(ctx context.Context, memorySpaceID string) (*cortex.MemorySpace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT memory_space_id, type, description, created_by, participants, status, tenant_id, created_at, updated_at
		 FROM memory_spaces WHERE memory_space_id = ?`, memorySpaceID)
	m, err := scanMemorySpace(row)
	if err == sql.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: "memorySpace", Key: memorySpaceID}
	}
	if err != nil {
		return nil, fmt.Errorf("get memory space: %w", err)
	}
	return &m, nil
}

func (s *Store) ListMemorySpaces(ctx context.Context, tenantID string) ([]cortex.MemorySpace, error) {
	query := `SELECT memory_space_id, type, description, created_by, participants, status, tenant_id, created_at, updated_at FROM memory_spaces`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory spaces: %w", err)
	}
	defer rows.Close()

	var out []cortex.MemorySpace
	for rows.Next() {
		m, err := scanMemorySpace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory space: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMemorySpaceStatus(ctx context.Context, memorySpaceID string, status cortex.MemorySpaceStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memory_spaces SET status = ?, updated_at = ? WHERE memory_space_id = ?`,
		string(status), cortex.NowMillis(), memorySpaceID)
	if err != nil {
		return fmt.Errorf("update memory space status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update memory space status: %w", err)
	}
	if n == 0 {
		return &cortex.NotFoundError{Collection: "memorySpace", Key: memorySpaceID}
	}
	return nil
}

func scanMemorySpace(row rowScanner) (cortex.MemorySpace, error) {
	var m cortex.MemorySpace
	var description, createdBy, participantsJSON, tenantID sql.NullString
	var typ, status string
	err := row.Scan(&m.MemorySpaceID, &typ, &description, &createdBy, &participantsJSON, &status, &tenantID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return cortex.MemorySpace{}, err
	}
	m.Type = cortex.MemorySpaceType(typ)
	m.Status = cortex.MemorySpaceStatus(status)
	m.Description, m.CreatedBy, m.TenantID = description.String, createdBy.String, tenantID.String
	if participantsJSON.Valid {
		unmarshalJSON(participantsJSON.String, &m.Participants)
	}
	return m, nil
}
