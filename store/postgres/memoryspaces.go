package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cortexmem/cortex"
)

const memorySpaceSelectColumnsPg = `SELECT memory_space_id, type, description, created_by, participants, status, tenant_id, created_at, updated_at`

func (s *Store) CreateMemorySpace(ctx context.Context, m cortex.MemorySpace) (cortex.MemorySpace, error) {
	if m.MemorySpaceID == "" {
		m.MemorySpaceID = cortex.NewID()
	}
	now := nowMs()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Status == "" {
		m.Status = cortex.SpaceActive
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_spaces (memory_space_id, type, description, created_by, participants, status, tenant_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.MemorySpaceID, string(m.Type), nullStr(m.Description), nullStr(m.CreatedBy), marshalJSON(m.Participants),
		string(m.Status), nullStr(m.TenantID), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return cortex.MemorySpace{}, fmt.Errorf("postgres: create memory space: %w", err)
	}
	return m, nil
}

func (s *Store) GetMemorySpace(ctx context.Context, memorySpaceID string) (*cortex.MemorySpace, error) {
	row := s.pool.QueryRow(ctx, memorySpaceSelectColumnsPg+` FROM memory_spaces WHERE memory_space_id = $1`, memorySpaceID)
	m, err := scanMemorySpacePg(row)
	if err == pgx.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: "memorySpace", Key: memorySpaceID}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get memory space: %w", err)
	}
	return &m, nil
}

func (s *Store) ListMemorySpaces(ctx context.Context, tenantID string) ([]cortex.MemorySpace, error) {
	query := memorySpaceSelectColumnsPg + ` FROM memory_spaces`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memory spaces: %w", err)
	}
	defer rows.Close()

	var out []cortex.MemorySpace
	for rows.Next() {
		m, err := scanMemorySpacePg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan memory space: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMemorySpaceStatus(ctx context.Context, memorySpaceID string, status cortex.MemorySpaceStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE memory_spaces SET status = $1, updated_at = $2 WHERE memory_space_id = $3`,
		string(status), nowMs(), memorySpaceID)
	if err != nil {
		return fmt.Errorf("postgres: update memory space status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &cortex.NotFoundError{Collection: "memorySpace", Key: memorySpaceID}
	}
	return nil
}

func scanMemorySpacePg(row pgx.Row) (cortex.MemorySpace, error) {
	var m cortex.MemorySpace
	var description, createdBy, tenantID *string
	var participantsJSON []byte
	var typ, status string
	err := row.Scan(&m.MemorySpaceID, &typ, &description, &createdBy, &participantsJSON, &status, &tenantID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return cortex.MemorySpace{}, err
	}
	m.Type = cortex.MemorySpaceType(typ)
	m.Status = cortex.MemorySpaceStatus(status)
	m.Description, m.CreatedBy, m.TenantID = strOf(description), strOf(createdBy), strOf(tenantID)
	unmarshalJSON(participantsJSON, &m.Participants)
	return m, nil
}
