package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cortexmem/cortex"
)

const contextSelectColumnsPg = `SELECT context_id, memory_space_id, purpose, user_id, parent_id, root_id, depth,
	child_ids, status, participants, granted_access, version, previous_versions, tenant_id, created_at, updated_at`

func (s *Store) CreateContext(ctx context.Context, c cortex.Context) (cortex.Context, error) {
	if c.ContextID == "" {
		c.ContextID = cortex.NewID()
	}
	if c.RootID == "" {
		c.RootID = c.ContextID
	}
	now := nowMs()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Version == 0 {
		c.Version = 1
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO contexts (context_id, memory_space_id, purpose, user_id, parent_id, root_id, depth, child_ids,
			status, participants, granted_access, version, previous_versions, tenant_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ContextID, c.MemorySpaceID, c.Purpose, nullStr(c.UserID), nullStr(c.ParentID), c.RootID, c.Depth,
		marshalJSON(c.ChildIDs), string(c.Status), marshalJSON(c.Participants), marshalJSON(c.GrantedAccess),
		c.Version, marshalJSON(c.PreviousVersions), nullStr(c.TenantID), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return cortex.Context{}, fmt.Errorf("postgres: create context: %w", err)
	}

	if c.ParentID != "" {
		if err := s.linkChildContext(ctx, c.ParentID, c.ContextID); err != nil {
			// Parent child-linking is best-effort; a missing parent isn't fatal here.
			_ = err
		}
	}
	return c, nil
}

func (s *Store) GetContext(ctx context.Context, contextID string) (*cortex.Context, error) {
	row := s.pool.QueryRow(ctx, contextSelectColumnsPg+` FROM contexts WHERE context_id = $1`, contextID)
	c, err := scanContextPg(row)
	if err == pgx.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: "context", Key: contextID}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get context: %w", err)
	}
	return &c, nil
}

func (s *Store) UpdateContext(ctx context.Context, contextID string, patch func(cur cortex.Context) (cortex.Context, error), retention int) (cortex.Context, error) {
	cur, err := s.GetContext(ctx, contextID)
	if err != nil {
		return cortex.Context{}, err
	}
	next, err := patch(*cur)
	if err != nil {
		return cortex.Context{}, err
	}
	next.ContextID = contextID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = nowMs()
	next.Version = cur.Version + 1
	next.PreviousVersions = append(cur.PreviousVersions, cortex.VersionSnapshot{
		Version: cur.Version, Data: contextToMapPg(*cur), Timestamp: cur.UpdatedAt,
	})
	if retention > 0 && len(next.PreviousVersions) > retention {
		next.PreviousVersions = next.PreviousVersions[len(next.PreviousVersions)-retention:]
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE contexts SET purpose = $1, user_id = $2, parent_id = $3, depth = $4, child_ids = $5, status = $6,
			participants = $7, granted_access = $8, version = $9, previous_versions = $10, updated_at = $11
		 WHERE context_id = $12`,
		next.Purpose, nullStr(next.UserID), nullStr(next.ParentID), next.Depth, marshalJSON(next.ChildIDs),
		string(next.Status), marshalJSON(next.Participants), marshalJSON(next.GrantedAccess), next.Version,
		marshalJSON(next.PreviousVersions), next.UpdatedAt, contextID,
	)
	if err != nil {
		return cortex.Context{}, fmt.Errorf("postgres: update context: %w", err)
	}
	return next, nil
}

func contextToMapPg(c cortex.Context) map[string]any {
	return map[string]any{
		"purpose": c.Purpose, "status": c.Status, "participants": c.Participants, "grantedAccess": c.GrantedAccess,
	}
}

func (s *Store) linkChildContext(ctx context.Context, parentID, childID string) error {
	cur, err := s.GetContext(ctx, parentID)
	if err != nil {
		return err
	}
	children := append(cur.ChildIDs, childID)
	_, err = s.pool.Exec(ctx, `UPDATE contexts SET child_ids = $1, updated_at = $2 WHERE context_id = $3`,
		marshalJSON(children), nowMs(), parentID)
	if err != nil {
		return fmt.Errorf("postgres: link child context: %w", err)
	}
	return nil
}

func (s *Store) AddContextParticipant(ctx context.Context, contextID, participantID string) error {
	cur, err := s.GetContext(ctx, contextID)
	if err != nil {
		return err
	}
	for _, p := range cur.Participants {
		if p == participantID {
			return nil
		}
	}
	participants := append(cur.Participants, participantID)
	_, err = s.pool.Exec(ctx, `UPDATE contexts SET participants = $1, updated_at = $2 WHERE context_id = $3`,
		marshalJSON(participants), nowMs(), contextID)
	if err != nil {
		return fmt.Errorf("postgres: add context participant: %w", err)
	}
	return nil
}

func (s *Store) GrantContextAccess(ctx context.Context, contextID string, grant cortex.AccessGrant) error {
	cur, err := s.GetContext(ctx, contextID)
	if err != nil {
		return err
	}
	grants := append(cur.GrantedAccess, grant)
	_, err = s.pool.Exec(ctx, `UPDATE contexts SET granted_access = $1, updated_at = $2 WHERE context_id = $3`,
		marshalJSON(grants), nowMs(), contextID)
	if err != nil {
		return fmt.Errorf("postgres: grant context access: %w", err)
	}
	return nil
}

func (s *Store) DeleteContext(ctx context.Context, contextID string, cascade bool) error {
	if !cascade {
		_, err := s.pool.Exec(ctx, `DELETE FROM contexts WHERE context_id = $1`, contextID)
		if err != nil {
			return fmt.Errorf("postgres: delete context: %w", err)
		}
		return nil
	}

	cur, err := s.GetContext(ctx, contextID)
	if err != nil {
		if _, ok := err.(*cortex.NotFoundError); ok {
			return nil
		}
		return err
	}
	for _, child := range cur.ChildIDs {
		if err := s.DeleteContext(ctx, child, true); err != nil {
			return err
		}
	}
	rows, err := s.pool.Query(ctx, `SELECT context_id FROM contexts WHERE parent_id = $1`, contextID)
	if err != nil {
		return fmt.Errorf("postgres: delete context cascade: %w", err)
	}
	var childIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan cascade child: %w", err)
		}
		childIDs = append(childIDs, id)
	}
	rows.Close()
	for _, id := range childIDs {
		if err := s.DeleteContext(ctx, id, true); err != nil {
			return err
		}
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM contexts WHERE context_id = $1`, contextID); err != nil {
		return fmt.Errorf("postgres: delete context: %w", err)
	}
	return nil
}

func (s *Store) ListContexts(ctx context.Context, memorySpaceID string) ([]cortex.Context, error) {
	rows, err := s.pool.Query(ctx,
		contextSelectColumnsPg+` FROM contexts WHERE memory_space_id = $1 ORDER BY created_at DESC`, memorySpaceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contexts: %w", err)
	}
	defer rows.Close()

	var out []cortex.Context
	for rows.Next() {
		c, err := scanContextPg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContextPg(row pgx.Row) (cortex.Context, error) {
	var c cortex.Context
	var userID, parentID, tenantID *string
	var childIDsJSON, participantsJSON, grantedJSON, prevJSON []byte
	var status string
	err := row.Scan(&c.ContextID, &c.MemorySpaceID, &c.Purpose, &userID, &parentID, &c.RootID, &c.Depth,
		&childIDsJSON, &status, &participantsJSON, &grantedJSON, &c.Version, &prevJSON, &tenantID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return cortex.Context{}, err
	}
	c.Status = cortex.ContextStatus(status)
	c.UserID, c.ParentID, c.TenantID = strOf(userID), strOf(parentID), strOf(tenantID)
	unmarshalJSON(childIDsJSON, &c.ChildIDs)
	unmarshalJSON(participantsJSON, &c.Participants)
	unmarshalJSON(grantedJSON, &c.GrantedAccess)
	unmarshalJSON(prevJSON, &c.PreviousVersions)
	return c, nil
}
