package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexmem/cortex"
)

func (s *Store) CreateContext(ctx context.Context, c cortex.Context) (cortex.Context, error) {
	start := time.Now()
	if c.ContextID == "" {
		c.ContextID = cortex.NewID()
	}
	if c.RootID == "" {
		c.RootID = c.ContextID
	}
	now := cortex.NowMillis()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Version == 0 {
		c.Version = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contexts (context_id, memory_space_id, purpose, user_id, parent_id, root_id, depth, child_ids,
			status, participants, granted_access, version, previous_versions, tenant_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ContextID, c.MemorySpaceID, c.Purpose, nullString(c.UserID), nullString(c.ParentID), c.RootID, c.Depth,
		marshalJSON(c.ChildIDs), string(c.Status), marshalJSON(c.Participants), marshalJSON(c.GrantedAccess),
		c.Version, marshalJSON(c.PreviousVersions), nullString(c.TenantID), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create context failed", "error", err, "duration", time.Since(start))
		return cortex.Context{}, fmt.Errorf("create context: %w", err)
	}

	if c.ParentID != "" {
		if err := s.linkChildContext(ctx, c.ParentID, c.ContextID); err != nil {
			// Parent child-linking is best-effort; a missing parent isn't fatal here.
			s.logger.Debug("sqlite: parent child-link skipped", "parent_id", c.ParentID, "error", err)
		}
	}
	s.logger.Debug("sqlite: create context ok", "context_id", c.ContextID, "duration", time.Since(start))
	return c, nil
}

func (s *Store) GetContext(ctx context.Context, contextID string) (*cortex.Context, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT context_id, memory_space_id, purpose, user_id, parent_id, root_id, depth, child_ids, status,
			participants, granted_access, version, previous_versions, tenant_id, created_at, updated_at
		 FROM contexts WHERE context_id = ?`, contextID)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, &cortex.NotFoundError{Collection: "context", Key: contextID}
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
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
	next.UpdatedAt = cortex.NowMillis()
	next.Version = cur.Version + 1
	next.PreviousVersions = append(cur.PreviousVersions, cortex.VersionSnapshot{
		Version: cur.Version, Data: contextToMap(*cur), Timestamp: cur.UpdatedAt,
	})
	if retention > 0 && len(next.PreviousVersions) > retention {
		next.PreviousVersions = next.PreviousVersions[len(next.PreviousVersions)-retention:]
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE contexts SET purpose = ?, user_id = ?, parent_id = ?, depth = ?, child_ids = ?, status = ?,
			participants = ?, granted_access = ?, version = ?, previous_versions = ?, updated_at = ?
		 WHERE context_id = ?`,
		next.Purpose, nullString(next.UserID), nullString(next.ParentID), next.Depth, marshalJSON(next.ChildIDs),
		string(next.Status), marshalJSON(next.Participants), marshalJSON(next.GrantedAccess), next.Version,
		marshalJSON(next.PreviousVersions), next.UpdatedAt, contextID,
	)
	if err != nil {
		return cortex.Context{}, fmt.Errorf("update context: %w", err)
	}
	return next, nil
}

func contextToMap(c cortex.Context) map[string]any {
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
	_, err = s.db.ExecContext(ctx, `UPDATE contexts SET child_ids = ?, updated_at = ? WHERE context_id = ?`,
		marshalJSON(children), cortex.NowMillis(), parentID)
	if err != nil {
		return fmt.Errorf("link child context: %w", err)
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
	_, err = s.db.ExecContext(ctx, `UPDATE contexts SET participants = ?, updated_at = ? WHERE context_id = ?`,
		marshalJSON(participants), cortex.NowMillis(), contextID)
	if err != nil {
		return fmt.Errorf("add context participant: %w", err)
	}
	return nil
}

func (s *Store) GrantContextAccess(ctx context.Context, contextID string, grant cortex.AccessGrant) error {
	cur, err := s.GetContext(ctx, contextID)
	if err != nil {
		return err
	}
	grants := append(cur.GrantedAccess, grant)
	_, err = s.db.ExecContext(ctx, `UPDATE contexts SET granted_access = ?, updated_at = ? WHERE context_id = ?`,
		marshalJSON(grants), cortex.NowMillis(), contextID)
	if err != nil {
		return fmt.Errorf("grant context access: %w", err)
	}
	return nil
}

func (s *Store) DeleteContext(ctx context.Context, contextID string, cascade bool) error {
	start := time.Now()
	if !cascade {
		_, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE context_id = ?`, contextID)
		if err != nil {
			return fmt.Errorf("delete context: %w", err)
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
	rows, err := s.db.QueryContext(ctx, `SELECT context_id FROM contexts WHERE parent_id = ?`, contextID)
	if err != nil {
		return fmt.Errorf("delete context cascade: %w", err)
	}
	var childIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan cascade child: %w", err)
		}
		childIDs = append(childIDs, id)
	}
	rows.Close()
	for _, id := range childIDs {
		if err := s.DeleteContext(ctx, id, true); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE context_id = ?`, contextID); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	s.logger.Debug("sqlite: delete context cascade ok", "context_id", contextID, "duration", time.Since(start))
	return nil
}

func (s *Store) ListContexts(ctx context.Context, memorySpaceID string) ([]cortex.Context, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT context_id, memory_space_id, purpose, user_id, parent_id, root_id, depth, child_ids, status,
			participants, granted_access, version, previous_versions, tenant_id, created_at, updated_at
		 FROM contexts WHERE memory_space_id = ? ORDER BY created_at DESC`, memorySpaceID)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []cortex.Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContext(row rowScanner) (cortex.Context, error) {
	var c cortex.Context
	var userID, parentID, childIDsJSON, participantsJSON, grantedJSON, prevJSON, tenantID sql.NullString
	var status string
	err := row.Scan(&c.ContextID, &c.MemorySpaceID, &c.Purpose, &userID, &parentID, &c.RootID, &c.Depth,
		&childIDsJSON, &status, &participantsJSON, &grantedJSON, &c.Version, &prevJSON, &tenantID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return cortex.Context{}, err
	}
	c.Status = cortex.ContextStatus(status)
	c.UserID, c.ParentID, c.TenantID = userID.String, parentID.String, tenantID.String
	if childIDsJSON.Valid {
		unmarshalJSON(childIDsJSON.String, &c.ChildIDs)
	}
	if participantsJSON.Valid {
		unmarshalJSON(participantsJSON.String, &c.Participants)
	}
	if grantedJSON.Valid {
		unmarshalJSON(grantedJSON.String, &c.GrantedAccess)
	}
	if prevJSON.Valid {
		unmarshalJSON(prevJSON.String, &c.PreviousVersions)
	}
	return c, nil
}
