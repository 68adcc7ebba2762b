package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/cortexmem/cortex"
)

func TestCreateContext_RootDefaultsToSelf(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, err := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "plan trip", Status: cortex.ContextActive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ContextID == "" {
		t.Fatal("expected generated context id")
	}
	if created.RootID != created.ContextID {
		t.Errorf("RootID = %q, want self %q", created.RootID, created.ContextID)
	}
	if created.Version != 1 {
		t.Errorf("Version = %d, want 1", created.Version)
	}
}

func TestCreateContext_LinksToParent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	parent, err := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "root", Status: cortex.ContextActive})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "sub-task", ParentID: parent.ContextID, Status: cortex.ContextActive})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	gotParent, err := s.GetContext(ctx, parent.ContextID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if len(gotParent.ChildIDs) != 1 || gotParent.ChildIDs[0] != child.ContextID {
		t.Errorf("ChildIDs = %v, want [%s]", gotParent.ChildIDs, child.ContextID)
	}
}

func TestGetContext_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetContext(context.Background(), "missing")
	var nf *cortex.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *cortex.NotFoundError, got %T: %v", err, err)
	}
}

func TestUpdateContext_BumpsVersionAndKeepsHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, _ := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "initial", Status: cortex.ContextActive})
	updated, err := s.UpdateContext(ctx, created.ContextID, func(cur cortex.Context) (cortex.Context, error) {
		cur.Status = cortex.ContextCompleted
		return cur, nil
	}, 5)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if updated.Status != cortex.ContextCompleted {
		t.Errorf("Status = %q, want completed", updated.Status)
	}
	if len(updated.PreviousVersions) != 1 {
		t.Errorf("PreviousVersions = %+v, want one entry", updated.PreviousVersions)
	}
}

func TestAddContextParticipant_Dedupes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, _ := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "p", Status: cortex.ContextActive})
	if err := s.AddContextParticipant(ctx, created.ContextID, "u1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddContextParticipant(ctx, created.ContextID, "u1"); err != nil {
		t.Fatalf("add again: %v", err)
	}

	got, err := s.GetContext(ctx, created.ContextID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Participants) != 1 {
		t.Errorf("Participants = %v, want exactly one entry", got.Participants)
	}
}

func TestGrantContextAccess(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, _ := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "p", Status: cortex.ContextActive})
	grant := cortex.AccessGrant{MemorySpaceID: "space-2", Scope: "read"}
	if err := s.GrantContextAccess(ctx, created.ContextID, grant); err != nil {
		t.Fatalf("grant: %v", err)
	}

	got, err := s.GetContext(ctx, created.ContextID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.GrantedAccess) != 1 || got.GrantedAccess[0].MemorySpaceID != "space-2" {
		t.Errorf("GrantedAccess = %+v", got.GrantedAccess)
	}
}

func TestDeleteContext_NonCascade(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, _ := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "p", Status: cortex.ContextActive})
	if err := s.DeleteContext(ctx, created.ContextID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetContext(ctx, created.ContextID); err == nil {
		t.Fatal("expected not found after delete")
	}
}

func TestDeleteContext_Cascade(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	parent, _ := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "root", Status: cortex.ContextActive})
	child, _ := s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "sub", ParentID: parent.ContextID, Status: cortex.ContextActive})

	if err := s.DeleteContext(ctx, parent.ContextID, true); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if _, err := s.GetContext(ctx, parent.ContextID); err == nil {
		t.Error("expected parent gone")
	}
	if _, err := s.GetContext(ctx, child.ContextID); err == nil {
		t.Error("expected child gone after cascade delete")
	}
}

func TestListContexts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "a", Status: cortex.ContextActive})
	s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-1", Purpose: "b", Status: cortex.ContextActive})
	s.CreateContext(ctx, cortex.Context{MemorySpaceID: "space-2", Purpose: "c", Status: cortex.ContextActive})

	out, err := s.ListContexts(ctx, "space-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("got %d contexts, want 2", len(out))
	}
}
