package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/cortexmem/cortex"
)

func TestConcurrentWrites_NoBusyError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const n = 20
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.StoreMemory(ctx, cortex.Memory{
				MemorySpaceID: "space-1",
				Content:       "concurrent write",
				ContentType:   cortex.ContentRaw,
				SourceType:    cortex.SourceSystem,
			}, 5, "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write failed: %v", err)
		}
	}

	count, err := s.CountMemory(ctx, cortex.MemoryFilter{MemorySpaceID: "space-1"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != n {
		t.Errorf("count = %d, want %d", count, n)
	}
}

func TestInit_IsIdempotent(t *testing.T) {
	s := New(t.TempDir() + "/cortex.db")
	defer s.Close()
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second init should be a no-op: %v", err)
	}
}
