package envelope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSemaphore_AllowsUpToCeiling(t *testing.T) {
	s := NewSemaphore(2, 0)
	_, err := s.Acquire(context.Background(), Normal, "test:op")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	_, err = s.Acquire(context.Background(), Normal, "test:op")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
}

func TestSemaphore_BlocksBeyondCeilingUntilRelease(t *testing.T) {
	s := NewSemaphore(1, 0)
	release, err := s.Acquire(context.Background(), Normal, "test:op")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		rel, err := s.Acquire(context.Background(), Normal, "test:op")
		if err != nil {
			t.Errorf("second acquire: %v", err)
			return
		}
		close(acquired)
		rel()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not have completed before release")
	case <-time.After(20 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestSemaphore_CriticalBypassesCeiling(t *testing.T) {
	s := NewSemaphore(1, 0)
	_, err := s.Acquire(context.Background(), Normal, "test:op")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	release, err := s.Acquire(context.Background(), Critical, "governance:purge")
	if err != nil {
		t.Fatalf("critical acquire should bypass ceiling: %v", err)
	}
	release()
}

func TestSemaphore_HigherPriorityAdmittedFirst(t *testing.T) {
	s := NewSemaphore(1, 0)
	release, err := s.Acquire(context.Background(), Normal, "test:op")
	if err != nil {
		t.Fatalf("initial acquire: %v", err)
	}

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		rel, err := s.Acquire(context.Background(), Low, "low:op")
		if err != nil {
			return
		}
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		rel()
	}()
	time.Sleep(10 * time.Millisecond) // ensure low enqueues first

	wg.Add(1)
	go func() {
		defer wg.Done()
		rel, err := s.Acquire(context.Background(), High, "high:op")
		if err != nil {
			return
		}
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		rel()
	}()
	time.Sleep(10 * time.Millisecond) // ensure high enqueues second

	release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" {
		t.Fatalf("got order %v, want high admitted before low", order)
	}
}

func TestSemaphore_TimesOutWhenBounded(t *testing.T) {
	s := NewSemaphore(1, 10*time.Millisecond)
	_, err := s.Acquire(context.Background(), Normal, "test:op")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	_, err = s.Acquire(context.Background(), Normal, "test:op")
	var ct *ConcurrencyTimeoutError
	if !errors.As(err, &ct) {
		t.Fatalf("expected *ConcurrencyTimeoutError, got %T: %v", err, err)
	}
}

func TestSemaphore_ContextCanceled(t *testing.T) {
	s := NewSemaphore(1, 0)
	_, err := s.Acquire(context.Background(), Normal, "test:op")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, Normal, "test:op")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestNewSemaphore_DefaultsCeiling(t *testing.T) {
	s := NewSemaphore(0, 0)
	if s.ceiling != 16 {
		t.Errorf("ceiling = %d, want 16", s.ceiling)
	}
}
