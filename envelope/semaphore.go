package envelope

import (
	"context"
	"sync"
	"time"
)

// Semaphore is a fixed-ceiling concurrency gate with strict weighted-priority
// ordering of waiters: Critical waiters are always admitted ahead of High,
// which is ahead of Normal/Low/Background, regardless of arrival order.
// Acquire never holds its internal lock across the blocking wait.
type Semaphore struct {
	mu       sync.Mutex
	ceiling  int
	inUse    int
	waiters  [5][]chan struct{} // indexed by Priority
	maxWait  time.Duration
}

// NewSemaphore creates a Semaphore with the given permit ceiling (default 16
// when ceiling <= 0) and a bound on how long Acquire will wait before
// returning *ConcurrencyTimeoutError (0 = unbounded).
func NewSemaphore(ceiling int, maxWait time.Duration) *Semaphore {
	if ceiling <= 0 {
		ceiling = 16
	}
	return &Semaphore{ceiling: ceiling, maxWait: maxWait}
}

// Acquire blocks until a permit is available for p, admitting Critical
// waiters ahead of every other class regardless of queue position. Critical
// never waits on the ceiling count beyond what is already in use; it still
// counts toward inUse once admitted.
func (s *Semaphore) Acquire(ctx context.Context, p Priority, op string) (release func(), err error) {
	s.mu.Lock()
	if s.inUse < s.ceiling || p == Critical {
		s.inUse++
		s.mu.Unlock()
		return s.releaseFunc(), nil
	}
	ch := make(chan struct{})
	s.waiters[p] = append(s.waiters[p], ch)
	s.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if s.maxWait > 0 {
		timer = time.NewTimer(s.maxWait)
		timeoutCh = timer.C
		defer timer.Stop()
	}

	select {
	case <-ch:
		return s.releaseFunc(), nil
	case <-timeoutCh:
		s.removeWaiter(p, ch)
		return nil, &ConcurrencyTimeoutError{Op: op, Priority: p}
	case <-ctx.Done():
		s.removeWaiter(p, ch)
		return nil, ctx.Err()
	}
}

func (s *Semaphore) removeWaiter(p Priority, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[p]
	for i, w := range list {
		if w == ch {
			s.waiters[p] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *Semaphore) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.inUse--
			s.admitNextLocked()
		})
	}
}

// admitNextLocked hands a permit to the highest-priority waiter, if any.
// Caller must hold s.mu.
func (s *Semaphore) admitNextLocked() {
	for p := Critical; p <= Background; p++ {
		list := s.waiters[p]
		if len(list) == 0 {
			continue
		}
		ch := list[0]
		s.waiters[p] = list[1:]
		s.inUse++
		close(ch)
		return
	}
}
