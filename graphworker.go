package cortex

import (
	"context"
	"math/rand"
	"time"
)

// GraphSyncWorker drains the graphSyncQueue in priority order, applying each
// entry to a GraphAdapter (C7). It runs at background priority and never
// blocks high/normal operations performed through Client.
type GraphSyncWorker struct {
	store   GraphQueueStoreAPI
	adapter GraphAdapter
	tracer  Tracer

	batchSize   int
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	pollEvery   time.Duration
}

// GraphSyncWorkerOption configures a GraphSyncWorker.
type GraphSyncWorkerOption func(*GraphSyncWorker)

// WithBatchSize sets how many queue items are dequeued per drain pass (default 20).
func WithBatchSize(n int) GraphSyncWorkerOption {
	return func(w *GraphSyncWorker) { w.batchSize = n }
}

// WithBackoff sets the base and cap of the exponential-with-full-jitter
// retry delay (defaults: 1s base, 5m cap).
func WithBackoff(base, maxDelay time.Duration) GraphSyncWorkerOption {
	return func(w *GraphSyncWorker) { w.baseDelay = base; w.maxDelay = maxDelay }
}

// WithMaxAttempts sets the failed-attempt count after which an item is moved
// to the dead-letter state (default 10).
func WithMaxAttempts(n int) GraphSyncWorkerOption {
	return func(w *GraphSyncWorker) { w.maxAttempts = n }
}

// WithPollInterval sets how often Run checks for due work (default 2s).
func WithPollInterval(d time.Duration) GraphSyncWorkerOption {
	return func(w *GraphSyncWorker) { w.pollEvery = d }
}

// WithWorkerTracer sets the Tracer for a GraphSyncWorker.
func WithWorkerTracer(t Tracer) GraphSyncWorkerOption {
	return func(w *GraphSyncWorker) { w.tracer = t }
}

// NewGraphSyncWorker builds a GraphSyncWorker. adapter must be non-nil.
func NewGraphSyncWorker(store GraphQueueStoreAPI, adapter GraphAdapter, opts ...GraphSyncWorkerOption) *GraphSyncWorker {
	w := &GraphSyncWorker{
		store:       store,
		adapter:     adapter,
		tracer:      NoopTracer{},
		batchSize:   20,
		baseDelay:   time.Second,
		maxDelay:    5 * time.Minute,
		maxAttempts: 10,
		pollEvery:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the queue until ctx is cancelled, sleeping pollEvery between
// passes that find no due work.
func (w *GraphSyncWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	for {
		n, err := w.DrainOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// DrainOnce processes one batch of due graphSyncQueue items and returns how
// many it handled.
func (w *GraphSyncWorker) DrainOnce(ctx context.Context) (int, error) {
	items, err := w.store.DequeueGraphSyncBatch(ctx, NowMillis(), w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		w.apply(ctx, item)
	}
	return len(items), nil
}

func (w *GraphSyncWorker) apply(ctx context.Context, item GraphSyncItem) {
	_, span := w.tracer.Start(ctx, "cortex.graphSync",
		StringAttr("table", item.Table), StringAttr("op", string(item.Operation)))
	defer span.End()

	var err error
	switch item.Operation {
	case GraphOpInsert:
		_, err = w.adapter.UpsertNode(ctx, item.Table, item.Entity)
	case GraphOpUpdate:
		err = w.adapter.UpdateNode(ctx, item.EntityID, item.Entity)
	case GraphOpDelete:
		err = w.adapter.DeleteNode(ctx, item.EntityID, false)
	}

	if err == nil {
		span.Event("synced")
		_ = w.store.MarkGraphSyncSynced(ctx, item.ID)
		return
	}

	span.Error(err)
	attempts := item.FailedAttempts + 1
	if attempts >= w.maxAttempts {
		_ = w.store.MarkGraphSyncDeadLetter(ctx, item.ID)
		return
	}
	next := NowMillis() + fullJitterBackoff(w.baseDelay, w.maxDelay, attempts).Milliseconds()
	_ = w.store.MarkGraphSyncFailed(ctx, item.ID, err.Error(), next)
}

// fullJitterBackoff returns a random duration in [0, min(maxDelay, base*2^attempt)],
// the "full jitter" strategy, chosen to avoid synchronized retries across many items.
func fullJitterBackoff(base, maxDelay time.Duration, attempt int) time.Duration {
	exp := base * time.Duration(1<<uint(attempt))
	if exp > maxDelay || exp <= 0 {
		exp = maxDelay
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}
