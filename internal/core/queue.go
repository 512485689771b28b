package core

// queue.go runs batch reconciliation off the ingestion path.
//
// Submissions are buffered in a bounded channel and drained by a fixed set of
// workers. A batch already waiting in the queue is not queued twice, and a
// batch being reconciled by a worker and by a direct call at the same time
// runs once (singleflight). Failed runs are retried with a linear delay; a
// batch that exhausts its attempts is left to the sweep scheduler.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// BatchReconciler reconciles one import batch.
type BatchReconciler interface {
	Reconcile(ctx context.Context, batchID string) (ReconcileResult, error)
}

// QueueConfig sizes a ReconcileQueue. Zero values take defaults.
type QueueConfig struct {
	Workers     int
	Size        int
	MaxAttempts int
	RetryDelay  time.Duration
}

// QueueStats is a snapshot of queue activity.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// ReconcileQueue executes reconciliation tasks on a worker pool.
type ReconcileQueue struct {
	reconciler BatchReconciler
	cfg        QueueConfig
	tasks      chan string
	flight     singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	processed atomic.Int64
	failed    atomic.Int64
}

// NewReconcileQueue creates a queue. Call Run to start the workers.
func NewReconcileQueue(r BatchReconciler, cfg QueueConfig) *ReconcileQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &ReconcileQueue{
		reconciler: r,
		cfg:        cfg,
		tasks:      make(chan string, cfg.Size),
		pending:    make(map[string]struct{}),
	}
}

// Submit enqueues a batch without blocking. A batch already waiting is
// accepted as is. It returns ErrQueueFull when the buffer is full and
// ErrQueueClosed after shutdown.
func (q *ReconcileQueue) Submit(_ context.Context, batchID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.pending[batchID]; ok {
		return nil
	}

	select {
	case q.tasks <- batchID:
		q.pending[batchID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Do reconciles a batch immediately. Concurrent calls for the same batch,
// including a worker's, share one run.
func (q *ReconcileQueue) Do(ctx context.Context, batchID string) (ReconcileResult, error) {
	v, err, _ := q.flight.Do(batchID, func() (any, error) {
		return q.reconcile(ctx, batchID)
	})
	res, _ := v.(ReconcileResult)
	return res, err
}

// Run starts the workers and blocks until ctx is cancelled, returning the
// context's error. Tasks still buffered at that point are dropped; the sweep
// reconciles them later.
func (q *ReconcileQueue) Run(ctx context.Context) error {
	logging.FromContext(ctx).Info("reconcile workers started",
		"workers", q.cfg.Workers,
		"queue_size", q.cfg.Size,
		"max_attempts", q.cfg.MaxAttempts,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			return q.work(gctx)
		})
	}
	err := g.Wait()
	q.Close()

	logging.FromContext(ctx).Info("reconcile workers stopped", "dropped", q.Stats().Pending)
	return err
}

// Close stops accepting submissions.
func (q *ReconcileQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Stats returns a snapshot of queue activity.
func (q *ReconcileQueue) Stats() QueueStats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()
	return QueueStats{
		Pending:   pending,
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *ReconcileQueue) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batchID := <-q.tasks:
			q.mu.Lock()
			delete(q.pending, batchID)
			q.mu.Unlock()
			q.process(ctx, batchID)
		}
	}
}

// process runs one task with retries. A run in progress is not interrupted
// by shutdown; only the wait between attempts is.
func (q *ReconcileQueue) process(ctx context.Context, batchID string) {
	log := logging.WithFields(ctx, "batch_id", batchID)

	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		_, err := q.Do(context.WithoutCancel(ctx), batchID)
		if err == nil {
			q.processed.Add(1)
			return
		}
		log.Warn("reconciliation failed", "attempt", attempt, "error", err)

		if attempt == q.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			q.failed.Add(1)
			return
		case <-time.After(q.cfg.RetryDelay * time.Duration(attempt)):
		}
	}

	q.failed.Add(1)
	log.Error("reconciliation abandoned", "attempts", q.cfg.MaxAttempts)
}

func (q *ReconcileQueue) reconcile(ctx context.Context, batchID string) (res ReconcileResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile batch %s panicked: %v", batchID, r)
		}
	}()
	return q.reconciler.Reconcile(ctx, batchID)
}
