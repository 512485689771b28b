package core

// limiter.go bounds the number of ingestions running at once.
//
// Each ingestion holds one slot of a weighted semaphore for its whole run.
// When every slot is taken a caller waits up to maxWait before failing with
// ErrTooManyIngestions. WaitForDrain lets shutdown wait for running
// ingestions to finish.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentIngestions is the default limit for parallel ingestions.
const DefaultMaxConcurrentIngestions = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// drainPollInterval is how often WaitForDrain re-checks the active count.
const drainPollInterval = 50 * time.Millisecond

// IngestLimiter controls concurrent ingestion.
type IngestLimiter struct {
	sem     *semaphore.Weighted
	max     int64
	maxWait time.Duration
	active  atomic.Int64
}

// NewIngestLimiter allows at most maxConcurrent simultaneous ingestions.
func NewIngestLimiter(maxConcurrent int, maxWait time.Duration) *IngestLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentIngestions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &IngestLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     int64(maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. It returns ErrTooManyIngestions when maxWait
// elapses and ctx.Err() when ctx ends first. The caller must Release.
func (l *IngestLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTooManyIngestions
		}
		return err
	}
	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking.
func (l *IngestLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *IngestLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// ActiveCount returns the number of running ingestions.
func (l *IngestLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// Available returns the number of free slots.
func (l *IngestLimiter) Available() int {
	return int(l.max - l.active.Load())
}

// WaitForDrain blocks until no ingestion is running or ctx ends.
func (l *IngestLimiter) WaitForDrain(ctx context.Context) error {
	if l.ActiveCount() == 0 {
		return nil
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// IngestLimiterStatus is a snapshot of the limiter.
type IngestLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for health reporting.
func (l *IngestLimiter) Status() IngestLimiterStatus {
	active := int(l.active.Load())
	return IngestLimiterStatus{
		Active:        active,
		Available:     int(l.max) - active,
		MaxConcurrent: int(l.max),
	}
}
