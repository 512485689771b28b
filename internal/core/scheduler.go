package core

// scheduler.go runs the whole-store reconciliation sweep.
//
// Batch reconciliation can be lost: the queue may be full, a worker may
// exhaust its retries, or the process may stop with tasks still buffered.
// The sweep resolves every key in the store so such batches converge. It runs
// once at startup, then every interval, and stops with its context.

import (
	"context"
	"log/slog"
	"time"
)

// SweepConfig holds configuration for the sweep scheduler.
type SweepConfig struct {
	Interval time.Duration // how often to run (default: 6h)
}

// StartSweepScheduler blocks running sweeps until ctx is cancelled.
// Call it in its own goroutine.
func (s *Service) StartSweepScheduler(ctx context.Context, cfg SweepConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	slog.Info("sweep scheduler started", "interval", cfg.Interval.String())

	s.runSweep(ctx)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep performs one pass. Failures are logged; the next tick retries.
func (s *Service) runSweep(ctx context.Context) {
	slog.Debug("sweep started")

	result, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("sweep failed", "error", err, "keys_resolved", result.Keys)
		return
	}

	slog.Info("sweep completed",
		"keys", result.Keys,
		"changed", result.Changed,
		"duration_ms", result.Duration.Milliseconds(),
	)
}
