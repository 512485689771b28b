package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/JonMunkholm/companyimport/internal/config"
	"github.com/JonMunkholm/companyimport/internal/logging"
)

// Reconcile modes accepted in IngestConfig.ReconcileMode.
const (
	ReconcileAsync = "async"
	ReconcileSync  = "sync"
)

// Service is the entry point used by the HTTP API and the CLI.
type Service struct {
	store      RecordStore
	pipeline   *Pipeline
	reconciler *Reconciler
	queue      *ReconcileQueue
	exporter   *Exporter
	limiter    *IngestLimiter

	ingestTimeout time.Duration
	maxFileSize   int64
	syncReconcile bool
}

// NewService wires the pipeline, reconciler, queue and exporter over store.
func NewService(store RecordStore, cfg *config.Config) (*Service, error) {
	policy, err := PolicyByName(cfg.Ingest.DuplicatePolicy, store)
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:         store,
		reconciler:    NewReconciler(store, cfg.Reconcile.SweepPageSize),
		exporter:      NewExporter(store, cfg.Export.ChunkSize),
		limiter:       NewIngestLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime),
		ingestTimeout: cfg.Ingest.Timeout,
		maxFileSize:   cfg.Ingest.MaxFileSize,
		syncReconcile: cfg.Ingest.ReconcileMode == ReconcileSync,
	}
	s.queue = NewReconcileQueue(s.reconciler, QueueConfig{
		Workers:     cfg.Reconcile.Workers,
		Size:        cfg.Reconcile.QueueSize,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		RetryDelay:  cfg.Reconcile.RetryDelay,
	})

	reconcile := s.queue.Submit
	if s.syncReconcile {
		reconcile = func(ctx context.Context, batchID string) error {
			_, err := s.queue.Do(ctx, batchID)
			return err
		}
	}
	s.pipeline = NewPipeline(store, NewValidator(), PipelineConfig{
		BatchSize:        cfg.Ingest.BatchSize,
		Policy:           policy,
		Reconcile:        reconcile,
		WaitForReconcile: s.syncReconcile,
	})

	return s, nil
}

// Import ingests a CSV source. It waits for an ingestion slot and bounds
// the run by the configured timeout and size limit.
func (s *Service) Import(ctx context.Context, source io.Reader) (IngestSummary, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return IngestSummary{}, err
	}
	defer s.limiter.Release()

	if s.ingestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ingestTimeout)
		defer cancel()
	}

	if s.maxFileSize > 0 {
		source = &sizeLimitReader{r: source, remaining: s.maxFileSize}
	}
	return s.pipeline.Ingest(ctx, source)
}

// ImportFile ingests the CSV file at path.
func (s *Service) ImportFile(ctx context.Context, path string) (IngestSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		return IngestSummary{}, fmt.Errorf("%s is %d bytes: %w", path, info.Size(), ErrFileTooLarge)
	}

	logging.FromContext(ctx).Debug("importing file", "path", path)
	return s.Import(ctx, f)
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id int64) (CompanyRecord, error) {
	return s.store.Get(ctx, id)
}

// List returns records matching filter, newest first.
func (s *Service) List(ctx context.Context, filter DuplicateFilter) ([]CompanyRecord, error) {
	return s.store.List(ctx, filter)
}

// DuplicateGroups returns every original with its duplicates.
func (s *Service) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	return s.store.DuplicateGroups(ctx)
}

// ByBatch returns the records of one import batch.
func (s *Service) ByBatch(ctx context.Context, batchID string) ([]CompanyRecord, error) {
	return s.store.ByBatch(ctx, batchID)
}

// BatchStats counts the records of one import batch.
func (s *Service) BatchStats(ctx context.Context, batchID string) (BatchStats, error) {
	return s.store.BatchStats(ctx, batchID)
}

// MarkDuplicate manually links id to originalID. The link is kept by later
// reconciliation passes. It reports false when id does not exist.
func (s *Service) MarkDuplicate(ctx context.Context, id, originalID int64) (bool, error) {
	if id == originalID {
		return false, ErrSelfReference
	}
	if _, err := s.store.Get(ctx, originalID); err != nil {
		return false, err
	}

	ok, err := s.store.MarkDuplicate(ctx, id, originalID)
	if err != nil {
		return false, err
	}
	if ok {
		logging.FromContext(ctx).Info("record marked duplicate", "id", id, "duplicate_of", originalID)
	}
	return ok, nil
}

// Reconcile reconciles one batch now.
func (s *Service) Reconcile(ctx context.Context, batchID string) (ReconcileResult, error) {
	return s.queue.Do(ctx, batchID)
}

// ReconcileAll resolves every key in the store.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileResult, error) {
	return s.reconciler.ReconcileAll(ctx)
}

// Export writes the records matching filter to w as CSV.
func (s *Service) Export(ctx context.Context, filter DuplicateFilter, w io.Writer, extended bool) (int, error) {
	return s.exporter.Export(ctx, filter, w, extended)
}

// RunReconcileWorkers drains the reconcile queue until ctx is cancelled.
func (s *Service) RunReconcileWorkers(ctx context.Context) error {
	return s.queue.Run(ctx)
}

// WaitForIngestions blocks until running ingestions finish or ctx ends.
func (s *Service) WaitForIngestions(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// IngestStatus snapshots the ingestion limiter.
func (s *Service) IngestStatus() IngestLimiterStatus {
	return s.limiter.Status()
}

// HealthStatus reports the service's moving parts.
type HealthStatus struct {
	Store   string              `json:"store"`
	Ingest  IngestLimiterStatus `json:"ingest"`
	Queue   QueueStats          `json:"reconcile_queue"`
	Healthy bool                `json:"healthy"`
}

// Health pings the store and snapshots the limiter and queue.
func (s *Service) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Store:   "ok",
		Ingest:  s.limiter.Status(),
		Queue:   s.queue.Stats(),
		Healthy: true,
	}
	if err := s.store.Ping(ctx); err != nil {
		status.Store = err.Error()
		status.Healthy = false
	}
	return status
}

// sizeLimitReader fails with ErrFileTooLarge once more than remaining bytes
// have been read.
type sizeLimitReader struct {
	r         io.Reader
	remaining int64
}

func (l *sizeLimitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}
