package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// DefaultBatchSize is the number of valid rows buffered per bulk insert.
const DefaultBatchSize = 500

// ContextCheckInterval is how often (in rows) ingestion checks for cancellation.
var ContextCheckInterval = 100

// ReconcileFunc schedules or runs reconciliation of one batch.
type ReconcileFunc func(ctx context.Context, batchID string) error

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	BatchSize int
	Policy    DuplicateDetectionPolicy

	// Reconcile is called once per ingestion that committed rows.
	Reconcile ReconcileFunc

	// WaitForReconcile marks Reconcile as synchronous: its error fails the
	// ingestion and the summary carries the stored duplicate count.
	WaitForReconcile bool
}

// Pipeline streams a CSV source into the store.
//
// Invalid rows are written one at a time as they are found; valid rows are
// staged by the duplicate policy and buffered into bulk inserts. Memory use is
// O(BatchSize) regardless of file size.
type Pipeline struct {
	store     IngestStore
	validator *Validator
	cfg       PipelineConfig
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store IngestStore, validator *Validator, cfg PipelineConfig) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Policy == nil {
		cfg.Policy = NewInlinePolicy(store)
	}
	if validator == nil {
		validator = NewValidator()
	}
	return &Pipeline{store: store, validator: validator, cfg: cfg}
}

// Ingest reads source and persists every row under a fresh batch id.
//
// A header without the required columns, or an empty source, yields a
// *FormatError before anything is written. Any later failure still submits
// the batch for reconciliation when rows were committed, so nothing is left
// with a stale provisional status.
func (p *Pipeline) Ingest(ctx context.Context, source io.Reader) (IngestSummary, error) {
	run := &ingestRun{
		p:       p,
		batchID: uuid.NewString(),
		start:   time.Now(),
	}
	run.summary.BatchID = run.batchID
	run.log = logging.WithFields(ctx, "batch_id", run.batchID, "policy", p.cfg.Policy.Name())

	src, counter := WrapForStreaming(source)
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return run.summary, &FormatError{Reason: "empty file"}
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return run.summary, &FormatError{Reason: parseErr.Error()}
		}
		return run.summary, fmt.Errorf("read header: %w", err)
	}
	idx, err := ResolveHeader(header)
	if err != nil {
		return run.summary, err
	}

	run.buffer = make([]NewRecord, 0, p.cfg.BatchSize)
	run.log.Debug("ingestion started")

	for rowNum := 2; ; rowNum++ {
		if (rowNum-2)%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return run.fail(ctx, err)
			}
		}

		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return run.fail(ctx, fmt.Errorf("read row %d: %w", rowNum, err))
		}

		if err := run.row(ctx, idx.Row(cells), rowNum); err != nil {
			return run.fail(ctx, err)
		}
	}

	if err := run.flush(ctx); err != nil {
		return run.fail(ctx, err)
	}
	if err := run.finish(ctx); err != nil {
		return run.summary, err
	}

	run.log.Info("ingestion completed",
		"total", run.summary.Total,
		"imported", run.summary.Imported,
		"errors", run.summary.Errors,
		"bytes", counter.BytesRead(),
		"duration_ms", time.Since(run.start).Milliseconds(),
	)
	return run.summary, nil
}

// ingestRun is the state of a single Ingest call.
type ingestRun struct {
	p          *Pipeline
	batchID    string
	start      time.Time
	log        *slog.Logger
	summary    IngestSummary
	buffer     []NewRecord
	duplicates int
	committed  bool
}

func (r *ingestRun) row(ctx context.Context, raw RawRow, rowNum int) error {
	result := r.p.validator.Validate(raw, rowNum)
	if !result.Valid() {
		rec := invalidRecord(raw, result, &r.batchID)
		if _, err := r.p.store.Create(ctx, rec); err != nil {
			return WrapStoreError("create", err)
		}
		r.committed = true
		r.summary.Errors++
		return nil
	}

	rec := NewRecord{
		CompanyName: deref(raw.CompanyName),
		Email:       optional(deref(raw.Email)),
		PhoneNumber: optional(deref(raw.PhoneNumber)),
		ImportBatch: &r.batchID,
	}
	dup, err := r.p.cfg.Policy.Stage(ctx, &rec)
	if err != nil {
		return err
	}
	if dup {
		r.duplicates++
	}

	r.buffer = append(r.buffer, rec)
	r.summary.Imported++
	if len(r.buffer) >= r.p.cfg.BatchSize {
		return r.flush(ctx)
	}
	return nil
}

func (r *ingestRun) flush(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}
	if err := r.p.store.BulkInsert(ctx, r.buffer); err != nil {
		return WrapStoreError("bulk insert", err)
	}
	r.log.Debug("batch flushed", "rows", len(r.buffer))
	r.committed = true
	r.buffer = r.buffer[:0]
	return nil
}

// finish triggers reconciliation and fills in the summary counts.
func (r *ingestRun) finish(ctx context.Context) error {
	r.summary.Total = r.summary.Imported + r.summary.Errors

	if r.committed && r.p.cfg.Reconcile != nil {
		err := r.p.cfg.Reconcile(ctx, r.batchID)
		if err != nil {
			if r.p.cfg.WaitForReconcile {
				return fmt.Errorf("reconcile batch %s: %w", r.batchID, err)
			}
			r.log.Warn("reconciliation not scheduled", "error", err)
		}
	}

	switch {
	case r.p.cfg.WaitForReconcile:
		dups := 0
		if r.committed {
			stats, err := r.p.store.BatchStats(ctx, r.batchID)
			if err != nil {
				return WrapStoreError("batch stats", err)
			}
			dups = stats.Duplicates
		}
		r.summary.Duplicates = &dups
	case r.p.cfg.Policy.Detects():
		dups := r.duplicates
		r.summary.Duplicates = &dups
	}
	return nil
}

// fail submits whatever was committed for reconciliation and returns err.
func (r *ingestRun) fail(ctx context.Context, err error) (IngestSummary, error) {
	r.summary.Total = r.summary.Imported + r.summary.Errors
	r.log.Error("ingestion failed",
		"error", err,
		"rows", r.summary.Total,
		"committed", r.committed,
		"duration_ms", time.Since(r.start).Milliseconds(),
	)

	if r.committed && r.p.cfg.Reconcile != nil {
		if rerr := r.p.cfg.Reconcile(context.WithoutCancel(ctx), r.batchID); rerr != nil {
			r.log.Warn("reconciliation after failure not scheduled", "error", rerr)
		}
	}
	return r.summary, err
}

// invalidRecord keeps whatever the row carried, cut to the column limits.
func invalidRecord(raw RawRow, result ValidationResult, batchID *string) NewRecord {
	name := InvalidCompanyName
	if raw.CompanyName != nil {
		name = truncateRunes(*raw.CompanyName, MaxCompanyNameLen)
	}
	return NewRecord{
		CompanyName:  name,
		Email:        optional(truncateRunes(deref(raw.Email), MaxEmailLen)),
		PhoneNumber:  optional(truncateRunes(deref(raw.PhoneNumber), MaxPhoneLen)),
		ImportErrors: &ImportErrors{Row: result.Row, Messages: result.Messages},
		ImportBatch:  batchID,
	}
}
