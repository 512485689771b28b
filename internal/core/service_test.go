package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/companyimport/internal/config"
)

func testConfig(mode, policy string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", SQLitePath: ":memory:"},
		Ingest: config.IngestConfig{
			BatchSize:       500,
			DuplicatePolicy: policy,
			ReconcileMode:   mode,
			MaxFileSize:     1 << 20,
			MaxConcurrent:   2,
			MaxWaitTime:     time.Second,
			Timeout:         time.Minute,
		},
		Reconcile: config.ReconcileConfig{
			Workers:       1,
			QueueSize:     8,
			MaxAttempts:   2,
			RetryDelay:    time.Millisecond,
			SweepInterval: time.Hour,
			SweepPageSize: 100,
		},
		Export: config.ExportConfig{ChunkSize: 100},
	}
}

func newTestService(t *testing.T, mode, policy string) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	svc, err := NewService(store, testConfig(mode, policy))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, store
}

func TestNewService_UnknownPolicy(t *testing.T) {
	if _, err := NewService(newMemStore(), testConfig(ReconcileSync, "fuzzy")); err == nil {
		t.Error("NewService() expected error for unknown policy")
	}
}

func TestService_ImportSync(t *testing.T) {
	svc, store := newTestService(t, ReconcileSync, PolicyDeferred)

	summary, err := svc.Import(context.Background(), csvSource(
		testHeader,
		"Acme Corp,contact@acme.com,1234567890",
		"Acme Corp,contact@acme.com,1234567890",
		"Acme Corp,contact@acme.com,1234567890",
	))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if summary.Duplicates == nil || *summary.Duplicates != 2 {
		t.Errorf("Duplicates = %v, want 2", summary.Duplicates)
	}
	assertStoreInvariants(t, store.all())

	stats, err := svc.BatchStats(context.Background(), summary.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Duplicates != 2 {
		t.Errorf("BatchStats = %+v", stats)
	}
}

func TestService_ImportAsyncReconcilesInBackground(t *testing.T) {
	svc, store := newTestService(t, ReconcileAsync, PolicyDeferred)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunReconcileWorkers(ctx)

	summary, err := svc.Import(ctx, csvSource(testHeader, "Acme,,", "acme,,"))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if summary.Duplicates != nil {
		t.Errorf("Duplicates = %d, want nil under deferred async", *summary.Duplicates)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		recs := store.all()
		if len(recs) == 2 && recs[1].IsDuplicate {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("batch was not reconciled in the background")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestService_ImportTooLarge(t *testing.T) {
	svc, _ := newTestService(t, ReconcileSync, PolicyInline)
	svc.maxFileSize = 40

	_, err := svc.Import(context.Background(), csvSource(
		testHeader,
		"Acme Corp,contact@acme.com,1234567890",
	))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Import() error = %v, want ErrFileTooLarge", err)
	}
}

func TestService_ImportFile(t *testing.T) {
	svc, _ := newTestService(t, ReconcileSync, PolicyInline)

	path := filepath.Join(t.TempDir(), "companies.csv")
	content := testHeader + "\nAcme,,\nGlobex,,\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	summary, err := svc.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if summary.Imported != 2 {
		t.Errorf("Imported = %d, want 2", summary.Imported)
	}

	if _, err := svc.ImportFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("ImportFile() expected error for a missing file")
	}
}

func TestService_MarkDuplicate(t *testing.T) {
	svc, store := newTestService(t, ReconcileSync, PolicyInline)
	ctx := context.Background()
	seed(t, store, "b1", "Acme", "Globex")

	tests := []struct {
		name       string
		id, orig   int64
		wantOK     bool
		wantErr    error
		wantLinked bool
	}{
		{"self reference", 1, 1, false, ErrSelfReference, false},
		{"missing original", 1, 99, false, ErrRecordNotFound, false},
		{"missing record", 99, 1, false, nil, false},
		{"valid", 2, 1, true, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := svc.MarkDuplicate(ctx, tt.id, tt.orig)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("MarkDuplicate() error = %v, want %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("MarkDuplicate() = %v, want %v", ok, tt.wantOK)
			}
		})
	}

	rec, err := svc.Get(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsDuplicate || *rec.DuplicateOf != 1 || !rec.ManualOverride {
		t.Errorf("record 2 = %+v, want manual duplicate of 1", rec)
	}
}

func TestService_QueriesAndExport(t *testing.T) {
	svc, _ := newTestService(t, ReconcileSync, PolicyInline)
	ctx := context.Background()

	summary, err := svc.Import(ctx, csvSource(testHeader, "Acme,,", "Globex,,", "Acme,,"))
	if err != nil {
		t.Fatal(err)
	}

	dups, err := svc.List(ctx, FilterDuplicates)
	if err != nil || len(dups) != 1 {
		t.Fatalf("List(duplicates) = %d records, %v", len(dups), err)
	}
	all, _ := svc.List(ctx, FilterAll)
	if len(all) != 3 || all[0].ID != 3 {
		t.Errorf("List(all) should be newest first, got %d records", len(all))
	}

	groups, err := svc.DuplicateGroups(ctx)
	if err != nil || len(groups) != 1 {
		t.Fatalf("DuplicateGroups() = %v, %v", groups, err)
	}
	if groups[0].OriginalID != 1 || groups[0].Original == nil || len(groups[0].Duplicates) != 1 {
		t.Errorf("group = %+v", groups[0])
	}

	batch, _ := svc.ByBatch(ctx, summary.BatchID)
	if len(batch) != 3 {
		t.Errorf("ByBatch() = %d records, want 3", len(batch))
	}

	var out strings.Builder
	n, err := svc.Export(ctx, FilterUnique, &out, false)
	if err != nil || n != 2 {
		t.Errorf("Export() = %d, %v", n, err)
	}

	result, err := svc.ReconcileAll(ctx)
	if err != nil || result.Changed != 0 {
		t.Errorf("ReconcileAll() = %+v, %v; want nothing to change", result, err)
	}

	health := svc.Health(ctx)
	if !health.Healthy || health.Ingest.Active != 0 {
		t.Errorf("Health() = %+v", health)
	}
}
