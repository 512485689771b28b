package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/companyimport/internal/config"
	"github.com/JonMunkholm/companyimport/internal/core"
)

func init() {
	color.NoColor = true
}

func testLoader(t *testing.T) LoadFunc {
	path := filepath.Join(t.TempDir(), "companies.db")
	return func() (*config.Config, error) {
		return &config.Config{
			Store: config.StoreConfig{Driver: "sqlite", SQLitePath: path},
			Ingest: config.IngestConfig{
				BatchSize:       2,
				DuplicatePolicy: core.PolicyInline,
				ReconcileMode:   core.ReconcileAsync,
				MaxFileSize:     1 << 20,
				MaxConcurrent:   1,
				MaxWaitTime:     time.Second,
				Timeout:         time.Minute,
			},
			Reconcile: config.ReconcileConfig{Workers: 1, QueueSize: 4, MaxAttempts: 1, SweepPageSize: 100},
			Export:    config.ExportConfig{ChunkSize: 2},
			Logging:   config.LoggingConfig{Level: "error", Format: "text"},
		}, nil
	}
}

func run(t *testing.T, load LoadFunc, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand(load)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companies.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestImportGroupsExport(t *testing.T) {
	load := testLoader(t)
	csvPath := writeCSV(t,
		"company_name,email,phone_number",
		"Acme Corp,contact@acme.com,1234567890",
		"ACME corp,Contact@Acme.com,1234567890",
		",bad-email,",
		"Globex,info@globex.com,",
	)

	out, err := run(t, load, "import", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Import completed")
	assert.Contains(t, out, "Total:      4")
	assert.Contains(t, out, "Imported:   3")
	assert.Contains(t, out, "Duplicates: 1")
	assert.Contains(t, out, "Errors:     1")

	out, err = run(t, load, "groups")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 Acme Corp  1 duplicates")
	assert.Contains(t, out, "#2 ACME corp <Contact@Acme.com> 1234567890")
	assert.Contains(t, out, "1 groups")

	out, err = run(t, load, "export", "--filter", "duplicates", "--extended")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "company_name,email,phone_number,is_duplicate,duplicate_of", lines[0])
	assert.Equal(t, "ACME corp,Contact@Acme.com,1234567890,true,1", lines[1])
}

func TestExportToFile(t *testing.T) {
	load := testLoader(t)
	_, err := run(t, load, "import", writeCSV(t, "company_name,email,phone_number", "Acme,,"))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.csv")
	out, err := run(t, load, "export", "-o", dest)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "company_name,email,phone_number\nAcme,,\n", string(data))
}

func TestMarkDuplicateThenReconcile(t *testing.T) {
	load := testLoader(t)
	_, err := run(t, load, "import", writeCSV(t,
		"company_name,email,phone_number",
		"Acme,,",
		"Acme,,",
		"Globex,,",
	))
	require.NoError(t, err)

	out, err := run(t, load, "mark-duplicate", "3", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "#3 is a duplicate of #1")

	out, err = run(t, load, "reconcile", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "changed=0")

	out, err = run(t, load, "groups")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 Acme  2 duplicates")
}

func TestMarkDuplicateErrors(t *testing.T) {
	load := testLoader(t)
	_, err := run(t, load, "import", writeCSV(t, "company_name,email,phone_number", "Acme,,"))
	require.NoError(t, err)

	_, err = run(t, load, "mark-duplicate", "1", "1")
	assert.ErrorIs(t, err, core.ErrSelfReference)

	_, err = run(t, load, "mark-duplicate", "x", "1")
	assert.ErrorContains(t, err, "invalid id")

	_, err = run(t, load, "mark-duplicate", "1", "99")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestReconcileArgs(t *testing.T) {
	load := testLoader(t)

	_, err := run(t, load, "reconcile")
	assert.ErrorContains(t, err, "either a batch id or --all")

	_, err = run(t, load, "reconcile", "b1", "--all")
	assert.ErrorContains(t, err, "either a batch id or --all")

	out, err := run(t, load, "reconcile", "unknown-batch")
	require.NoError(t, err)
	assert.Contains(t, out, "keys=0")
}

func TestBatchAndMigrate(t *testing.T) {
	load := testLoader(t)

	out, err := run(t, load, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date")

	out, err = run(t, load, "import", writeCSV(t, "company_name,email,phone_number", "Acme,,", "Acme,,", ",x,"))
	require.NoError(t, err)
	assert.Contains(t, out, "Errors:     1")

	out, err = run(t, load, "import", writeCSV(t, "company_name,email,phone_number", "Globex,,"))
	require.NoError(t, err)
	first := strings.SplitN(out, "\n", 2)[0]
	batchID := first[strings.LastIndex(first, " ")+1:]

	out, err = run(t, load, "batch", batchID)
	require.NoError(t, err)
	assert.Contains(t, out, "#4 Globex  original")
	assert.Contains(t, out, "total=1 duplicates=0 errors=0")
}
