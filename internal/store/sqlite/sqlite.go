// Package sqlite implements core.RecordStore on an embedded SQLite file.
//
// The database is opened with a single connection and IMMEDIATE
// transactions, so writers are serialized by SQLite itself. That is what
// makes ResolveKey atomic with respect to other resolutions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/JonMunkholm/companyimport/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS companies (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	company_name    TEXT NOT NULL CHECK (length(company_name) <= 100),
	email           TEXT CHECK (email IS NULL OR length(email) <= 100),
	phone_number    TEXT CHECK (phone_number IS NULL OR length(phone_number) <= 15),
	import_errors   TEXT,
	is_duplicate    INTEGER NOT NULL DEFAULT 0,
	duplicate_of    INTEGER,
	import_batch    TEXT,
	dedupe_key      TEXT,
	manual_override INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	CHECK (duplicate_of IS NULL OR duplicate_of <> id),
	CHECK (is_duplicate = (duplicate_of IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS companies_dedupe_key_idx ON companies (dedupe_key, id) WHERE dedupe_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS companies_import_batch_idx ON companies (import_batch);
CREATE INDEX IF NOT EXISTS companies_duplicate_of_idx ON companies (duplicate_of) WHERE duplicate_of IS NOT NULL;
CREATE INDEX IF NOT EXISTS companies_created_at_idx ON companies (created_at DESC, id DESC);
`

const columns = `id, company_name, email, phone_number, import_errors, is_duplicate,
	duplicate_of, import_batch, manual_override, created_at, updated_at`

const insertSQL = `
	INSERT INTO companies (company_name, email, phone_number, import_errors,
		is_duplicate, duplicate_of, import_batch, dedupe_key, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store is a SQLite-backed record store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ core.RecordStore = (*Store)(nil)

// Open opens (creating if needed) the database file at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return core.WrapStoreError("migrate", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec core.NewRecord) (core.CompanyRecord, error) {
	args, err := s.insertArgs(rec, s.now())
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("create", err)
	}
	res, err := s.db.ExecContext(ctx, insertSQL, args...)
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("create", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("create", err)
	}
	return s.Get(ctx, id)
}

// BulkInsert inserts recs in one transaction through a prepared statement.
func (s *Store) BulkInsert(ctx context.Context, recs []core.NewRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		at := s.now()
		for i := range recs {
			args, err := s.insertArgs(recs[i], at)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.WrapStoreError("bulk insert", err)
	}
	return nil
}

func (s *Store) FindByKey(ctx context.Context, key string, excludeDuplicates bool) (*core.CompanyRecord, error) {
	recs, err := s.query(ctx, "find by key", `
		SELECT `+columns+` FROM companies
		WHERE dedupe_key = ? AND (? = 0 OR is_duplicate = 0)
		ORDER BY id
		LIMIT 1`, key, excludeDuplicates)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *Store) Get(ctx context.Context, id int64) (core.CompanyRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM companies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.CompanyRecord{}, core.ErrRecordNotFound
	}
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("get", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, filter core.DuplicateFilter) ([]core.CompanyRecord, error) {
	return s.query(ctx, "list", `
		SELECT `+columns+` FROM companies
		WHERE `+filterSQL(filter)+`
		ORDER BY created_at DESC, id DESC`)
}

func (s *Store) ByBatch(ctx context.Context, batchID string) ([]core.CompanyRecord, error) {
	return s.query(ctx, "by batch", `
		SELECT `+columns+` FROM companies
		WHERE import_batch = ?
		ORDER BY id`, batchID)
}

func (s *Store) DuplicateGroups(ctx context.Context) ([]core.DuplicateGroup, error) {
	dups, err := s.query(ctx, "duplicate groups", `
		SELECT `+columns+` FROM companies
		WHERE is_duplicate = 1 AND duplicate_of IS NOT NULL
		ORDER BY duplicate_of, id`)
	if err != nil {
		return nil, err
	}
	originals, err := s.query(ctx, "duplicate groups", `
		SELECT `+columns+` FROM companies
		WHERE id IN (SELECT duplicate_of FROM companies WHERE is_duplicate = 1)`)
	if err != nil {
		return nil, err
	}
	return core.GroupDuplicates(dups, originals), nil
}

func (s *Store) MarkDuplicate(ctx context.Context, id, originalID int64) (bool, error) {
	if id == originalID {
		return false, core.ErrSelfReference
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET is_duplicate = 1, duplicate_of = ?, manual_override = 1, updated_at = ?
		WHERE id = ?`, originalID, s.now().UnixMicro(), id)
	if err != nil {
		return false, core.WrapStoreError("mark duplicate", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.WrapStoreError("mark duplicate", err)
	}
	return n > 0, nil
}

func (s *Store) BatchStats(ctx context.Context, batchID string) (core.BatchStats, error) {
	stats := core.BatchStats{BatchID: batchID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_duplicate), 0),
		       COUNT(import_errors)
		FROM companies
		WHERE import_batch = ?`, batchID).Scan(&stats.Total, &stats.Duplicates, &stats.Errors)
	if err != nil {
		return stats, core.WrapStoreError("batch stats", err)
	}
	return stats, nil
}

func (s *Store) BatchKeys(ctx context.Context, batchID string) ([]string, error) {
	return s.keys(ctx, "batch keys", `
		SELECT DISTINCT dedupe_key FROM companies
		WHERE import_batch = ? AND dedupe_key IS NOT NULL
		ORDER BY dedupe_key`, batchID)
}

func (s *Store) Keys(ctx context.Context, after string, limit int) ([]string, error) {
	return s.keys(ctx, "keys", `
		SELECT DISTINCT dedupe_key FROM companies
		WHERE dedupe_key IS NOT NULL AND dedupe_key > ?
		ORDER BY dedupe_key
		LIMIT ?`, after, limit)
}

// ResolveKey elects the smallest id for key inside an IMMEDIATE transaction.
// Manually overridden rows are left out of the election and the rewrite.
func (s *Store) ResolveKey(ctx context.Context, key string) (core.KeyResolution, error) {
	res := core.KeyResolution{Key: key}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var canonical sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT MIN(id), COUNT(*) FROM companies
			WHERE dedupe_key = ? AND manual_override = 0`, key,
		).Scan(&canonical, &res.Members); err != nil {
			return err
		}
		if !canonical.Valid {
			return nil
		}
		res.CanonicalID = canonical.Int64

		r, err := tx.ExecContext(ctx, `
			UPDATE companies
			SET is_duplicate = (id <> ?1),
			    duplicate_of = CASE WHEN id = ?1 THEN NULL ELSE ?1 END,
			    updated_at = ?3
			WHERE dedupe_key = ?2
			  AND manual_override = 0
			  AND (is_duplicate IS NOT (id <> ?1)
			       OR duplicate_of IS NOT (CASE WHEN id = ?1 THEN NULL ELSE ?1 END))`,
			res.CanonicalID, key, s.now().UnixMicro())
		if err != nil {
			return err
		}
		res.Changed, err = r.RowsAffected()
		return err
	})
	if err != nil {
		return res, core.WrapStoreError("resolve key", err)
	}
	return res, nil
}

func (s *Store) ExportChunks(ctx context.Context, filter core.DuplicateFilter, chunkSize int, fn func([]core.CompanyRecord) error) error {
	var after int64
	for {
		chunk, err := s.query(ctx, "export", `
			SELECT `+columns+` FROM companies
			WHERE id > ? AND `+filterSQL(filter)+`
			ORDER BY id
			LIMIT ?`, after, chunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		if len(chunk) < chunkSize {
			return nil
		}
		after = chunk[len(chunk)-1].ID
	}
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]core.CompanyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	defer rows.Close()

	recs := []core.CompanyRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, core.WrapStoreError(op, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	return recs, nil
}

func (s *Store) keys(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, core.WrapStoreError(op, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	return keys, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (core.CompanyRecord, error) {
	var (
		rec                  core.CompanyRecord
		errorsRaw            sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&rec.ID, &rec.CompanyName, &rec.Email, &rec.PhoneNumber, &errorsRaw,
		&rec.IsDuplicate, &rec.DuplicateOf, &rec.ImportBatch, &rec.ManualOverride,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return rec, err
	}
	if errorsRaw.Valid {
		rec.ImportErrors = &core.ImportErrors{}
		if err := json.Unmarshal([]byte(errorsRaw.String), rec.ImportErrors); err != nil {
			return rec, fmt.Errorf("decode import_errors of %d: %w", rec.ID, err)
		}
	}
	rec.CreatedAt = time.UnixMicro(createdAt).UTC()
	rec.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return rec, nil
}

func (s *Store) insertArgs(rec core.NewRecord, at time.Time) ([]any, error) {
	var errorsJSON any
	if rec.ImportErrors != nil {
		b, err := json.Marshal(rec.ImportErrors)
		if err != nil {
			return nil, fmt.Errorf("encode import_errors: %w", err)
		}
		errorsJSON = string(b)
	}
	var key any
	if k, ok := rec.Key(); ok {
		key = k
	}
	ts := at.UnixMicro()
	return []any{
		rec.CompanyName, nullable(rec.Email), nullable(rec.PhoneNumber), errorsJSON,
		rec.IsDuplicate, nullable(rec.DuplicateOf), nullable(rec.ImportBatch), key, ts, ts,
	}, nil
}

// nullable turns a nil pointer into a SQL NULL argument.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func filterSQL(filter core.DuplicateFilter) string {
	switch filter {
	case core.FilterDuplicates:
		return "is_duplicate = 1"
	case core.FilterUnique:
		return "is_duplicate = 0"
	default:
		return "1 = 1"
	}
}
