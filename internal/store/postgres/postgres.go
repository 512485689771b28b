// Package postgres implements core.RecordStore on PostgreSQL with pgx.
//
// Bulk inserts use COPY. Key resolution runs in a transaction holding a
// transaction-scoped advisory lock derived from the key, so two
// reconciliations of the same key never interleave.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/companyimport/internal/config"
	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
)

const columns = `id, company_name, email, phone_number, import_errors, is_duplicate,
	duplicate_of, import_batch, manual_override, created_at, updated_at`

var copyColumns = []string{
	"company_name", "email", "phone_number", "import_errors",
	"is_duplicate", "duplicate_of", "import_batch", "dedupe_key",
}

// advisoryNamespace prefixes every key hashed into an advisory lock id.
const advisoryNamespace = "companies"

// Store is a PostgreSQL-backed record store.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.RecordStore = (*Store)(nil)

// Open connects a pool using the store configuration and verifies it.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		logging.FromContext(ctx).Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return core.WrapStoreError("migrate", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Create(ctx context.Context, rec core.NewRecord) (core.CompanyRecord, error) {
	args, err := insertArgs(rec)
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("create", err)
	}
	rows, err := s.pool.Query(ctx, `
		INSERT INTO companies (`+strings.Join(copyColumns, ", ")+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+columns, args...)
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("create", err)
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("create", err)
	}
	return created, nil
}

// BulkInsert writes recs with a single COPY, which is atomic and assigns
// BIGSERIAL ids in row order.
func (s *Store) BulkInsert(ctx context.Context, recs []core.NewRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"companies"}, copyColumns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			return insertArgs(recs[i])
		}),
	)
	if err != nil {
		return core.WrapStoreError("bulk insert", err)
	}
	return nil
}

func (s *Store) FindByKey(ctx context.Context, key string, excludeDuplicates bool) (*core.CompanyRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+columns+` FROM companies
		WHERE dedupe_key = $1 AND ($2 = FALSE OR is_duplicate = FALSE)
		ORDER BY id
		LIMIT 1`, key, excludeDuplicates)
	if err != nil {
		return nil, core.WrapStoreError("find by key", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapStoreError("find by key", err)
	}
	return &rec, nil
}

func (s *Store) Get(ctx context.Context, id int64) (core.CompanyRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM companies WHERE id = $1`, id)
	if err != nil {
		return core.CompanyRecord{}, core.WrapStoreError("get", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
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
		WHERE import_batch = $1
		ORDER BY id`, batchID)
}

func (s *Store) DuplicateGroups(ctx context.Context) ([]core.DuplicateGroup, error) {
	dups, err := s.query(ctx, "duplicate groups", `
		SELECT `+columns+` FROM companies
		WHERE is_duplicate AND duplicate_of IS NOT NULL
		ORDER BY duplicate_of, id`)
	if err != nil {
		return nil, err
	}

	originals, err := s.query(ctx, "duplicate groups", `
		SELECT `+columns+` FROM companies
		WHERE id IN (SELECT duplicate_of FROM companies WHERE is_duplicate)`)
	if err != nil {
		return nil, err
	}
	return core.GroupDuplicates(dups, originals), nil
}

func (s *Store) MarkDuplicate(ctx context.Context, id, originalID int64) (bool, error) {
	if id == originalID {
		return false, core.ErrSelfReference
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE companies
		SET is_duplicate = TRUE, duplicate_of = $2, manual_override = TRUE, updated_at = now()
		WHERE id = $1`, id, originalID)
	if err != nil {
		return false, core.WrapStoreError("mark duplicate", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) BatchStats(ctx context.Context, batchID string) (core.BatchStats, error) {
	stats := core.BatchStats{BatchID: batchID}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_duplicate),
		       COUNT(*) FILTER (WHERE import_errors IS NOT NULL)
		FROM companies
		WHERE import_batch = $1`, batchID).Scan(&stats.Total, &stats.Duplicates, &stats.Errors)
	if err != nil {
		return stats, core.WrapStoreError("batch stats", err)
	}
	return stats, nil
}

func (s *Store) BatchKeys(ctx context.Context, batchID string) ([]string, error) {
	return s.keys(ctx, "batch keys", `
		SELECT DISTINCT dedupe_key FROM companies
		WHERE import_batch = $1 AND dedupe_key IS NOT NULL
		ORDER BY dedupe_key`, batchID)
}

func (s *Store) Keys(ctx context.Context, after string, limit int) ([]string, error) {
	return s.keys(ctx, "keys", `
		SELECT DISTINCT dedupe_key FROM companies
		WHERE dedupe_key IS NOT NULL AND dedupe_key > $1
		ORDER BY dedupe_key
		LIMIT $2`, after, limit)
}

// ResolveKey elects the smallest id for key under an advisory lock. Rows
// under a manual override neither stand for election nor get rewritten. Only
// rows whose linkage differs from the election are updated.
func (s *Store) ResolveKey(ctx context.Context, key string) (core.KeyResolution, error) {
	res := core.KeyResolution{Key: key}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(key)); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var canonical *int64
		if err := tx.QueryRow(ctx, `
			SELECT MIN(id), COUNT(*) FROM companies
			WHERE dedupe_key = $1 AND NOT manual_override`, key,
		).Scan(&canonical, &res.Members); err != nil {
			return err
		}
		if canonical == nil {
			return nil
		}
		res.CanonicalID = *canonical

		tag, err := tx.Exec(ctx, `
			UPDATE companies
			SET is_duplicate = (id <> $2),
			    duplicate_of = CASE WHEN id = $2 THEN NULL ELSE $2::BIGINT END,
			    updated_at = now()
			WHERE dedupe_key = $1
			  AND NOT manual_override
			  AND (is_duplicate IS DISTINCT FROM (id <> $2)
			       OR duplicate_of IS DISTINCT FROM (CASE WHEN id = $2 THEN NULL ELSE $2::BIGINT END))`,
			key, res.CanonicalID)
		if err != nil {
			return err
		}
		res.Changed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return res, core.WrapStoreError("resolve key", err)
	}
	return res, nil
}

// ExportChunks pages by id so each chunk is an independent, index-backed query.
func (s *Store) ExportChunks(ctx context.Context, filter core.DuplicateFilter, chunkSize int, fn func([]core.CompanyRecord) error) error {
	var after int64
	for {
		chunk, err := s.query(ctx, "export", `
			SELECT `+columns+` FROM companies
			WHERE id > $1 AND `+filterSQL(filter)+`
			ORDER BY id
			LIMIT $2`, after, chunkSize)
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

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]core.CompanyRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	return recs, nil
}

func (s *Store) keys(ctx context.Context, op, sql string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, core.WrapStoreError(op, err)
	}
	return keys, nil
}

func scanRecord(row pgx.CollectableRow) (core.CompanyRecord, error) {
	var (
		rec       core.CompanyRecord
		errorsRaw []byte
	)
	err := row.Scan(
		&rec.ID, &rec.CompanyName, &rec.Email, &rec.PhoneNumber, &errorsRaw,
		&rec.IsDuplicate, &rec.DuplicateOf, &rec.ImportBatch, &rec.ManualOverride,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	if len(errorsRaw) > 0 {
		rec.ImportErrors = &core.ImportErrors{}
		if err := json.Unmarshal(errorsRaw, rec.ImportErrors); err != nil {
			return rec, fmt.Errorf("decode import_errors of %d: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// insertArgs returns the values for copyColumns.
func insertArgs(rec core.NewRecord) ([]any, error) {
	var errorsJSON any
	if rec.ImportErrors != nil {
		b, err := json.Marshal(rec.ImportErrors)
		if err != nil {
			return nil, fmt.Errorf("encode import_errors: %w", err)
		}
		errorsJSON = b
	}
	var key any
	if k, ok := rec.Key(); ok {
		key = k
	}
	return []any{
		rec.CompanyName, rec.Email, rec.PhoneNumber, errorsJSON,
		rec.IsDuplicate, rec.DuplicateOf, rec.ImportBatch, key,
	}, nil
}

func filterSQL(filter core.DuplicateFilter) string {
	switch filter {
	case core.FilterDuplicates:
		return "is_duplicate"
	case core.FilterUnique:
		return "NOT is_duplicate"
	default:
		return "TRUE"
	}
}

// advisoryKey maps a dedupe key onto the bigint space of pg advisory locks.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(advisoryNamespace))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
