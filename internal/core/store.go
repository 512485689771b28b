package core

import "context"

// IngestStore is the part of the store the ingestion pipeline writes through.
type IngestStore interface {
	// Create persists one record and returns it with its assigned id.
	Create(ctx context.Context, rec NewRecord) (CompanyRecord, error)

	// BulkInsert persists recs all-or-nothing. Ids are assigned in slice order.
	// Implementations must not retain recs after returning.
	BulkInsert(ctx context.Context, recs []NewRecord) error

	// FindByKey returns the smallest-id record with the given normalized key,
	// skipping records marked duplicate when excludeDuplicates is set.
	// It returns nil, nil when nothing matches.
	FindByKey(ctx context.Context, key string, excludeDuplicates bool) (*CompanyRecord, error)

	// BatchStats counts the stored records of one batch.
	BatchStats(ctx context.Context, batchID string) (BatchStats, error)
}

// KeyResolver is the part of the store the reconciler works through.
type KeyResolver interface {
	// BatchKeys returns the distinct keys of the batch's non-error records.
	BatchKeys(ctx context.Context, batchID string) ([]string, error)

	// Keys pages through every distinct key in ascending order, starting
	// strictly after the given key.
	Keys(ctx context.Context, after string, limit int) ([]string, error)

	// ResolveKey elects the smallest id holding key as the original and points
	// every other record with that key at it, in one atomic step that
	// excludes concurrent resolutions of the same key. Records under a
	// manual override keep their linkage and are never elected.
	ResolveKey(ctx context.Context, key string) (KeyResolution, error)
}

// RecordStore is the durable storage for company records.
type RecordStore interface {
	IngestStore
	KeyResolver

	Get(ctx context.Context, id int64) (CompanyRecord, error)

	// List returns records ordered by created_at desc, then id desc.
	List(ctx context.Context, filter DuplicateFilter) ([]CompanyRecord, error)

	// DuplicateGroups returns every original that has duplicates, ordered by
	// original id, with its duplicates in id order.
	DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)

	// ByBatch returns the records of one batch in id order.
	ByBatch(ctx context.Context, batchID string) ([]CompanyRecord, error)

	// MarkDuplicate unconditionally links id to originalID and flags the
	// record as manually overridden. It reports false if id does not exist.
	MarkDuplicate(ctx context.Context, id, originalID int64) (bool, error)

	// ExportChunks calls fn with consecutive id-ordered chunks of at most
	// chunkSize records matching filter. An error from fn stops iteration.
	ExportChunks(ctx context.Context, filter DuplicateFilter, chunkSize int, fn func([]CompanyRecord) error) error

	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	Ping(ctx context.Context) error
	Close()
}
