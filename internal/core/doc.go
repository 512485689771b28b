// Package core provides the business logic for company CSV ingestion and
// duplicate resolution.
//
// The package is independent of any transport: the HTTP API and the CLI both
// go through [Service]. Persistence is behind [RecordStore], implemented by
// the postgres and sqlite packages under internal/store.
//
// # Ingestion
//
// [Pipeline.Ingest] streams a source with O(batch size) memory:
//
//  1. The source is stripped of a UTF-8 BOM and invalid UTF-8 is replaced
//  2. The header must carry company_name, email and phone_number
//  3. Each row is validated; invalid rows are stored at once with their
//     messages in import_errors
//  4. Valid rows are staged by a [DuplicateDetectionPolicy] and flushed with
//     [IngestStore.BulkInsert] every batch size rows
//  5. The batch is handed to reconciliation
//
// # Duplicate resolution
//
// Records sharing a normalized key ([NormalizeKey]) form a group. The
// record with the smallest id is the original; every other member is a
// duplicate pointing at it. [Reconciler] enforces this per key through
// [KeyResolver.ResolveKey], which stores execute atomically so that
// concurrent passes cannot elect different originals. The inline policy
// only gives an early, possibly incomplete answer.
//
// Reconciliation runs on a [ReconcileQueue] after each ingestion, and a
// periodic sweep ([Service.StartSweepScheduler]) covers batches whose
// reconciliation was lost.
//
// # Errors
//
// Header problems are reported as [*FormatError]; persistence failures are
// wrapped in [*StoreError]. [MapError] turns any error into a user message
// with a support code.
package core
