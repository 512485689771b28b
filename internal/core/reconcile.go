package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// DefaultSweepPageSize is the number of keys fetched per page by ReconcileAll.
const DefaultSweepPageSize = 1000

// Reconciler elects canonical originals. Each key is resolved by the store
// in one atomic step, so a pass is idempotent and concurrent passes over
// overlapping keys converge on the same original.
type Reconciler struct {
	store    KeyResolver
	pageSize int
}

// NewReconciler creates a reconciler over store. pageSize bounds the keys
// loaded at once by ReconcileAll.
func NewReconciler(store KeyResolver, pageSize int) *Reconciler {
	if pageSize <= 0 {
		pageSize = DefaultSweepPageSize
	}
	return &Reconciler{store: store, pageSize: pageSize}
}

// Reconcile resolves every key carried by the batch's non-error records.
// Records outside the batch that share a key are rewritten too: the
// original is the smallest id in the whole store.
func (r *Reconciler) Reconcile(ctx context.Context, batchID string) (ReconcileResult, error) {
	start := time.Now()
	log := logging.WithFields(ctx, "batch_id", batchID)
	result := ReconcileResult{BatchID: batchID}

	keys, err := r.store.BatchKeys(ctx, batchID)
	if err != nil {
		return result, WrapStoreError("batch keys", err)
	}

	if err := r.resolveAll(ctx, keys, &result); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	log.Info("batch reconciled",
		"keys", result.Keys,
		"duplicates", result.Duplicates,
		"changed", result.Changed,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// ReconcileAll pages through every key in the store. It repairs batches
// whose own reconciliation never ran.
func (r *Reconciler) ReconcileAll(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	var result ReconcileResult

	after := ""
	for {
		keys, err := r.store.Keys(ctx, after, r.pageSize)
		if err != nil {
			return result, WrapStoreError("keys", err)
		}
		if len(keys) == 0 {
			break
		}
		if err := r.resolveAll(ctx, keys, &result); err != nil {
			return result, err
		}
		if len(keys) < r.pageSize {
			break
		}
		after = keys[len(keys)-1]
	}

	result.Duration = time.Since(start)
	logging.FromContext(ctx).Info("store reconciled",
		"keys", result.Keys,
		"duplicates", result.Duplicates,
		"changed", result.Changed,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (r *Reconciler) resolveAll(ctx context.Context, keys []string, result *ReconcileResult) error {
	for _, key := range keys {
		res, err := r.store.ResolveKey(ctx, key)
		if err != nil {
			return WrapStoreError("resolve key", err)
		}
		result.add(res)
	}
	return nil
}
