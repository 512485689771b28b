package core

import (
	"context"
	"fmt"
)

// Policy names accepted by PolicyByName.
const (
	PolicyInline   = "inline"
	PolicyDeferred = "deferred"
)

// DuplicateDetectionPolicy decides the provisional duplicate status of a
// valid row before it is buffered. The reconciler corrects whatever the
// policy got wrong, so a policy only trades ingest cost for early accuracy.
type DuplicateDetectionPolicy interface {
	Name() string

	// Detects reports whether Stage can mark duplicates, so its count is
	// worth reporting.
	Detects() bool

	// Stage sets IsDuplicate and DuplicateOf on rec. It reports whether rec
	// was staged as a duplicate.
	Stage(ctx context.Context, rec *NewRecord) (bool, error)
}

// InlinePolicy looks up the committed original for each row. Rows still in
// the unflushed buffer are invisible to it, so in-file repeats are left to
// the reconciler.
type InlinePolicy struct {
	store IngestStore
}

// NewInlinePolicy returns an InlinePolicy reading from store.
func NewInlinePolicy(store IngestStore) *InlinePolicy {
	return &InlinePolicy{store: store}
}

func (p *InlinePolicy) Name() string { return PolicyInline }

func (p *InlinePolicy) Detects() bool { return true }

func (p *InlinePolicy) Stage(ctx context.Context, rec *NewRecord) (bool, error) {
	key, ok := rec.Key()
	if !ok {
		return false, nil
	}
	original, err := p.store.FindByKey(ctx, key, true)
	if err != nil {
		return false, WrapStoreError("find by key", err)
	}
	if original == nil {
		return false, nil
	}
	id := original.ID
	rec.IsDuplicate = true
	rec.DuplicateOf = &id
	return true, nil
}

// DeferredPolicy stages every row as an original and leaves duplicate
// detection entirely to the reconciler.
type DeferredPolicy struct{}

func (DeferredPolicy) Name() string { return PolicyDeferred }

func (DeferredPolicy) Detects() bool { return false }

func (DeferredPolicy) Stage(context.Context, *NewRecord) (bool, error) {
	return false, nil
}

// PolicyByName returns the policy configured by INGEST_DUPLICATE_POLICY.
func PolicyByName(name string, store IngestStore) (DuplicateDetectionPolicy, error) {
	switch name {
	case PolicyInline, "":
		return NewInlinePolicy(store), nil
	case PolicyDeferred:
		return DeferredPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown duplicate policy %q", name)
	}
}
