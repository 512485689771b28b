package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory RecordStore for tests. Every method holds the
// mutex, so ResolveKey is atomic like the real stores.
type memStore struct {
	mu      sync.Mutex
	records []CompanyRecord // id order
	keys    map[int64]string
	nextID  int64
	clock   time.Time

	bulkSizes   []int
	createCalls int

	bulkErr   error // returned by BulkInsert call number bulkErrAt (1-based)
	bulkErrAt int
	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		keys:  make(map[int64]string),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func (m *memStore) insertLocked(rec NewRecord, at time.Time) CompanyRecord {
	m.nextID++
	var errs *ImportErrors
	if rec.ImportErrors != nil {
		e := *rec.ImportErrors
		errs = &e
	}
	stored := CompanyRecord{
		ID:           m.nextID,
		CompanyName:  rec.CompanyName,
		Email:        copyStr(rec.Email),
		PhoneNumber:  copyStr(rec.PhoneNumber),
		ImportErrors: errs,
		IsDuplicate:  rec.IsDuplicate,
		DuplicateOf:  copyID(rec.DuplicateOf),
		ImportBatch:  copyStr(rec.ImportBatch),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if key, ok := rec.Key(); ok {
		m.keys[stored.ID] = key
	}
	m.records = append(m.records, stored)
	return stored
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) Create(_ context.Context, rec NewRecord) (CompanyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return CompanyRecord{}, m.createErr
	}
	return m.insertLocked(rec, m.tick()), nil
}

func (m *memStore) BulkInsert(_ context.Context, recs []NewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkSizes = append(m.bulkSizes, len(recs))
	if m.bulkErr != nil && len(m.bulkSizes) == m.bulkErrAt {
		return m.bulkErr
	}
	at := m.tick()
	for _, rec := range recs {
		m.insertLocked(rec, at)
	}
	return nil
}

func (m *memStore) FindByKey(_ context.Context, key string, excludeDuplicates bool) (*CompanyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if m.keys[r.ID] != key || (excludeDuplicates && r.IsDuplicate) {
			continue
		}
		if _, ok := m.keys[r.ID]; !ok {
			continue
		}
		found := r
		return &found, nil
	}
	return nil, nil
}

func (m *memStore) BatchStats(_ context.Context, batchID string) (BatchStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := BatchStats{BatchID: batchID}
	for _, r := range m.records {
		if r.ImportBatch == nil || *r.ImportBatch != batchID {
			continue
		}
		stats.Total++
		if r.IsDuplicate {
			stats.Duplicates++
		}
		if r.ImportErrors != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

func (m *memStore) BatchKeys(_ context.Context, batchID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var keys []string
	for _, r := range m.records {
		key, ok := m.keys[r.ID]
		if !ok || r.ImportBatch == nil || *r.ImportBatch != batchID || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) Keys(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var keys []string
	for _, key := range m.keys {
		if key > after && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *memStore) ResolveKey(_ context.Context, key string) (KeyResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := KeyResolution{Key: key}
	for _, r := range m.records {
		if k, ok := m.keys[r.ID]; !ok || k != key || r.ManualOverride {
			continue
		}
		if res.Members == 0 || r.ID < res.CanonicalID {
			res.CanonicalID = r.ID
		}
		res.Members++
	}
	if res.Members == 0 {
		return res, nil
	}

	for i := range m.records {
		r := &m.records[i]
		if k, ok := m.keys[r.ID]; !ok || k != key || r.ManualOverride {
			continue
		}
		if r.ID == res.CanonicalID {
			if r.IsDuplicate || r.DuplicateOf != nil {
				r.IsDuplicate, r.DuplicateOf = false, nil
				res.Changed++
			}
			continue
		}
		if !r.IsDuplicate || r.DuplicateOf == nil || *r.DuplicateOf != res.CanonicalID {
			id := res.CanonicalID
			r.IsDuplicate, r.DuplicateOf = true, &id
			res.Changed++
		}
	}
	return res, nil
}

func (m *memStore) Get(_ context.Context, id int64) (CompanyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return CompanyRecord{}, ErrRecordNotFound
}

func matchesFilter(r CompanyRecord, filter DuplicateFilter) bool {
	switch filter {
	case FilterDuplicates:
		return r.IsDuplicate
	case FilterUnique:
		return !r.IsDuplicate
	default:
		return true
	}
}

func (m *memStore) List(_ context.Context, filter DuplicateFilter) ([]CompanyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CompanyRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if matchesFilter(m.records[i], filter) {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memStore) DuplicateGroups(_ context.Context) ([]DuplicateGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byOriginal := make(map[int64][]CompanyRecord)
	var order []int64
	for _, r := range m.records {
		if !r.IsDuplicate || r.DuplicateOf == nil {
			continue
		}
		if _, ok := byOriginal[*r.DuplicateOf]; !ok {
			order = append(order, *r.DuplicateOf)
		}
		byOriginal[*r.DuplicateOf] = append(byOriginal[*r.DuplicateOf], r)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	groups := make([]DuplicateGroup, 0, len(order))
	for _, id := range order {
		g := DuplicateGroup{OriginalID: id, Duplicates: byOriginal[id]}
		for _, r := range m.records {
			if r.ID == id {
				orig := r
				g.Original = &orig
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (m *memStore) ByBatch(_ context.Context, batchID string) ([]CompanyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CompanyRecord
	for _, r := range m.records {
		if r.ImportBatch != nil && *r.ImportBatch == batchID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) MarkDuplicate(_ context.Context, id, originalID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == originalID {
		return false, ErrSelfReference
	}
	for i := range m.records {
		if m.records[i].ID == id {
			orig := originalID
			m.records[i].IsDuplicate = true
			m.records[i].DuplicateOf = &orig
			m.records[i].ManualOverride = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ExportChunks(_ context.Context, filter DuplicateFilter, chunkSize int, fn func([]CompanyRecord) error) error {
	m.mu.Lock()
	var matched []CompanyRecord
	for _, r := range m.records {
		if matchesFilter(r, filter) {
			matched = append(matched, r)
		}
	}
	m.mu.Unlock()

	for start := 0; start < len(matched); start += chunkSize {
		end := min(start+chunkSize, len(matched))
		if err := fn(matched[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Ping(context.Context) error    { return nil }
func (m *memStore) Close()                        {}

// all returns a snapshot of every record in id order.
func (m *memStore) all() []CompanyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompanyRecord, len(m.records))
	copy(out, m.records)
	return out
}

var errInjected = errors.New("injected failure")
