package core

import (
	"fmt"
	"strings"
	"time"
)

// Column limits of the companies table. Validation and the truncation of
// invalid rows both use them.
const (
	MaxCompanyNameLen = 100
	MaxEmailLen       = 100
	MaxPhoneLen       = 15
)

// InvalidCompanyName is stored for invalid rows that carry no company_name cell.
const InvalidCompanyName = "Invalid"

// CompanyRecord is a stored company row.
type CompanyRecord struct {
	ID             int64         `json:"id"`
	CompanyName    string        `json:"company_name"`
	Email          *string       `json:"email"`
	PhoneNumber    *string       `json:"phone_number"`
	ImportErrors   *ImportErrors `json:"import_errors"`
	IsDuplicate    bool          `json:"is_duplicate"`
	DuplicateOf    *int64        `json:"duplicate_of"`
	ImportBatch    *string       `json:"import_batch"`
	ManualOverride bool          `json:"manual_override"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Key returns the normalized identifying key. Records with import errors
// have no key and never take part in duplicate grouping.
func (r CompanyRecord) Key() (string, bool) {
	if r.ImportErrors != nil {
		return "", false
	}
	return NormalizeKey(r.CompanyName, r.Email, r.PhoneNumber), true
}

// ImportErrors is the audit payload stored on rows that failed validation.
type ImportErrors struct {
	Row      int      `json:"row"`
	Messages []string `json:"messages"`
}

// NewRecord is a row staged for insertion. The store assigns ID and timestamps.
type NewRecord struct {
	CompanyName  string
	Email        *string
	PhoneNumber  *string
	ImportErrors *ImportErrors
	IsDuplicate  bool
	DuplicateOf  *int64
	ImportBatch  *string
}

// Key returns the normalized identifying key stored alongside the row.
// ok is false for invalid rows, which stores persist with a NULL key.
func (r NewRecord) Key() (key string, ok bool) {
	if r.ImportErrors != nil {
		return "", false
	}
	return NormalizeKey(r.CompanyName, r.Email, r.PhoneNumber), true
}

// DuplicateFilter selects records by duplicate status.
type DuplicateFilter string

const (
	FilterAll        DuplicateFilter = ""
	FilterDuplicates DuplicateFilter = "duplicates"
	FilterUnique     DuplicateFilter = "unique"
)

// ParseDuplicateFilter accepts "", "all", "duplicates" and "unique".
func ParseDuplicateFilter(s string) (DuplicateFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "duplicates":
		return FilterDuplicates, nil
	case "unique":
		return FilterUnique, nil
	default:
		return "", fmt.Errorf("invalid filter %q (expected duplicates or unique)", s)
	}
}

// DuplicateGroup is an original record and every record pointing at it.
// Original is nil when the referenced record no longer exists.
type DuplicateGroup struct {
	OriginalID int64           `json:"original_record_id"`
	Original   *CompanyRecord  `json:"original_record"`
	Duplicates []CompanyRecord `json:"duplicates"`
}

// BatchStats summarizes the stored state of one import batch.
type BatchStats struct {
	BatchID    string `json:"batch_id"`
	Total      int    `json:"total"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
}

// IngestSummary is returned by an ingestion run. Duplicates is nil when the
// count is not known at return time (deferred policy, async reconciliation).
type IngestSummary struct {
	Total      int    `json:"total"`
	Imported   int    `json:"imported"`
	Duplicates *int   `json:"duplicates,omitempty"`
	Errors     int    `json:"errors"`
	BatchID    string `json:"batch_id"`
}

// KeyResolution is the outcome of electing the original for one key.
type KeyResolution struct {
	Key         string
	CanonicalID int64
	Members     int   // non-error, non-overridden records sharing the key
	Changed     int64 // rows whose linkage was rewritten
}

// ReconcileResult aggregates the key resolutions of one reconciliation pass.
type ReconcileResult struct {
	BatchID    string        `json:"batch_id,omitempty"`
	Keys       int           `json:"keys"`
	Duplicates int           `json:"duplicates"`
	Changed    int64         `json:"changed"`
	Duration   time.Duration `json:"duration_ns"`
}

func (r *ReconcileResult) add(res KeyResolution) {
	if res.Members == 0 {
		return
	}
	r.Keys++
	r.Duplicates += res.Members - 1
	r.Changed += res.Changed
}

// GroupDuplicates groups dups (ordered by duplicate_of, id) under their
// originals. Originals missing from originals leave Original nil.
func GroupDuplicates(dups, originals []CompanyRecord) []DuplicateGroup {
	byID := make(map[int64]CompanyRecord, len(originals))
	for _, o := range originals {
		byID[o.ID] = o
	}

	groups := []DuplicateGroup{}
	for _, d := range dups {
		if d.DuplicateOf == nil {
			continue
		}
		orig := *d.DuplicateOf
		if len(groups) == 0 || groups[len(groups)-1].OriginalID != orig {
			g := DuplicateGroup{OriginalID: orig}
			if o, ok := byID[orig]; ok {
				g.Original = &o
			}
			groups = append(groups, g)
		}
		g := &groups[len(groups)-1]
		g.Duplicates = append(g.Duplicates, d)
	}
	return groups
}
