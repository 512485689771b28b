package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jszwec/csvutil"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// DefaultExportChunkSize is the number of records read per store round trip.
const DefaultExportChunkSize = 1000

// ExportRow is one line of the basic export.
type ExportRow struct {
	CompanyName string `csv:"company_name"`
	Email       string `csv:"email"`
	PhoneNumber string `csv:"phone_number"`
}

// ExtendedExportRow adds the duplicate linkage columns.
type ExtendedExportRow struct {
	CompanyName string `csv:"company_name"`
	Email       string `csv:"email"`
	PhoneNumber string `csv:"phone_number"`
	IsDuplicate bool   `csv:"is_duplicate"`
	DuplicateOf string `csv:"duplicate_of"`
}

// ExportStore is the part of the store the exporter reads from.
type ExportStore interface {
	ExportChunks(ctx context.Context, filter DuplicateFilter, chunkSize int, fn func([]CompanyRecord) error) error
}

// Exporter writes filtered records as CSV.
type Exporter struct {
	store     ExportStore
	chunkSize int
}

// NewExporter creates an exporter reading chunkSize records at a time.
func NewExporter(store ExportStore, chunkSize int) *Exporter {
	if chunkSize <= 0 {
		chunkSize = DefaultExportChunkSize
	}
	return &Exporter{store: store, chunkSize: chunkSize}
}

// Export streams the records matching filter to w and returns the number
// of data rows written. The header is written even when nothing matches.
// Missing emails and phones are written as empty cells.
func (e *Exporter) Export(ctx context.Context, filter DuplicateFilter, w io.Writer, extended bool) (int, error) {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	var header any = ExportRow{}
	if extended {
		header = ExtendedExportRow{}
	}
	if err := enc.EncodeHeader(header); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	written := 0
	err := e.store.ExportChunks(ctx, filter, e.chunkSize, func(chunk []CompanyRecord) error {
		var rows any
		if extended {
			rows = toExtendedRows(chunk)
		} else {
			rows = toExportRows(chunk)
		}
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encode rows: %w", err)
		}
		written += len(chunk)

		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return written, fmt.Errorf("export: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("write csv: %w", err)
	}

	logging.FromContext(ctx).Info("export completed",
		"filter", string(filter),
		"extended", extended,
		"rows", written,
	)
	return written, nil
}

func toExportRows(recs []CompanyRecord) []ExportRow {
	rows := make([]ExportRow, len(recs))
	for i, r := range recs {
		rows[i] = ExportRow{
			CompanyName: r.CompanyName,
			Email:       deref(r.Email),
			PhoneNumber: deref(r.PhoneNumber),
		}
	}
	return rows
}

func toExtendedRows(recs []CompanyRecord) []ExtendedExportRow {
	rows := make([]ExtendedExportRow, len(recs))
	for i, r := range recs {
		row := ExtendedExportRow{
			CompanyName: r.CompanyName,
			Email:       deref(r.Email),
			PhoneNumber: deref(r.PhoneNumber),
			IsDuplicate: r.IsDuplicate,
		}
		if r.DuplicateOf != nil {
			row.DuplicateOf = strconv.FormatInt(*r.DuplicateOf, 10)
		}
		rows[i] = row
	}
	return rows
}
