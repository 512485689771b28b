package core

// Required header columns, matched exactly after trimming.
const (
	ColumnCompanyName = "company_name"
	ColumnEmail       = "email"
	ColumnPhoneNumber = "phone_number"
)

// RequiredColumns lists the header columns every source must carry.
var RequiredColumns = []string{ColumnCompanyName, ColumnEmail, ColumnPhoneNumber}

// HeaderIndex holds the positions of the required columns in a header row.
type HeaderIndex struct {
	CompanyName int
	Email       int
	PhoneNumber int
}

// ResolveHeader locates the required columns. Matching is case-sensitive,
// ignores surrounding whitespace and extra columns; a repeated column
// resolves to its first occurrence.
func ResolveHeader(header []string) (HeaderIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		name := CleanCell(h)
		if _, seen := pos[name]; !seen {
			pos[name] = i
		}
	}

	var missing []string
	lookup := func(col string) int {
		i, ok := pos[col]
		if !ok {
			missing = append(missing, col)
			return -1
		}
		return i
	}

	idx := HeaderIndex{
		CompanyName: lookup(ColumnCompanyName),
		Email:       lookup(ColumnEmail),
		PhoneNumber: lookup(ColumnPhoneNumber),
	}
	if len(missing) > 0 {
		return HeaderIndex{}, &FormatError{Missing: missing}
	}
	return idx, nil
}

// Row maps a data record through the index. Cells past the end of a short
// record are absent (nil).
func (h HeaderIndex) Row(cells []string) RawRow {
	return RawRow{
		CompanyName: cellAt(cells, h.CompanyName),
		Email:       cellAt(cells, h.Email),
		PhoneNumber: cellAt(cells, h.PhoneNumber),
	}
}

func cellAt(cells []string, i int) *string {
	if i < 0 || i >= len(cells) {
		return nil
	}
	v := CleanCell(cells[i])
	return &v
}
