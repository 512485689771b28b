package core

import (
	"strings"
	"unicode/utf8"
)

// keySeparator joins the key parts. The unit separator cannot appear in a
// cleaned cell, so distinct triples never collide.
const keySeparator = "\x1f"

// NormalizeKey builds the identifying key of a company: name, email and
// phone, each trimmed and lower-cased. A missing email or phone is "".
//
// Every store compares keys through this value, so "Acme Corp" and
// " acme corp " with the same contact details are the same company.
func NormalizeKey(name string, email, phone *string) string {
	var b strings.Builder
	b.Grow(len(name) + 32)
	b.WriteString(normalizePart(name))
	b.WriteString(keySeparator)
	if email != nil {
		b.WriteString(normalizePart(*email))
	}
	b.WriteString(keySeparator)
	if phone != nil {
		b.WriteString(normalizePart(*phone))
	}
	return b.String()
}

func normalizePart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CleanCell trims surrounding whitespace and strips the unit separator
// used by NormalizeKey.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, keySeparator) {
		s = strings.ReplaceAll(s, keySeparator, "")
	}
	return s
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// optional returns nil for an empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
