package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/companyimport/internal/core"
)

// response is the envelope of every JSON API response.
type response struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Data        any    `json:"data,omitempty"`
	Count       *int   `json:"count,omitempty"`
	TotalGroups *int   `json:"total_groups,omitempty"`
	Action      string `json:"action,omitempty"`
	Code        string `json:"code,omitempty"`
}

// groupResponse adds the duplicate count to a group.
type groupResponse struct {
	core.DuplicateGroup
	DuplicateCount int `json:"duplicate_count"`
}

// markDuplicateRequest is the body of PUT /company/{id}/mark-duplicate.
type markDuplicateRequest struct {
	DuplicateOf *int64 `json:"duplicate_of"`
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// writeRecords writes a record list with its count.
func writeRecords(w http.ResponseWriter, recs []core.CompanyRecord) {
	if recs == nil {
		recs = []core.CompanyRecord{}
	}
	n := len(recs)
	writeJSON(w, http.StatusOK, response{Success: true, Data: recs, Count: &n})
}

// parseID reads a positive int64 URL parameter.
func parseID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// parseFilter reads the filter query parameter.
func parseFilter(r *http.Request) (core.DuplicateFilter, error) {
	return core.ParseDuplicateFilter(r.URL.Query().Get("filter"))
}
