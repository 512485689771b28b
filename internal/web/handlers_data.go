package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
)

// handleList returns records, newest first, optionally filtered.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, core.MapError(err))
		return
	}

	recs, err := s.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeRecords(w, recs)
}

// handleGet returns one record.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondMessage(w, http.StatusBadRequest, core.InvalidRequestMessage())
		return
	}

	rec, err := s.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: rec})
}

// handleDuplicateGroups returns every original with its duplicates.
func (s *Server) handleDuplicateGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.DuplicateGroups(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]groupResponse, len(groups))
	for i, g := range groups {
		out[i] = groupResponse{DuplicateGroup: g, DuplicateCount: len(g.Duplicates)}
	}
	n := len(out)
	writeJSON(w, http.StatusOK, response{Success: true, Data: out, TotalGroups: &n})
}

// handleBatch returns the records of one import batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.ByBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeRecords(w, recs)
}

// handleBatchStats returns the stored counts of one import batch.
func (s *Server) handleBatchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.BatchStats(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: stats})
}

// handleExport streams records as a CSV download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, core.MapError(err))
		return
	}
	extended := r.URL.Query().Get("extended") == "true"

	name := fmt.Sprintf("companies_%s.csv", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	n, err := s.service.Export(r.Context(), filter, w, extended)
	if err != nil {
		// Headers and part of the body are already sent.
		logging.FromContext(r.Context()).Error("export failed", "rows", n, "error", err)
	}
}
