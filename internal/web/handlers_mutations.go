package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/companyimport/internal/core"
)

// handleMarkDuplicate links a record to an original by hand.
func (s *Server) handleMarkDuplicate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondMessage(w, http.StatusBadRequest, core.InvalidRequestMessage())
		return
	}

	var req markDuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DuplicateOf == nil || *req.DuplicateOf < 1 {
		respondMessage(w, http.StatusUnprocessableEntity, core.InvalidRequestMessage())
		return
	}

	marked, err := s.service.MarkDuplicate(r.Context(), id, *req.DuplicateOf)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !marked {
		writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "Failed to mark as duplicate"})
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Record marked as duplicate"})
}

// handleReconcileBatch reconciles one batch and waits for the result.
func (s *Server) handleReconcileBatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Reconcile(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Reconciliation completed", Data: result})
}
