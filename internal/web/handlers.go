package web

import "net/http"

// handleHealth reports store connectivity and worker state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Health(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleIngestStatus returns the current state of the ingestion limiter.
// Clients can poll it before uploading.
func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: s.service.IngestStatus()})
}
