package web

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// multipartMemory is how much of an upload is buffered in memory before the
// multipart reader spills to a temp file.
const multipartMemory = 32 << 20

// handleImport ingests the CSV in the multipart field "file".
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if maxSize := s.cfg.Ingest.MaxFileSize; maxSize > 0 {
		// Leave room for the multipart envelope around the file.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, err)
			return
		}
		respondError(w, r, errNoFile)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	logging.FromContext(r.Context()).Info("import started", "file", header.Filename, "size", header.Size)

	summary, err := s.service.Import(r.Context(), file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: "Import completed",
		Data:    summary,
	})
}
