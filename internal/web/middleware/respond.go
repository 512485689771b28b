package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes the same envelope the API handlers use.
func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
		"code":    code,
	})
}
