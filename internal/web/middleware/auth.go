package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/JonMunkholm/companyimport/internal/logging"
)

// APIKeyAuth rejects requests whose X-API-Key header does not match one of
// keys. When required is false every request passes.
func APIKeyAuth(required bool, keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !required {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			switch {
			case key == "":
				logging.FromContext(r.Context()).Warn("auth: missing API key", "path", r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "Missing API key.", "AUTH001")
				return
			case !validKey(key, keys):
				logging.FromContext(r.Context()).Warn("auth: invalid API key", "path", r.URL.Path)
				writeJSONError(w, http.StatusForbidden, "Invalid API key.", "AUTH002")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validKey compares against every key so the timing does not reveal
// which one matched.
func validKey(key string, keys []string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
	}
	return match == 1
}
