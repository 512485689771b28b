package web

// errors.go turns service errors into API responses.
//
// The technical error is logged with the request id; the client receives
// the mapped core.UserMessage in the standard envelope.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
)

// errNoFile is returned when the multipart form has no file field.
var errNoFile = errors.New("no file provided")

// respondError logs err and writes its user-facing message with a status
// derived from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	respondMessage(w, status, msg)
}

// respondMessage writes an error envelope for msg.
func respondMessage(w http.ResponseWriter, status int, msg core.UserMessage) {
	writeJSON(w, status, response{
		Success: false,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	var (
		fe       *core.FormatError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &fe), errors.Is(err, core.ErrSelfReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoFile):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyIngestions),
		errors.Is(err, core.ErrQueueClosed),
		errors.Is(err, core.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
