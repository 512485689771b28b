package core

// error_messages.go maps technical errors to user-facing messages with codes
// that support staff can look up.
//
// # Codes
//
//	FMT001 - Missing column: the header lacks company_name, email or phone_number
//	FMT002 - Empty file: the source has no header row
//	FMT003 - Invalid CSV: the source could not be parsed
//
//	VAL001 - Invalid filter: filter is not duplicates or unique
//	VAL002 - Self reference: a record cannot duplicate itself
//	VAL003 - Invalid request: malformed id or body
//
//	DB001  - Connection refused
//	DB002  - Connection reset
//	DB003  - Timeout
//	DB004  - Deadlock or busy database
//	DB005  - Constraint violation
//
//	ING001 - System busy: too many ingestions in progress
//	ING002 - File too large
//	ING003 - No file provided
//	ING004 - Request cancelled
//	ING005 - Request timed out
//
//	REC001 - Record not found
//	REC002 - Reconciliation unavailable (queue closed or full)
//
//	ERR000 - Unknown error; check the application log for the technical error
//
// Sentinel and typed errors are matched first with errors.Is/As. Everything
// else falls through to case-insensitive substring patterns; the first match
// wins, so specific patterns precede general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgMissingColumn = UserMessage{"Required column is missing from CSV", "Include company_name, email and phone_number in the header row", "FMT001"}
	msgEmptyFile     = UserMessage{"The uploaded file is empty", "Upload a CSV file with a header row", "FMT002"}
	msgInvalidCSV    = UserMessage{"File is not a valid CSV", "Ensure the file is comma-separated text", "FMT003"}

	msgInvalidFilter  = UserMessage{"Unknown filter", "Use filter=duplicates or filter=unique", "VAL001"}
	msgSelfReference  = UserMessage{"A record cannot be a duplicate of itself", "Choose a different original record", "VAL002"}
	msgInvalidRequest = UserMessage{"The request is malformed", "Check the record id and request body", "VAL003"}

	msgBusy         = UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "ING001"}
	msgFileTooLarge = UserMessage{"File exceeds maximum size limit", "Split the file into smaller chunks", "ING002"}
	msgNoFile       = UserMessage{"No file was selected", "Attach a CSV file in the file field", "ING003"}
	msgCancelled    = UserMessage{"Request was cancelled", "Please try again", "ING004"}
	msgDeadline     = UserMessage{"Request timed out", "Try a smaller file or try again later", "ING005"}

	msgNotFound      = UserMessage{"Company record not found", "Verify the record id", "REC001"}
	msgReconcileDown = UserMessage{"Reconciliation is not accepting work", "The periodic sweep will reconcile this batch", "REC002"}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"missing required column", msgMissingColumn},
	{"empty file", msgEmptyFile},
	{"invalid csv", msgInvalidCSV},
	{"parse error", msgInvalidCSV},
	{"invalid filter", msgInvalidFilter},
	{"no file provided", msgNoFile},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"database is locked", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"violates check constraint", UserMessage{"The change would break record linkage rules", "Review the duplicate_of value", "DB005"}},
	{"constraint failed", UserMessage{"The change would break record linkage rules", "Review the duplicate_of value", "DB005"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&FormatError{Missing: []string{"email"}})
//	// msg.Code == "FMT001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var fe *FormatError
	switch {
	case errors.As(err, &fe):
		if len(fe.Missing) > 0 {
			return msgMissingColumn
		}
		if strings.Contains(fe.Reason, "empty file") {
			return msgEmptyFile
		}
		return msgInvalidCSV
	case errors.Is(err, ErrSelfReference):
		return msgSelfReference
	case errors.Is(err, ErrRecordNotFound):
		return msgNotFound
	case errors.Is(err, ErrTooManyIngestions):
		return msgBusy
	case errors.Is(err, ErrFileTooLarge):
		return msgFileTooLarge
	case errors.Is(err, ErrQueueClosed), errors.Is(err, ErrQueueFull):
		return msgReconcileDown
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgDeadline
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// InvalidRequestMessage is the message for malformed ids and bodies.
func InvalidRequestMessage() UserMessage {
	return msgInvalidRequest
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
