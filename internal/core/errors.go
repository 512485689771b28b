package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRecordNotFound is returned when a referenced company record does not exist.
	ErrRecordNotFound = errors.New("company record not found")

	// ErrSelfReference is returned when a record would be marked a duplicate of itself.
	ErrSelfReference = errors.New("record cannot be a duplicate of itself")

	// ErrTooManyIngestions is returned when all ingestion slots are occupied and
	// the wait timeout expires. Clients should retry after a short delay.
	ErrTooManyIngestions = errors.New("too many concurrent ingestions, please try again later")

	// ErrQueueClosed is returned by Submit after the reconcile queue has shut down.
	ErrQueueClosed = errors.New("reconcile queue closed")

	// ErrQueueFull is returned by Submit when no queue slot is free. The
	// sweep scheduler picks such batches up on its next pass.
	ErrQueueFull = errors.New("reconcile queue full")

	// ErrFileTooLarge is returned when a source exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// FormatError reports a source whose header cannot be used. Nothing is
// written and no reconciliation is scheduled when it is returned.
type FormatError struct {
	Missing []string // required columns absent from the header
	Reason  string   // set when the header could not be read at all
}

func (e *FormatError) Error() string {
	if len(e.Missing) > 0 {
		return "invalid csv: missing required column(s): " + strings.Join(e.Missing, ", ")
	}
	return "invalid csv: " + e.Reason
}

// StoreError wraps a persistence failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStoreError returns nil for a nil err. ErrRecordNotFound passes through
// unwrapped so callers can compare it directly.
func WrapStoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrSelfReference) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
