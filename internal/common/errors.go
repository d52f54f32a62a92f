// File: internal/common/errors.go
package common

import (
	"errors"
	"fmt"
)

// Error is the coded error type shared across the collector. Code identifies
// the failure class so callers can branch without string matching.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy carrying extra context. The receiver is not
// mutated so the package-level sentinels stay clean.
func (e *Error) WithDetails(details interface{}) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// Wrap returns a copy with an underlying cause attached.
func (e *Error) Wrap(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// Is lets errors.Is match sentinels by code regardless of attached details.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Failure taxonomy for a collection run. Transient failures are retried with
// backoff; structural and store failures skip the affected listing; the hard
// scrape failure is the only error that aborts a whole run.
var (
	ErrTransient        = NewError("TRANSIENT", "Upstream returned a retryable error.")
	ErrStructural       = NewError("STRUCTURAL", "Record is missing required fields or is unparsable.")
	ErrScrapeFailedHard = NewError("SCRAPE_FAILED_HARD", "Crawl returned nothing while active listings exist; aborting run.")
	ErrStoreWrite       = NewError("STORE_WRITE", "Persisting state failed; the listing will be retried next run.")
	ErrNotFound         = NewError("NOT_FOUND", "The requested record could not be found.")
	ErrConflict         = NewError("CONFLICT", "A conflicting record already exists.")
)

func IsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
