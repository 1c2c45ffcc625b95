package search

import (
	"errors"
	"fmt"
)

// Code classifies the single terminal error a search run can produce.
type Code string

const (
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeStartError          Code = "START_ERROR"
	CodeJobNotFound         Code = "JOB_NOT_FOUND"
	CodeStatusError         Code = "STATUS_ERROR"
	CodeNetworkError        Code = "NETWORK_ERROR"
	CodeSearchFailed        Code = "SEARCH_FAILED"
	CodeSearchTimeout       Code = "SEARCH_TIMEOUT"
	CodePollTimeout         Code = "POLL_TIMEOUT"
	CodeCancelled           Code = "CANCELLED"
	CodeUnexpected          Code = "UNEXPECTED_ERROR"
)

// Error is the terminal failure descriptor for one search invocation.
// Exactly one is produced per failed run; transient poll failures that stay
// within the retry budget never surface as an Error.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	// CreditError marks quota exhaustion so callers can route the failure to
	// an upgrade prompt instead of a generic toast.
	CreditError bool
	// Remaining is the quota left when CreditError is set.
	Remaining int

	cause error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// As unwraps err into a *Error when the chain contains one.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCancelled reports whether err is the caller-driven abort outcome. UIs
// treat this as a no-op rather than a failure.
func IsCancelled(err error) bool {
	se, ok := As(err)
	return ok && se.Code == CodeCancelled
}
