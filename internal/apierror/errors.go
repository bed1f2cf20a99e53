// Package apierror defines the typed errors produced by the admission
// pipeline and the JSON envelope they are rendered into.
//
// # Error Conventions
//
// Sentinel errors (ErrOriginNotAllowed, ErrRateLimited, ...) identify the
// error kind and are matched with errors.Is. The structured *Error carries
// the fields clients depend on (code, status, retryAfter, details) and is
// extracted with errors.As. An *Error is never mutated after creation.
package apierror

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"
)

// Kind classifies an admission failure.
type Kind string

const (
	// KindOriginNotAllowed is produced by the origin policy enforcer.
	KindOriginNotAllowed Kind = "OriginNotAllowed"

	// KindRateLimitExceeded is produced by a rate limiter when quota is exhausted.
	KindRateLimitExceeded Kind = "RateLimitExceeded"

	// KindValidationFailed covers body, query, params, headers and file violations.
	KindValidationFailed Kind = "ValidationFailed"

	// KindRateLimiterUnavailable is produced when the limiter backing store
	// fails and the limiter is configured to fail closed.
	KindRateLimiterUnavailable Kind = "RateLimiterUnavailable"

	// KindInternal wraps any error that is not an admission error.
	KindInternal Kind = "Internal"
)

// Machine-readable error codes.
const (
	CodeOriginNotAllowed       = "ORIGIN_NOT_ALLOWED"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeAuthRateLimitExceeded  = "AUTH_RATE_LIMIT_EXCEEDED"
	CodeValidationFailed       = "VALIDATION_ERROR"
	CodeRateLimiterUnavailable = "RATE_LIMITER_UNAVAILABLE"
	CodeInternal               = "INTERNAL_ERROR"
)

// Sentinel errors, one per kind.
var (
	ErrOriginNotAllowed       = errors.New("origin not allowed")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrValidation             = errors.New("validation failed")
	ErrRateLimiterUnavailable = errors.New("rate limiter unavailable")
	ErrInternal               = errors.New("internal error")
)

var kindSentinels = map[Kind]error{
	KindOriginNotAllowed:       ErrOriginNotAllowed,
	KindRateLimitExceeded:      ErrRateLimited,
	KindValidationFailed:       ErrValidation,
	KindRateLimiterUnavailable: ErrRateLimiterUnavailable,
	KindInternal:               ErrInternal,
}

// Error is the single error value a pipeline stage produces when it
// rejects a request.
type Error struct {
	Kind          Kind
	Message       string
	Code          string
	StatusCode    int
	Details       map[string]string
	RetryAfter    int
	CorrelationID string
	Timestamp     time.Time
	Cause         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's kind, or another *Error of the same kind.
func (e *Error) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && target == sentinel {
		return true
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// Retryable reports whether the caller may retry the identical request later.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimitExceeded || e.Kind == KindRateLimiterUnavailable
}

func newError(kind Kind, status int, code, message, correlationID string) *Error {
	return &Error{
		Kind:          kind,
		Message:       message,
		Code:          code,
		StatusCode:    status,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

// OriginNotAllowed creates the origin denial error. It intentionally
// carries nothing beyond the fact of denial.
func OriginNotAllowed(correlationID string) *Error {
	return newError(KindOriginNotAllowed, http.StatusForbidden, CodeOriginNotAllowed,
		"Origin not allowed", correlationID)
}

// RateLimitExceeded creates a quota error advertising retryAfter seconds.
func RateLimitExceeded(correlationID string, retryAfter int) *Error {
	e := newError(KindRateLimitExceeded, http.StatusTooManyRequests, CodeRateLimitExceeded,
		"Too many requests, please try again later.", correlationID)
	e.RetryAfter = retryAfter
	return e
}

// AuthRateLimitExceeded creates the quota error of the authentication limiter.
func AuthRateLimitExceeded(correlationID string, retryAfter int) *Error {
	e := newError(KindRateLimitExceeded, http.StatusTooManyRequests, CodeAuthRateLimitExceeded,
		"Too many authentication attempts, please try again later.", correlationID)
	e.RetryAfter = retryAfter
	return e
}

// ValidationFailed creates a validation error. details maps a request part
// (body, query, params, headers, files) to a human-readable message; the map
// is copied.
func ValidationFailed(correlationID string, details map[string]string) *Error {
	e := newError(KindValidationFailed, http.StatusBadRequest, CodeValidationFailed,
		"Request validation failed", correlationID)
	e.Details = maps.Clone(details)
	return e
}

// RateLimiterUnavailable creates the fail-closed error for a broken limiter store.
func RateLimiterUnavailable(correlationID string, cause error) *Error {
	e := newError(KindRateLimiterUnavailable, http.StatusServiceUnavailable, CodeRateLimiterUnavailable,
		"Service temporarily unavailable", correlationID)
	e.Cause = cause
	return e
}

// Internal wraps an unexpected error.
func Internal(correlationID string, cause error) *Error {
	e := newError(KindInternal, http.StatusInternalServerError, CodeInternal,
		"Internal server error", correlationID)
	e.Cause = cause
	return e
}

// From converts any error into an *Error. Admission errors are returned
// as-is; anything else becomes an Internal error.
func From(err error, correlationID string) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(correlationID, err)
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}
