// Package errclass provides error classification for the sync engine.
// It distinguishes failures that should be retried from failures that
// require external intervention (re-login), so retry policies can be
// decided by predicate instead of string matching.
package errclass

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of an operation.
type Kind int

const (
	// FetchFailed is a generic remote-fetch failure, retryable up to policy limit.
	FetchFailed Kind = iota

	// NetworkTimeout is a timed-out network call, retryable.
	NetworkTimeout

	// AuthRequired means the backend rejected the credential; the pass must
	// stop and the user has to re-login. Never retried.
	AuthRequired

	// ParseError is malformed JSON or a malformed date. Not retryable; the
	// caller records the failure and moves on.
	ParseError

	// CacheWrite is a failed cache file write. Non-fatal: the stale cache
	// simply persists.
	CacheWrite
)

func (k Kind) String() string {
	switch k {
	case FetchFailed:
		return "fetch_failed"
	case NetworkTimeout:
		return "network_timeout"
	case AuthRequired:
		return "auth_required"
	case ParseError:
		return "parse_error"
	case CacheWrite:
		return "cache_write"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ClassifiedError wraps an error with the metadata retry policies need.
type ClassifiedError struct {
	Kind       Kind
	StatusCode int    // HTTP or backend body code (0 when not applicable)
	Body       string // response body excerpt for debugging
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] code %d: %v", e.Kind, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Kind, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error { return e.Underlying }

// New wraps err under the given kind.
func New(kind Kind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Underlying: err}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Underlying: fmt.Errorf(format, args...)}
}

// NewStatus wraps a backend rejection carrying a status/body code.
func NewStatus(kind Kind, code int, body string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, StatusCode: code, Body: body, Underlying: err}
}

// KindOf reports the classification of err, if any.
func KindOf(err error) (Kind, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsAuthRequired reports whether err means the credential must be renewed.
func IsAuthRequired(err error) bool {
	k, ok := KindOf(err)
	return ok && k == AuthRequired
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == NetworkTimeout
}

// IsIrrecoverable reports whether err must not be retried. Unclassified
// errors are treated as recoverable, matching conservative retry behavior.
func IsIrrecoverable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case AuthRequired, ParseError, CacheWrite:
		return true
	default:
		return false
	}
}

// IsRetryable is the complement of IsIrrecoverable for classified errors.
func IsRetryable(err error) bool { return !IsIrrecoverable(err) }
