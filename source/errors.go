package source

import (
	"errors"
	"fmt"
)

// Kind classifies a source failure. The kind decides retry behavior: only
// rate limiting and transient faults are worth retrying, everything else is
// terminal for the attempt.
type Kind int

const (
	// KindNotFound means the source has no data for this key.
	KindNotFound Kind = iota
	// KindRateLimited means the source signaled throttling.
	KindRateLimited
	// KindTransient means connectivity or a transient server failure.
	KindTransient
	// KindTimeout means the deadline elapsed before the source responded.
	KindTimeout
	// KindInvalid means the source returned structurally invalid data.
	KindInvalid
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindRateLimited:
		return "rate-limited"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind should be retried.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// Error is a classified source failure.
type Error struct {
	// Source is the failing source's identifier.
	Source ID

	// Kind classifies the failure.
	Kind Kind

	// Msg describes the failure.
	Msg string

	// Err is the underlying error, if any.
	Err error
}

// NewError creates a classified source error.
func NewError(source ID, kind Kind, msg string) *Error {
	return &Error{Source: source, Kind: kind, Msg: msg}
}

// WrapError wraps an underlying error with a classification.
func WrapError(source ID, kind Kind, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Source: source, Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether err should be retried. Unclassified errors are
// treated as transient: a source that doesn't speak the taxonomy gets the
// benefit of the doubt.
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind.Retryable()
	}
	return err != nil
}

// KindOf returns the classification of err, or (0, false) if unclassified.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
