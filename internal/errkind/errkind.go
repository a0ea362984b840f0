// Package errkind defines the structured error taxonomy shared by the
// ingestion, scheduling, and plugin-host layers. Every error that crosses a
// component boundary is classified into one of these kinds so callers can
// branch on retry/permanent semantics without parsing error strings.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error's propagation policy.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	NotFound           Kind = "not_found"
	AccessDenied       Kind = "access_denied"
	HashSkip           Kind = "hash_skip"
	StagingMissing     Kind = "staging_missing"
	RateLimited        Kind = "rate_limited"
	UpstreamTimeout    Kind = "upstream_timeout"
	UpstreamFailure    Kind = "upstream_failure"
	Cancelled          Kind = "cancelled"
	InvariantViolation Kind = "invariant_violation"
	ConnectionFailure  Kind = "connection_failure"
	QuotaExceeded      Kind = "quota_exceeded"
)

// Error is the structured error type carried across component boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a structured error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(d map[string]any) *Error {
	c := *e
	c.Details = d
	return &c
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether an error of this kind should be retried by a
// worker loop (transient) versus discarded immediately (permanent). See
// spec.md §7 for the full taxonomy.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		// Unclassified errors are treated as transient so max_attempts
		// governs the eventual discard, matching §4.6 processing contract.
		return true
	}
	switch e.Kind {
	case InvalidInput, NotFound, AccessDenied, HashSkip, StagingMissing, Cancelled, InvariantViolation:
		return false
	case RateLimited, UpstreamTimeout, UpstreamFailure, ConnectionFailure, QuotaExceeded:
		return true
	default:
		return true
	}
}
