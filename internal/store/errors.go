// Package store defines the contracts the workflow coordinator uses to talk
// to the two upstream record systems: the scheduling backend that owns
// appointments and the clinical-record backend that owns consultations. Both
// are independently failing services; every operation is a single attempt
// whose failure is surfaced as a typed error, never retried here.
package store

import (
	"errors"
	"fmt"
)

// Kind classifies a record-store failure so callers can branch on intent
// rather than transport detail.
type Kind string

const (
	// KindNotFound means the referenced record does not exist.
	KindNotFound Kind = "not_found"
	// KindValidation means the input was malformed; nothing was written.
	KindValidation Kind = "validation"
	// KindUnauthorized means the caller token was missing, expired, or rejected.
	KindUnauthorized Kind = "unauthorized"
	// KindTransport means the backend or the network failed; the caller may retry.
	KindTransport Kind = "transport"
)

// Error is the typed failure returned by every record-store implementation.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

// NewError wraps a cause with its failure kind and originating operation.
func NewError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func kindOf(err error) Kind {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return ""
}

// IsNotFound reports whether the error is a missing-record failure.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsValidation reports whether the error is an input-validation failure.
func IsValidation(err error) bool {
	return kindOf(err) == KindValidation
}

// IsUnauthorized reports whether the error is an authorization failure.
func IsUnauthorized(err error) bool {
	return kindOf(err) == KindUnauthorized
}

// IsTransport reports whether the error is a recoverable backend failure.
func IsTransport(err error) bool {
	return kindOf(err) == KindTransport
}
