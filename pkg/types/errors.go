package types

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy. Leaf components return a *Error
// with one of these kinds; Runtime and the API layer translate Kind to
// HTTP/RPC status without inventing new kinds.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUnauthenticated  Kind = "unauthenticated"
	KindForbidden        Kind = "forbidden"
	KindResourceExhausted Kind = "resource_exhausted"
	KindIntegrity        Kind = "integrity"
	KindIO               Kind = "io"
	KindInternal         Kind = "internal"
)

// Error is the stable, machine-readable error every component surface
// returns. Code defaults to Kind but may be a finer-grained string for
// API responses (e.g. "name_conflict" vs "port_conflict", both Conflict).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// NewValidationError reports malformed input.
func NewValidationError(msg string) *Error { return newErr(KindValidation, "validation", msg) }

// NewNotFoundError reports a missing container/image/session.
func NewNotFoundError(msg string) *Error { return newErr(KindNotFound, "not_found", msg) }

// NewConflictError reports a name collision, port conflict, or a
// non-force remove blocked by refcount/state.
func NewConflictError(msg string) *Error { return newErr(KindConflict, "conflict", msg) }

// NewUnauthenticatedError reports a missing/invalid/expired token.
func NewUnauthenticatedError(msg string) *Error {
	return newErr(KindUnauthenticated, "unauthenticated", msg)
}

// NewForbiddenError reports a missing permission.
func NewForbiddenError(msg string) *Error { return newErr(KindForbidden, "forbidden", msg) }

// NewResourceExhaustedError reports pool/cache exhaustion.
func NewResourceExhaustedError(msg string) *Error {
	return newErr(KindResourceExhausted, "resource_exhausted", msg)
}

// NewIntegrityError reports a digest mismatch or recipe parse failure.
func NewIntegrityError(msg string) *Error { return newErr(KindIntegrity, "integrity", msg) }

// NewIOError wraps a filesystem or network I/O failure.
func NewIOError(msg string, cause error) *Error {
	e := newErr(KindIO, "io", msg)
	e.Cause = cause
	return e
}

// NewInternalError reports a violated invariant.
func NewInternalError(msg string) *Error { return newErr(KindInternal, "internal", msg) }

// Wrap attaches cause to an existing *Error, preserving Kind/Code.
func Wrap(err *Error, cause error) *Error {
	e := *err
	e.Cause = cause
	return &e
}

// KindOf extracts the Kind of err, defaulting to KindInternal for
// errors that did not originate from this package.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}
