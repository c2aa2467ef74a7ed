// Package dberr defines the error taxonomy returned across the database
// adapter boundary. Every operation fails with one of a small set of kinds,
// each carrying a human-readable message and, optionally, the underlying
// driver error.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers of the database layer.
type Kind int

const (
	// KindInternal covers driver failures, serialization failures and
	// registry inconsistencies. It is the zero value on purpose: an
	// unclassified error is an internal one.
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindAlreadyExists
	KindPermissionDenied
	// KindFailedPrecondition is only produced when the backend connection
	// could not be established within the retry budget.
	KindFailedPrecondition
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindFailedPrecondition:
		return "FailedPrecondition"
	default:
		return "Internal"
	}
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	if e.Err != nil && e.Message != e.Err.Error() {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped driver error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, dberr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for use with errors.Is.
var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrInternal           = &Error{Kind: KindInternal}
	ErrFailedPrecondition = &Error{Kind: KindFailedPrecondition}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a malformed schema name or query shape.
func InvalidArgument(format string, args ...any) error {
	return newf(KindInvalidArgument, format, args...)
}

// NotFound reports an unknown schema or record.
func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

// AlreadyExists is reserved for callers layered above the adapter.
func AlreadyExists(format string, args ...any) error {
	return newf(KindAlreadyExists, format, args...)
}

// PermissionDenied reports a Permission Gate rejection.
func PermissionDenied(format string, args ...any) error {
	return newf(KindPermissionDenied, format, args...)
}

// Internal reports a registry inconsistency or serialization failure.
func Internal(format string, args ...any) error {
	return newf(KindInternal, format, args...)
}

// FailedPrecondition reports that the backend never became reachable.
func FailedPrecondition(format string, args ...any) error {
	return newf(KindFailedPrecondition, format, args...)
}

// Wrap classifies err with kind unless it is already classified, in which
// case it is returned unchanged. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Backend wraps a driver failure as Internal, carrying the driver message.
// Already-classified errors pass through untouched.
func Backend(err error, op string) error {
	return Wrap(KindInternal, err, op)
}

// KindOf returns the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
