package collab

import (
	"errors"
	"fmt"
)

// ErrorKind partitions operation failures into the classes callers must be
// able to distinguish: UI surfaces unauthorized/invalid-transition/
// precondition failures as actionable messages, retries conflicts, and
// treats already-done as a client bug.
type ErrorKind string

const (
	KindInvalidTransition  ErrorKind = "invalid_transition"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindAlreadyDone        ErrorKind = "already_done"
	KindConflict           ErrorKind = "conflict"
	KindNotFound           ErrorKind = "not_found"
)

// Error is the typed failure returned by every operation on the aggregate.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: "collab: " + fmt.Sprintf(format, args...)}
}

func errInvalidTransition(format string, args ...any) *Error {
	return newError(KindInvalidTransition, format, args...)
}

func errUnauthorized(format string, args ...any) *Error {
	return newError(KindUnauthorized, format, args...)
}

func errPrecondition(format string, args ...any) *Error {
	return newError(KindPreconditionFailed, format, args...)
}

func errAlreadyDone(format string, args ...any) *Error {
	return newError(KindAlreadyDone, format, args...)
}

func errConflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func errNotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// KindOf extracts the error kind, or "" for errors raised outside the
// taxonomy (infrastructure failures and the like).
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
