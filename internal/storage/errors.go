package storage

import (
	"errors"
	"fmt"
)

// Kind classifies a storage-layer error so callers can branch without
// string-matching. See spec.md §7 for the full propagation policy.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInvalid        Kind = "invalid"
	KindForbidden      Kind = "forbidden"
	KindIo             Kind = "io"
	KindSerialization  Kind = "serialization"
	KindTimeout        Kind = "timeout"
	KindCancelled      Kind = "cancelled"
	KindAuthFailed     Kind = "auth_failed"
	KindAlreadyRunning Kind = "already_running"
	KindInternal       Kind = "internal"
)

// Error is the concrete error type every storage method returns on
// failure. Wrap lower-level errors with Wrap to preserve Kind while
// keeping %w-compatible unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

func NotFoundf(format string, args ...any) error {
	return Newf(KindNotFound, format, args...)
}

func Conflictf(format string, args ...any) error {
	return Newf(KindConflict, format, args...)
}

func Invalidf(format string, args ...any) error {
	return Newf(KindInvalid, format, args...)
}
