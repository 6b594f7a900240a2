// Package errors carries the bridge's error taxonomy. Errors created here record
// the caller's file and line, and typed errors carry a Kind so callers can tell
// a per-exchange failure from a connection-wide one.
package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Spawn means the backend process could not be launched.
	Spawn Kind = "spawn"
	// Framing means an inbound line was not valid JSON.
	Framing Kind = "framing"
	// InvalidQuery means an editor query was missing its id or query name,
	// named an unknown query, or carried a malformed payload.
	InvalidQuery Kind = "invalid_query"
	// Capability means the editor capability failed while answering a query.
	Capability Kind = "capability"
	// Write means a line could not be written to the backend.
	Write Kind = "write"
	// UnexpectedExit means the backend terminated without being asked to.
	UnexpectedExit Kind = "unexpected_exit"
)

// E wraps an error with a kind and a human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

// Is reports whether target is an *E of the same kind, so
// errors.Is(err, &E{Kind: Write}) matches any write failure.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func Typed(kind Kind, msg string) *E           { return &E{Kind: kind, Message: msg} }
func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }

// KindOf returns the kind of the first *E in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Sentinel returns a plain comparable error for package-level error values.
// Unlike New it records no location.
func Sentinel(text string) error { return stderrors.New(text) }

func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Unwrap(err error) error        { return stderrors.Unwrap(err) }
