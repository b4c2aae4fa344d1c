package stories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported by the story runtime.
type ErrorKind string

const (
	// KindParseFailed indicates story text could not be parsed. The registry is unchanged.
	KindParseFailed ErrorKind = "parse_failed"

	// KindNotLoaded indicates the key is tracked but has no successfully parsed story.
	KindNotLoaded ErrorKind = "not_loaded"

	// KindKeyUnknown indicates the key was never tracked, or tracking was stopped.
	KindKeyUnknown ErrorKind = "key_unknown"

	// KindAccessConflict indicates a non-blocking operation found the runtime busy
	// with a tick.
	KindAccessConflict ErrorKind = "access_conflict"

	// KindStoryFailed indicates the story itself rejected the operation, such as an
	// out-of-range choice index.
	KindStoryFailed ErrorKind = "story_failed"
)

// Error is a classified story runtime error.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Key is the story key involved, or zero.
	Key Key

	// Op is the operation that failed.
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrParseFailed    = &Error{Kind: KindParseFailed}
	ErrNotLoaded      = &Error{Kind: KindNotLoaded}
	ErrKeyUnknown     = &Error{Kind: KindKeyUnknown}
	ErrAccessConflict = &Error{Kind: KindAccessConflict}
	ErrStoryFailed    = &Error{Kind: KindStoryFailed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != 0 {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, op string, key Key, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// IsNotLoaded returns true if err reports a tracked key without a parsed story.
func IsNotLoaded(err error) bool {
	return errors.Is(err, ErrNotLoaded)
}

// IsKeyUnknown returns true if err reports an untracked key.
func IsKeyUnknown(err error) bool {
	return errors.Is(err, ErrKeyUnknown)
}

// IsParseFailed returns true if err reports a parse failure.
func IsParseFailed(err error) bool {
	return errors.Is(err, ErrParseFailed)
}

// IsAccessConflict returns true if err reports a busy runtime.
func IsAccessConflict(err error) bool {
	return errors.Is(err, ErrAccessConflict)
}

// IsStoryFailed returns true if err reports an operation the story rejected.
func IsStoryFailed(err error) bool {
	return errors.Is(err, ErrStoryFailed)
}
