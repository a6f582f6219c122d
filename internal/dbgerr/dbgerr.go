// Package dbgerr defines the four disjoint error kinds used across the
// debug session protocol engine: Connection, Session, Timeout, Backend.
package dbgerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the four disjoint categories
// named in the protocol's error handling design.
type Kind int

const (
	// Connection covers transport open/lost/refused/EOF failures.
	Connection Kind = iota
	// Session covers no-active-session, wrong-session, session-ended,
	// and not-paused failures.
	Session
	// Timeout covers "no response within budget".
	Timeout
	// Backend covers an error payload returned by the debugger backend
	// itself, surfaced verbatim.
	Backend
)

func (k Kind) String() string {
	switch k {
	case Connection:
		return "Connection"
	case Session:
		return "Session"
	case Timeout:
		return "Timeout"
	case Backend:
		return "Backend"
	default:
		return "Unknown"
	}
}

// Error is a typed error carrying one of the four kinds plus the
// session it concerns, so callers can react on kind alone with
// errors.As while still getting a readable message.
type Error struct {
	Kind      Kind
	SessionID string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: session %s: %s", e.Kind, e.SessionID, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, dbgerr.Connection) work by comparing kinds when
// the target is itself a *Error with no message (a bare kind sentinel).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Msg == "" && t.SessionID == ""
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, sessionID, msg string) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Msg: msg}
}

// Wrap builds an *Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, sessionID, msg string, err error) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Msg: msg, Err: err}
}

// sentinel kind errors usable with errors.Is(err, dbgerr.IsConnection) etc.
var (
	IsConnection = &Error{Kind: Connection}
	IsSession    = &Error{Kind: Session}
	IsTimeout    = &Error{Kind: Timeout}
	IsBackend    = &Error{Kind: Backend}
)

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
