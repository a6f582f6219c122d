package debugsession

import (
	"strings"
	"time"

	"github.com/wtdbg/wtdbg/internal/dbgerr"
	"github.com/wtdbg/wtdbg/internal/logger"
	"github.com/wtdbg/wtdbg/internal/protocol"
)

// SendCommand is the single synchronous request/response primitive (C3).
// It drains stale data, writes the command, and reads out lines until the
// terminating input frame. On success it returns the accumulated output
// and the session remains Paused. On Timeout the session's authoritative
// state is left as-is (inconsistent by design) and Timeout is always
// raised rather than returning partial output — the next call's drain
// reconciles it.
func (s *Session) SendCommand(payload string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainLocked()

	switch s.state {
	case Disconnected:
		return "", dbgerr.New(dbgerr.Session, s.ID, "NotConnected: no active session")
	case Running:
		return "", dbgerr.New(dbgerr.Session, s.ID, "NotPaused: session is running")
	}

	if s.RateLimiter != nil && !s.RateLimiter.Allow() {
		return "", dbgerr.New(dbgerr.Backend, s.ID, "command rate limit exceeded")
	}

	if err := s.codec.WriteCommand(s.PID, s.Width, payload); err != nil {
		s.transitionDisconnectedLocked(err)
		return "", dbgerr.Wrap(dbgerr.Connection, s.ID, "write command", err)
	}

	deadline := time.Now().Add(timeout)
	var out strings.Builder

	for {
		f, err := s.codec.ReadFrame(deadline)
		if err != nil {
			if err == protocol.ErrNoData {
				return "", dbgerr.New(dbgerr.Timeout, s.ID, "no input frame within budget")
			}
			s.transitionDisconnectedLocked(err)
			return "", dbgerr.Wrap(dbgerr.Connection, s.ID, "read", err)
		}

		switch f.Kind {
		case protocol.KindOut:
			out.WriteString(f.Text)
			out.WriteString("\n")
		case protocol.KindAsk:
			if werr := s.codec.WriteAnswer(f.AskID); werr != nil {
				s.transitionDisconnectedLocked(werr)
				return "", dbgerr.Wrap(dbgerr.Connection, s.ID, "answer ask", werr)
			}
		case protocol.KindInput:
			s.PID = f.PID
			s.touch()
			return out.String(), nil
		case protocol.KindQuit:
			s.transitionDisconnectedLocked(nil)
			return out.String(), dbgerr.New(dbgerr.Session, s.ID, "backend quit mid-command")
		}
	}
}

// drainLocked performs the non-blocking stale-data drain required before
// every command: it consumes any buffered out lines (discarded — they
// belong to a previously timed-out or interrupted command), answers any
// buffered ask, and if it finds a trailing input frame, treats it as the
// authoritative new pause state. Caller must hold s.mu.
func (s *Session) drainLocked() {
	for {
		f, err := s.codec.ReadFrame(time.Now())
		if err != nil {
			if err == protocol.ErrNoData {
				return
			}
			s.transitionDisconnectedLocked(err)
			return
		}

		switch f.Kind {
		case protocol.KindInput:
			s.PID = f.PID
			if s.state != TrapPaused {
				s.state = Paused
			}
			s.touch()
		case protocol.KindAsk:
			_ = s.codec.WriteAnswer(f.AskID)
		case protocol.KindQuit:
			s.transitionDisconnectedLocked(nil)
			return
		case protocol.KindOut:
			// Stale output from a prior round trip; discarded by design.
		}
	}
}

// transitionDisconnectedLocked moves the session to Disconnected and
// closes its stream. A session never transitions back. Caller must hold
// s.mu.
func (s *Session) transitionDisconnectedLocked(cause error) {
	if s.state == Disconnected {
		return
	}
	s.state = Disconnected
	if cause != nil {
		s.LastError = cause
	}
	if err := s.codec.Close(); err != nil {
		logger.Debug("session close on disconnect", "session_id", s.ID, "err", err)
	}
}
