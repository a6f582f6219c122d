package debugsession

import (
	"strings"
	"time"

	"github.com/wtdbg/wtdbg/internal/dbgerr"
	"github.com/wtdbg/wtdbg/internal/protocol"
)

// Outcome tags the result of ContinueAndWait. Using a tagged result
// instead of raising on deadline lets the caller decide whether to join
// a concurrent background task, per spec's "never use non-local control
// flow to leak across the session mutex" guidance.
type Outcome int

const (
	Breakpoint Outcome = iota
	Interrupted
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Breakpoint:
		return "Breakpoint"
	case Interrupted:
		return "Interrupted"
	case TimedOut:
		return "Timeout"
	default:
		return "unknown"
	}
}

const pollTick = 500 * time.Millisecond

// ContinueAndWait sends `c`, marks the session Running, then polls the
// socket at a 500ms tick, checking interrupt() between ticks (C4.1).
func (s *Session) ContinueAndWait(timeout time.Duration, interrupt func() bool, graceWindow time.Duration) (Outcome, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainLocked()

	switch s.state {
	case Disconnected:
		return TimedOut, "", dbgerr.New(dbgerr.Session, s.ID, "NotConnected: no active session")
	case Running:
		return TimedOut, "", dbgerr.New(dbgerr.Session, s.ID, "NotPaused: session already running")
	}

	if err := s.codec.WriteCommand(s.PID, s.Width, "c"); err != nil {
		s.transitionDisconnectedLocked(err)
		return TimedOut, "", dbgerr.Wrap(dbgerr.Connection, s.ID, "write continue", err)
	}
	s.state = Running
	s.TrapContext = TrapNormal

	var out strings.Builder
	deadline := time.Now().Add(timeout)

	for {
		outcome, done, err := s.pollOnceLocked(&out, deadline)
		if err != nil {
			return TimedOut, out.String(), err
		}
		if done {
			return outcome, out.String(), nil
		}
		if interrupt != nil && interrupt() {
			// Before honoring the interrupt, a final non-blocking drain may
			// still surface an unclaimed input — that upgrade takes priority
			// over caller responsiveness.
			if f := s.tryReadInputLocked(&out); f {
				s.touch()
				return Breakpoint, out.String(), nil
			}
			return Interrupted, out.String(), nil
		}
		if time.Now().After(deadline) {
			break
		}
	}

	// Deadline passed with no interrupt fired. Enter the grace window:
	// the backend may still be mid-flight with output already in transit.
	graceDeadline := time.Now().Add(graceWindow)
	for time.Now().Before(graceDeadline) {
		outcome, done, err := s.pollOnceLocked(&out, graceDeadline)
		if err != nil {
			return TimedOut, out.String(), err
		}
		if done {
			return outcome, out.String(), nil
		}
	}

	return TimedOut, out.String(), nil
}

// pollOnceLocked reads one frame with a per-tick sub-deadline bounded by
// the outer deadline, accumulating out text. done=true means a terminal
// frame (input, quit, or a real error) was reached.
func (s *Session) pollOnceLocked(out *strings.Builder, outerDeadline time.Time) (Outcome, bool, error) {
	tickDeadline := time.Now().Add(pollTick)
	if tickDeadline.After(outerDeadline) {
		tickDeadline = outerDeadline
	}

	f, err := s.codec.ReadFrame(tickDeadline)
	if err != nil {
		if err == protocol.ErrNoData {
			return 0, false, nil
		}
		s.transitionDisconnectedLocked(err)
		return 0, true, dbgerr.Wrap(dbgerr.Connection, s.ID, "read", err)
	}

	switch f.Kind {
	case protocol.KindOut:
		out.WriteString(f.Text)
		out.WriteString("\n")
		return 0, false, nil
	case protocol.KindAsk:
		_ = s.codec.WriteAnswer(f.AskID)
		return 0, false, nil
	case protocol.KindInput:
		s.PID = f.PID
		s.state = Paused
		s.TrapContext = TrapNormal
		s.touch()
		return Breakpoint, true, nil
	case protocol.KindQuit:
		s.transitionDisconnectedLocked(nil)
		return 0, true, dbgerr.New(dbgerr.Session, s.ID, "backend quit while running")
	}
	return 0, false, nil
}

// tryReadInputLocked performs one final non-blocking drain looking for an
// unclaimed input frame, used to decide Interrupted vs Breakpoint.
func (s *Session) tryReadInputLocked(out *strings.Builder) bool {
	for {
		f, err := s.codec.ReadFrame(time.Now())
		if err != nil {
			return false
		}
		switch f.Kind {
		case protocol.KindOut:
			out.WriteString(f.Text)
			out.WriteString("\n")
		case protocol.KindAsk:
			_ = s.codec.WriteAnswer(f.AskID)
		case protocol.KindInput:
			s.PID = f.PID
			s.state = Paused
			s.TrapContext = TrapNormal
			return true
		case protocol.KindQuit:
			s.transitionDisconnectedLocked(nil)
			return false
		}
	}
}

// Repause drains buffered data, and if still Running, writes the
// out-of-band pause frame and awaits input (C4.2), skipping any out lines
// that arrive first; an ask or quit before input fails it. Success latches
// TrapPaused, since the backend's pause mechanism delivers a signal that
// lands in trap context. Failure leaves the session Running.
func (s *Session) Repause(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainLocked()

	if s.state != Running {
		return nil
	}

	if err := s.codec.WritePause(); err != nil {
		s.transitionDisconnectedLocked(err)
		return dbgerr.Wrap(dbgerr.Connection, s.ID, "write pause", err)
	}

	deadline := time.Now().Add(timeout)
	var f *protocol.Frame
	for {
		var err error
		f, err = s.codec.ReadFrame(deadline)
		if err != nil {
			if err == protocol.ErrNoData {
				return dbgerr.New(dbgerr.Timeout, s.ID, "repause: no input frame within budget")
			}
			s.transitionDisconnectedLocked(err)
			return dbgerr.Wrap(dbgerr.Connection, s.ID, "repause read", err)
		}
		if f.Kind != protocol.KindOut {
			break
		}
	}
	if f.Kind != protocol.KindInput {
		return dbgerr.New(dbgerr.Session, s.ID, "repause: unexpected frame before input")
	}

	s.PID = f.PID
	s.state = TrapPaused
	s.TrapContext = TrapTrap
	s.touch()
	return nil
}

// AutoRepause is a policy: no-op if already Paused-family, else attempt
// Repause; on failure it raises a structured error naming that the target
// may be blocked on I/O (C4.3). Invoked by read-only tool operations to
// tolerate sessions the caller accidentally left Running.
func (s *Session) AutoRepause(timeout time.Duration) error {
	if s.Paused() {
		return nil
	}
	if err := s.Repause(timeout); err != nil {
		return dbgerr.Wrap(dbgerr.Session, s.ID, "target may be blocked on I/O", err)
	}
	return nil
}

// EnsurePaused is the passive variant used when a breakpoint hit may be
// in flight: it never writes anything, only drains with a deadline and
// updates state.
func (s *Session) EnsurePaused(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f, err := s.codec.ReadFrame(deadline)
		if err != nil {
			return
		}
		switch f.Kind {
		case protocol.KindInput:
			s.PID = f.PID
			if s.state != TrapPaused {
				s.state = Paused
			}
			s.touch()
			return
		case protocol.KindAsk:
			_ = s.codec.WriteAnswer(f.AskID)
		case protocol.KindQuit:
			s.transitionDisconnectedLocked(nil)
			return
		}
	}
}
