package debugsession

import (
	"regexp"
	"strconv"
	"time"

	"github.com/wtdbg/wtdbg/internal/logger"
	"github.com/wtdbg/wtdbg/internal/protocol"
)

var reBreakpointIndex = regexp.MustCompile(`#(\d+)\s`)

const (
	cleanupRestoreStdoutCmd = "eval $stdout = STDOUT"
	cleanupListBreakCmd     = "break"
	cleanupRestoreSigCmd    = "eval Signal.trap('INT', 'DEFAULT')"
	cleanupStepCap          = 2 * time.Second
	cleanupSettleWait       = 2 * time.Second
)

// Cleanup runs the six-step resume-before-disconnect sequence (C5), best
// effort: a failure at any step does not abort the rest. Returns once the
// target is either confirmed resumed or the hard deadline passes.
// stalePauseRetries bounds the defense loop in step 6.
func (s *Session) Cleanup(deadline time.Time, stalePauseRetries int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Disconnected {
		return
	}

	step := func() time.Duration {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0
		}
		if remaining > cleanupStepCap {
			return cleanupStepCap
		}
		return remaining
	}

	// 1. Restore the redirected stdout global, if rewritten by a prior eval.
	s.bestEffortCommandLocked(cleanupRestoreStdoutCmd, step())

	// 2. Delete every breakpoint.
	s.deleteAllBreakpointsLocked(step())

	// 3. Restore the original interrupt-signal handler.
	s.bestEffortCommandLocked(cleanupRestoreSigCmd, step())

	// 4. Forced continue, bypassing the Paused precondition.
	s.forceContinueLocked(step())

	// 5. Wait for the backend to settle before the caller closes the socket.
	if remaining := time.Until(deadline); remaining > 0 {
		wait := cleanupSettleWait
		if remaining < wait {
			wait = remaining
		}
		s.settleLocked(wait)
	}

	// 6. Stale-pause defense: repeat delete-all + continue up to a bounded
	// retry count if a buffered pause request re-enters Paused.
	for i := 0; i < stalePauseRetries; i++ {
		if time.Now().After(deadline) {
			break
		}
		s.drainLocked()
		if s.state != Paused && s.state != TrapPaused {
			break
		}
		s.deleteAllBreakpointsLocked(step())
		s.forceContinueLocked(step())
	}
}

// deleteAllBreakpointsLocked queries the backend's breakpoint listing,
// parses each #N index, and issues a delete per index. The most critical
// cleanup step: a forgotten breakpoint re-pauses a resumed daemon with
// nobody listening.
func (s *Session) deleteAllBreakpointsLocked(timeout time.Duration) {
	if timeout <= 0 || s.state == Disconnected {
		return
	}
	listing := s.bestEffortCommandLocked(cleanupListBreakCmd, timeout)
	matches := reBreakpointIndex.FindAllStringSubmatch(listing, -1)
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		s.bestEffortCommandLocked("delete "+m[1], timeout)
		delete(s.OneShotBreakpoints, n)
	}
}

// bestEffortCommandLocked writes a command frame and reads until input,
// swallowing any error (cleanup's contract: best-effort). Caller holds
// s.mu. Only meaningful when the session is currently Paused-family;
// otherwise it's a no-op.
func (s *Session) bestEffortCommandLocked(payload string, timeout time.Duration) string {
	if timeout <= 0 {
		return ""
	}
	if s.state != Paused && s.state != TrapPaused {
		return ""
	}
	if err := s.codec.WriteCommand(s.PID, s.Width, payload); err != nil {
		logger.Debug("cleanup command write failed", "session_id", s.ID, "err", err)
		return ""
	}
	deadline := time.Now().Add(timeout)
	var out []byte
	for {
		f, err := s.codec.ReadFrame(deadline)
		if err != nil {
			return string(out)
		}
		switch f.Kind {
		case protocol.KindOut:
			out = append(out, f.Text...)
			out = append(out, '\n')
		case protocol.KindAsk:
			_ = s.codec.WriteAnswer(f.AskID)
		case protocol.KindInput:
			s.PID = f.PID
			return string(out)
		case protocol.KindQuit:
			s.transitionDisconnectedLocked(nil)
			return string(out)
		}
	}
}

// forceContinueLocked issues `c` regardless of the Paused precondition —
// needed when a prior timeout left the state flag inconsistent.
func (s *Session) forceContinueLocked(timeout time.Duration) {
	if timeout <= 0 || s.state == Disconnected {
		return
	}
	if err := s.codec.WriteCommand(s.PID, s.Width, "c"); err != nil {
		logger.Debug("cleanup forced continue failed", "session_id", s.ID, "err", err)
		return
	}
	s.state = Running
}

// settleLocked waits for the backend's internal reader to catch up before
// the caller closes the socket, absorbing any output or a late input/pause
// without raising.
func (s *Session) settleLocked(wait time.Duration) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		f, err := s.codec.ReadFrame(deadline)
		if err != nil {
			return
		}
		switch f.Kind {
		case protocol.KindInput:
			s.PID = f.PID
			s.state = Paused
		case protocol.KindAsk:
			_ = s.codec.WriteAnswer(f.AskID)
		case protocol.KindQuit:
			s.transitionDisconnectedLocked(nil)
			return
		}
	}
}
