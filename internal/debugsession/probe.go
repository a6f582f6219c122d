package debugsession

import (
	"strings"
	"time"

	"github.com/wtdbg/wtdbg/internal/protocol"
)

// trapProbeExpr is the single swappable probe expression used to detect
// whether the backend is pinned in trap context: it attempts to allocate
// and lock a fresh mutex, which a host debugger typically refuses to run
// from a signal-handler context. Documented as advisory, not guaranteed —
// a different backend's refusal text can be substituted here without
// touching any caller.
const trapProbeExpr = "eval Mutex.new.lock"

// trapRestrictionMarkers are substrings a backend's error payload uses to
// report that an operation is unsafe from its current (trap) context.
var trapRestrictionMarkers = []string{
	"can't be called from trap context",
	"BUG: trap context",
	"ThreadError",
}

// probeTrapContextLocked sends the probe expression and classifies the
// response. Caller must hold s.mu and the session must be Paused-family.
func (s *Session) probeTrapContextLocked(timeout time.Duration) TrapContext {
	if err := s.codec.WriteCommand(s.PID, s.Width, trapProbeExpr); err != nil {
		return s.TrapContext
	}

	deadline := time.Now().Add(timeout)
	var out strings.Builder
	for {
		f, err := s.codec.ReadFrame(deadline)
		if err != nil {
			return s.TrapContext
		}
		switch f.Kind {
		case protocol.KindOut:
			out.WriteString(f.Text)
		case protocol.KindAsk:
			_ = s.codec.WriteAnswer(f.AskID)
		case protocol.KindInput:
			s.PID = f.PID
			text := out.String()
			for _, marker := range trapRestrictionMarkers {
				if strings.Contains(text, marker) {
					return TrapTrap
				}
			}
			return TrapNormal
		case protocol.KindQuit:
			s.transitionDisconnectedLocked(nil)
			return s.TrapContext
		}
	}
}

// Next issues a `next` step command and, on success, re-probes trap
// context: per spec, TrapPaused only transitions back to Paused when a
// `next` succeeds AND the probe subsequently confirms no trap
// restriction. A still-trapped probe leaves the session TrapPaused.
func (s *Session) Next(timeout time.Duration) (string, error) {
	out, err := s.SendCommand("next", timeout)
	if err != nil {
		return out, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != TrapPaused {
		return out, nil
	}
	switch s.probeTrapContextLocked(timeout) {
	case TrapNormal:
		s.state = Paused
		s.TrapContext = TrapNormal
	default:
		s.TrapContext = TrapTrap
	}
	return out, nil
}
