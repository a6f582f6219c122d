// Package debugsession implements the per-session state machine, command
// multiplexer, pause/resume controller, and cleanup sequence — C2 through
// C5 of the debug session protocol engine.
package debugsession

import (
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wtdbg/wtdbg/internal/protocol"
)

// State is the session's place in the Disconnected / Paused / Running /
// TrapPaused state machine.
type State int

const (
	Disconnected State = iota
	Paused
	Running
	TrapPaused
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Paused:
		return "paused"
	case Running:
		return "running"
	case TrapPaused:
		return "trap_paused"
	default:
		return "unknown"
	}
}

// TrapContext is the tri-state latched flag: unknown until the first
// continue or repause, then normal or trap thereafter.
type TrapContext int

const (
	TrapUnknown TrapContext = iota
	TrapNormal
	TrapTrap
)

// ReapReason classifies why the idle reaper removed a session, surfaced
// later by the recently-reaped diagnostic cache.
type ReapReason string

const (
	ReasonIdleTimeout  ReapReason = "idle_timeout"
	ReasonProcessDied  ReapReason = "process_died"
	ReasonSocketClosed ReapReason = "socket_closed"
)

// Session is one connected debugger backend. All mutable fields are
// guarded by mu; a command holds mu for the duration of one round trip,
// matching the "session-local mutex" ownership rule.
type Session struct {
	mu sync.Mutex

	ID             string
	Endpoint       string // socket path or host:port
	ConnectedVia   string // "unix" or "tcp"
	PID            string
	Width          int
	ConnectedAt    time.Time
	LastActivityAt time.Time

	state       State
	TrapContext TrapContext

	StdoutCapturePath string
	StderrCapturePath string
	ProcessHandle     *os.Process

	ScriptPath string
	ScriptArgs []string

	PendingHTTPSlot any

	AckedWarnings      map[string]struct{}
	OneShotBreakpoints map[int]struct{}

	// RateLimiter guards against a runaway automation client hammering
	// send_command in a tight loop; "friends and family" limits, just
	// enough to prevent abuse, not a hard backpressure mechanism.
	RateLimiter *rate.Limiter
	LastError   error

	codec *protocol.Codec
	conn  net.Conn
}

// New wraps an already-greeted connection as a fresh Paused session.
// Callers perform the greeting handshake (C1) before constructing this —
// New itself performs no I/O.
func New(id string, conn net.Conn, via string, pid string) *Session {
	now := time.Now()
	return &Session{
		ID:                 id,
		Endpoint:           conn.RemoteAddr().String(),
		ConnectedVia:       via,
		PID:                pid,
		Width:              80,
		ConnectedAt:        now,
		LastActivityAt:     now,
		state:              Paused,
		TrapContext:        TrapUnknown,
		AckedWarnings:      make(map[string]struct{}),
		OneShotBreakpoints: make(map[int]struct{}),
		RateLimiter:        rate.NewLimiter(rate.Limit(20), 5),
		codec:              protocol.New(conn),
		conn:               conn,
	}
}

// State returns the current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Paused reports whether the session is in a Paused-family state
// (Paused or TrapPaused).
func (s *Session) Paused() bool {
	st := s.State()
	return st == Paused || st == TrapPaused
}

func (s *Session) touch() {
	s.LastActivityAt = time.Now()
}

// Touch refreshes last-activity on a read-only reference to the session,
// e.g. a client() lookup that doesn't itself send a command — so a
// session the agent is actively inspecting isn't reaped as idle.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
}

// IdleFor returns how long the session has sat with no activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActivityAt)
}

// RegisterOneShot records a backend-assigned breakpoint index as one-shot.
func (s *Session) RegisterOneShot(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OneShotBreakpoints[n] = struct{}{}
}

// IsOneShot reports whether index n is registered as one-shot.
func (s *Session) IsOneShot(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.OneShotBreakpoints[n]
	return ok
}

// UnregisterOneShot removes index n from the one-shot set.
func (s *Session) UnregisterOneShot(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.OneShotBreakpoints, n)
}

// AcknowledgeWarning waives a safety-analysis warning category.
func (s *Session) AcknowledgeWarning(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AckedWarnings[category] = struct{}{}
}

// HasAcknowledged reports whether category was previously waived.
func (s *Session) HasAcknowledged(category string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.AckedWarnings[category]
	return ok
}

// Close closes the underlying byte stream. It does not remove the capture
// files; the Session Manager's Disconnect deletes them.
func (s *Session) Close() error {
	return s.codec.Close()
}
