// Package debugmanager implements the multi-session registry: connect,
// client lookup, disconnect, disconnect-all, the idle reaper, the
// recently-reaped diagnostic cache, and breakpoint-spec persistence — C6
// of the debug session protocol engine.
package debugmanager

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/wtdbg/wtdbg/internal/dbgerr"
	"github.com/wtdbg/wtdbg/internal/debugsession"
)

// ReapedEntry is a recently-reaped diagnostic record, retained for ten
// minutes so a later reference to the session produces a diagnostic
// rather than an opaque "not found".
type ReapedEntry struct {
	SessionID string
	Reason    debugsession.ReapReason
	PID       string
	ReapedAt  time.Time
}

const reapedEntryTTL = 10 * time.Minute

// ConnectOptions describes a new connection request.
type ConnectOptions struct {
	// SessionID, if set, is the explicit id to register under; otherwise
	// one is derived from the PID (or a fresh uuid if PID is unknown yet).
	SessionID string `mapstructure:"session_id"`
	// Network is "unix" or "tcp".
	Network string `mapstructure:"network"`
	// Address is a filesystem socket path (for "unix") or host:port
	// (for "tcp").
	Address string `mapstructure:"address"`
	// DialTimeout bounds opening the transport and the initial greeting.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// ExpectedPID, if the collaborator already knows it, lets pre-cleanup
	// match and close a prior session on the same target PID even when
	// the new connection arrives over a different transport endpoint.
	ExpectedPID string `mapstructure:"expected_pid"`
	// GreetingVersion/Width/Cookie are the C1 greeting parameters.
	GreetingVersion string `mapstructure:"greeting_version"`
	GreetingWidth   string `mapstructure:"greeting_width"`
	GreetingCookie  string `mapstructure:"greeting_cookie"`
}

// Manager is the multi-session registry. The registry mutex is held only
// for bookkeeping, never across socket I/O — the reaper releases it
// before issuing any protocol traffic on a stale session.
type Manager struct {
	mu             sync.Mutex
	sessions       map[string]*debugsession.Session
	defaultID      string
	recentlyReaped map[string]ReapedEntry

	specsM sync.Mutex
	specs  []string // breakpoint specs, in insertion order, deduped

	idleTimeout       time.Duration
	stalePauseRetries int
	maxOneShotSlots   int

	onEvent func(Event)
}

// Event is pushed to an optional observer (the control API's websocket
// feed) when Connect registers a session, when Disconnect removes one, and
// when the reaper reaps one.
type Event struct {
	Type      string // "connected", "disconnected", "reaped"
	SessionID string
	Detail    string
	At        time.Time
}

// New builds an empty Manager.
func New(idleTimeout time.Duration, stalePauseRetries, maxOneShotSlots int) *Manager {
	return &Manager{
		sessions:          make(map[string]*debugsession.Session),
		recentlyReaped:    make(map[string]ReapedEntry),
		idleTimeout:       idleTimeout,
		stalePauseRetries: stalePauseRetries,
		maxOneShotSlots:   maxOneShotSlots,
	}
}

// OnEvent registers an observer called (from the caller's own goroutine —
// never under the manager lock) whenever a lifecycle event happens.
func (m *Manager) OnEvent(fn func(Event)) { m.onEvent = fn }

func (m *Manager) emit(ev Event) {
	if m.onEvent != nil {
		ev.At = time.Now()
		m.onEvent(ev)
	}
}

// Connect establishes a new session (C6 connect). Before opening the new
// byte stream it performs pre-cleanup: any existing session with the same
// explicit id, the same target PID, or attached to the same TCP port is
// closed first, because a second attach to a backend while the first
// still holds the stream will hang.
func (m *Manager) Connect(opts ConnectOptions) (*debugsession.Session, error) {
	m.preCleanup(opts)

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.Dial(opts.Network, opts.Address)
	if err != nil {
		return nil, dbgerr.Wrap(dbgerr.Connection, opts.SessionID, "dial backend", err)
	}

	if _, err := conn.Write([]byte(fmt.Sprintf("version: %s width: %s cookie: %s nonstop: false\n",
		opts.GreetingVersion, opts.GreetingWidth, opts.GreetingCookie))); err != nil {
		conn.Close()
		return nil, dbgerr.Wrap(dbgerr.Connection, opts.SessionID, "write greeting", err)
	}

	pid, err := awaitGreetingInput(conn, opts.DialTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	id := opts.SessionID
	if id == "" {
		if pid != "" {
			id = "pid-" + pid
		} else {
			id = uuid.New().String()[:8]
		}
	}

	sess := debugsession.New(id, conn, opts.Network, pid)

	m.mu.Lock()
	m.sessions[id] = sess
	m.defaultID = id
	m.mu.Unlock()

	m.emit(Event{Type: "connected", SessionID: id, Detail: "pid " + pid})
	return sess, nil
}

// preCleanup closes any existing session that would conflict with a new
// connection: same explicit id, same transport endpoint (a second attach
// to the same backend while the first still holds the byte stream would
// hang), or same known target PID.
func (m *Manager) preCleanup(opts ConnectOptions) {
	m.mu.Lock()
	var toClose []*debugsession.Session
	for id, sess := range m.sessions {
		sameEndpoint := sess.ConnectedVia == opts.Network && sess.Endpoint == opts.Address
		samePID := opts.ExpectedPID != "" && sess.PID == opts.ExpectedPID
		conflict := (opts.SessionID != "" && id == opts.SessionID) || sameEndpoint || samePID
		if conflict {
			toClose = append(toClose, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range toClose {
		deadline := time.Now().Add(5 * time.Second)
		sess.Cleanup(deadline, m.stalePauseRetries)
		sess.Close()
	}
}

// awaitGreetingInput reads frames until the first input frame (yielding
// the target PID) or the dial timeout expires.
func awaitGreetingInput(conn net.Conn, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", dbgerr.Wrap(dbgerr.Connection, "", "set deadline", err)
	}
	buf := make([]byte, 4096)
	var acc strings.Builder
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
		}
		if idx := strings.Index(acc.String(), "input "); idx >= 0 {
			rest := acc.String()[idx+len("input "):]
			if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
				return strings.TrimSpace(rest[:nl]), nil
			}
		}
		if err != nil {
			return "", dbgerr.New(dbgerr.Connection, "", "greeting never produced input within timeout")
		}
	}
}

// Client returns a reference to a session, touching its last-activity
// time. If the id is unknown, it checks the recently-reaped cache and
// returns a structured diagnostic naming the reap reason and elapsed
// time; otherwise a plain "not found".
func (m *Manager) Client(sessionID string) (*debugsession.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneReapedLocked()

	id := sessionID
	if id == "" {
		id = m.defaultID
	}
	if id == "" {
		return nil, dbgerr.New(dbgerr.Session, "", "no active session")
	}

	sess, ok := m.sessions[id]
	if ok {
		sess.Touch()
		return sess, nil
	}

	if entry, ok := m.recentlyReaped[id]; ok {
		age := humanize.Time(entry.ReapedAt)
		if age == "now" {
			// go-humanize renders sub-second ages as a bare "now".
			age = "less than a second ago"
		}
		return nil, dbgerr.New(dbgerr.Session, id, fmt.Sprintf(
			"was automatically disconnected after %s of inactivity (%s, reason: %s)",
			humanizeDuration(m.idleTimeout), age, entry.Reason))
	}

	return nil, dbgerr.New(dbgerr.Session, id, "not found")
}

// humanizeDuration renders a duration the way spec.md's worked examples
// write it ("30m", not Go's own "30m0s"). go-humanize has no plain-duration
// formatter (its Time/RelTime helpers work relative to a clock, which is
// what backs the "(%s, reason: ...)" age above), so this trims the
// trailing zero-seconds component stdlib's Duration.String always emits.
func humanizeDuration(d time.Duration) string {
	s := d.Round(time.Second).String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	return s
}

// Disconnect removes the session from the registry and closes it,
// reassigning the default pointer to any surviving session.
func (m *Manager) Disconnect(sessionID string) error {
	m.mu.Lock()
	id := sessionID
	if id == "" {
		id = m.defaultID
	}
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if m.defaultID == id {
			m.defaultID = ""
			for otherID := range m.sessions {
				m.defaultID = otherID
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return dbgerr.New(dbgerr.Session, id, "not found")
	}

	deadline := time.Now().Add(5 * time.Second)
	sess.Cleanup(deadline, m.stalePauseRetries)
	sess.Close()
	for _, p := range []string{sess.StdoutCapturePath, sess.StderrCapturePath} {
		if p != "" {
			_ = os.Remove(p)
		}
	}

	m.emit(Event{Type: "disconnected", SessionID: id})
	return nil
}

// DisconnectAll is idempotent: it takes the manager lock briefly to
// snapshot and empty the registry, then writes raw cleanup frames per
// session, sleeps, and closes every socket. It does not bypass the manager
// lock; only the DisconnectAllFast part that follows the snapshot is
// lock-free. cmd/wtdbg's serve calls it from its signal-watching goroutine.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	sessions := make([]*debugsession.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*debugsession.Session)
	m.defaultID = ""
	m.mu.Unlock()

	DisconnectAllFast(sessions, m.maxOneShotSlots)
}

// DisconnectAllFast performs the actual signal-safe raw cleanup over an
// already-snapshotted session slice: no lock acquisitions, no allocations
// beyond what RawCleanup itself needs, a single bounded sleep per
// session's raw write, then closes every socket. This is the function a
// signal handler should call directly against a slice captured ahead of
// time.
func DisconnectAllFast(sessions []*debugsession.Session, maxOneShotSlots int) {
	for _, sess := range sessions {
		sess.RawCleanup(maxOneShotSlots)
	}
	for _, sess := range sessions {
		_ = sess.Close()
	}
}

// Snapshot returns the current session slice, for arming a signal handler
// ahead of time against DisconnectAllFast.
func (m *Manager) Snapshot() []*debugsession.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*debugsession.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// List returns all currently registered session ids.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) pruneReapedLocked() {
	now := time.Now()
	for id, entry := range m.recentlyReaped {
		if now.Sub(entry.ReapedAt) > reapedEntryTTL {
			delete(m.recentlyReaped, id)
		}
	}
}

func (m *Manager) recordReaped(id string, reason debugsession.ReapReason, pid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentlyReaped[id] = ReapedEntry{SessionID: id, Reason: reason, PID: pid, ReapedAt: time.Now()}
}
