package debugmanager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wtdbg/wtdbg/internal/debugsession"
	"github.com/wtdbg/wtdbg/internal/logger"
)

const reaperStaleDeadline = 5 * time.Second

// RunReaper wakes every tick and scans sessions, classifying each and
// passing stale ones through the resume-before-disconnect pipeline. It
// must not crash the service: any uncaught error is swallowed and the
// loop continues. Returns when ctx is canceled.
func (m *Manager) RunReaper(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

// reapOnce classifies every session into alive / process_died /
// socket_closed / idle_timeout, holding the manager lock only to snapshot
// the non-alive ids and remove them from the registry, releasing it before
// any per-session protocol I/O runs — the ordering guarantee in spec's
// concurrency model.
func (m *Manager) reapOnce() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("reaper: recovered from panic", "panic", r)
		}
	}()

	type staleEntry struct {
		id   string
		sess *debugsession.Session
	}

	m.mu.Lock()
	var stale []staleEntry
	for id, sess := range m.sessions {
		processDied := sess.ProcessHandle != nil && !sess.ProcessAlive()
		if sess.State() == debugsession.Disconnected || sess.IdleFor() > m.idleTimeout || processDied {
			stale = append(stale, staleEntry{id: id, sess: sess})
			delete(m.sessions, id)
			if m.defaultID == id {
				m.defaultID = ""
			}
		}
	}
	m.pruneReapedLocked()
	m.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	g := new(errgroup.Group)
	for _, entry := range stale {
		entry := entry
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("reaper: recovered from panic", "session_id", entry.id, "panic", r)
				}
			}()
			reason := debugsession.ReasonIdleTimeout
			switch {
			case entry.sess.State() == debugsession.Disconnected:
				reason = debugsession.ReasonSocketClosed
			case entry.sess.ProcessHandle != nil && !entry.sess.ProcessAlive():
				reason = debugsession.ReasonProcessDied
			}
			deadline := time.Now().Add(reaperStaleDeadline)
			entry.sess.Cleanup(deadline, m.stalePauseRetries)
			entry.sess.Close()
			m.recordReaped(entry.id, reason, entry.sess.PID)
			m.emit(Event{Type: "reaped", SessionID: entry.id, Detail: string(reason)})
			return nil
		})
	}
	// Join so one session's cleanup failure is logged without blocking or
	// aborting another's — errgroup just fans the work out concurrently;
	// Cleanup itself never returns an error (best-effort contract), so
	// this Wait can't actually fail, but it's the correct join point if
	// that contract ever changes.
	if err := g.Wait(); err != nil {
		logger.Warn("reaper: session cleanup reported an error", "err", err)
	}
}
