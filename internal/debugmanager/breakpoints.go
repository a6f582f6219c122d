package debugmanager

import (
	"strings"
	"time"

	"github.com/wtdbg/wtdbg/internal/debugsession"
)

// RecordSpec adds a breakpoint spec, deduplicated by exact string
// equality. record(s); record(s) yields the same set as one call.
func (m *Manager) RecordSpec(spec string) {
	m.specsM.Lock()
	defer m.specsM.Unlock()
	for _, s := range m.specs {
		if s == spec {
			return
		}
	}
	m.specs = append(m.specs, spec)
}

// ClearSpecs removes every recorded spec.
func (m *Manager) ClearSpecs() {
	m.specsM.Lock()
	defer m.specsM.Unlock()
	m.specs = nil
}

// RemoveSpecsMatching removes every recorded spec containing substr.
// Idempotent: calling it twice in a row is the same as calling it once.
func (m *Manager) RemoveSpecsMatching(substr string) {
	m.specsM.Lock()
	defer m.specsM.Unlock()
	kept := m.specs[:0]
	for _, s := range m.specs {
		if !strings.Contains(s, substr) {
			kept = append(kept, s)
		}
	}
	m.specs = kept
}

// Specs returns a snapshot of the recorded breakpoint specs.
func (m *Manager) Specs() []string {
	m.specsM.Lock()
	defer m.specsM.Unlock()
	out := make([]string, len(m.specs))
	copy(out, m.specs)
	return out
}

// RestoreOn replays every recorded spec into a freshly connected session,
// so relaunching a target can opt in to its previous breakpoints.
func (m *Manager) RestoreOn(sess *debugsession.Session, timeout time.Duration) []error {
	specs := m.Specs()
	var errs []error
	for _, spec := range specs {
		if _, err := sess.SendCommand(spec, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
