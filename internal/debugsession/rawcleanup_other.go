//go:build !unix

package debugsession

import "time"

// RawCleanup falls back to the locked best-effort cleanup on platforms
// without a unix.Write raw-fd path. It is not signal-safe there: it takes
// the session lock and runs the full protocol round trips. cmd/wtdbg's
// serve wires the same SIGINT/SIGTERM handling on every platform, so on
// these platforms its shutdown path goes through this locked cleanup.
func (s *Session) RawCleanup(maxSlots int) {
	s.Cleanup(time.Now().Add(500*time.Millisecond), 0)
}
