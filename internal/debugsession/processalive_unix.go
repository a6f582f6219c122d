//go:build unix

package debugsession

import "syscall"

// ProcessAlive reports whether ProcessHandle still refers to a live
// process, via POSIX's zero-signal liveness probe: sending signal 0
// performs error checking (ESRCH if the PID is gone) without actually
// delivering a signal. Callers must first check ProcessHandle != nil;
// this exists only to isolate the unix-only syscall import.
func (s *Session) ProcessAlive() bool {
	return s.ProcessHandle.Signal(syscall.Signal(0)) == nil
}
