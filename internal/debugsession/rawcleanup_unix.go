//go:build unix

package debugsession

import (
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// RawCleanup is the signal-safe cleanup variant (C5 "signal-trap
// variant"): callable from a process-signal handler context, so it takes
// no locks and performs no allocation-heavy setup. It writes delete frames
// for breakpoint indices 0..maxSlots-1 directly on the raw file
// descriptor via unix.Write (bypassing net.Conn's buffered/poller-backed
// write path, so there is no buffer left to flush), then a forced
// continue, and sleeps 300ms before
// the caller closes the socket. Logging is deferred until after the raw
// write, never interleaved with it.
func (s *Session) RawCleanup(maxSlots int) {
	fd, ok := s.codec.RawFD()
	if !ok {
		return
	}

	for n := 0; n < maxSlots; n++ {
		line := "command " + s.PID + " " + strconv.Itoa(s.Width) + " delete " + strconv.Itoa(n) + "\n"
		_, _ = unix.Write(int(fd), []byte(line))
	}
	cont := "command " + s.PID + " " + strconv.Itoa(s.Width) + " c\n"
	_, _ = unix.Write(int(fd), []byte(cont))

	time.Sleep(300 * time.Millisecond)
}
