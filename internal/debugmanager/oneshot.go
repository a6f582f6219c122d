package debugmanager

import (
	"regexp"
	"strconv"
	"time"

	"github.com/wtdbg/wtdbg/internal/debugsession"
)

var reStopByMarker = regexp.MustCompile(`Stop by #(\d+)`)

// CleanupOneShots implements the supplemental one-shot breakpoint
// lifecycle (SPEC_FULL §6.1): after any round trip whose output contains
// a `Stop by #N` marker for a registered one-shot index N, issue a
// delete for N and remove it from the set. Idempotent — calling it when
// nothing matched is a no-op.
func CleanupOneShots(sess *debugsession.Session, output string, timeout time.Duration) {
	for _, m := range reStopByMarker.FindAllStringSubmatch(output, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !sess.IsOneShot(n) {
			continue
		}
		if _, err := sess.SendCommand("delete "+m[1], timeout); err == nil {
			sess.UnregisterOneShot(n)
		}
	}
}
