package debugsession

import (
	"testing"
	"time"
)

func TestRepause_SendsPauseAndLatchesTrapPaused(t *testing.T) {
	sess, fb := newFakeBackend(t)
	sess.PID = "12345"
	sess.state = Running

	done := make(chan struct{})
	var err error
	go func() {
		err = sess.Repause(time.Second)
		close(done)
	}()

	fb.expectLine(t, "pause")
	fb.send(t, "input 12345")
	<-done

	if err != nil {
		t.Fatalf("Repause error: %v", err)
	}
	if sess.State() != TrapPaused {
		t.Fatalf("state = %v, want TrapPaused", sess.State())
	}
}

func TestRepause_NoopWhenAlreadyPaused(t *testing.T) {
	sess, _ := newFakeBackend(t)
	sess.PID = "12345"
	// newFakeBackend constructs a session already Paused.

	if err := sess.Repause(time.Second); err != nil {
		t.Fatalf("Repause error: %v", err)
	}
	if sess.State() != Paused {
		t.Fatalf("state = %v, want unchanged Paused", sess.State())
	}
}

func TestAutoRepause_NoopWhenPausedFamily(t *testing.T) {
	sess, _ := newFakeBackend(t)
	if err := sess.AutoRepause(time.Second); err != nil {
		t.Fatalf("AutoRepause error: %v", err)
	}
}

func TestAutoRepause_WrapsRepauseFailure(t *testing.T) {
	sess, fb := newFakeBackend(t)
	sess.PID = "12345"
	sess.state = Running

	done := make(chan struct{})
	var err error
	go func() {
		err = sess.AutoRepause(100 * time.Millisecond)
		close(done)
	}()

	fb.expectLine(t, "pause")
	// Backend never answers; Repause should time out and AutoRepause should
	// wrap that as a "may be blocked on I/O" diagnostic.
	<-done

	if err == nil {
		t.Fatalf("expected AutoRepause to surface the repause timeout")
	}
}

func TestEnsurePaused_DrainsAndLatchesPaused(t *testing.T) {
	sess, fb := newFakeBackend(t)
	sess.PID = "12345"
	sess.state = Running

	fb.send(t, "out stray line")
	fb.send(t, "input 12345")
	time.Sleep(50 * time.Millisecond) // let it land in the OS buffer

	sess.EnsurePaused(time.Second)

	if sess.State() != Paused {
		t.Fatalf("state = %v, want Paused", sess.State())
	}
}

func TestEnsurePaused_NoDataLeavesStateUnchanged(t *testing.T) {
	sess, _ := newFakeBackend(t)
	sess.PID = "12345"
	sess.state = Running

	sess.EnsurePaused(50 * time.Millisecond)

	if sess.State() != Running {
		t.Fatalf("state = %v, want unchanged Running", sess.State())
	}
}
