package debugsession

import (
	"testing"
	"time"
)

func TestCleanup_DeletesAllBreakpointsThenContinues(t *testing.T) {
	sess, fb := newFakeBackend(t)
	sess.PID = "12345"

	done := make(chan struct{})
	go func() {
		sess.Cleanup(time.Now().Add(3*time.Second), 2)
		close(done)
	}()

	// Step 1: restore stdout.
	fb.expectLine(t, "command 12345 80 eval $stdout = STDOUT")
	fb.send(t, "input 12345")

	// Step 2: list breakpoints, then delete each discovered index.
	fb.expectLine(t, "command 12345 80 break")
	fb.send(t, "out #0  BP - Line /tmp/a.rb:3")
	fb.send(t, "out #1  BP - Line /tmp/a.rb:9")
	fb.send(t, "input 12345")

	fb.expectLine(t, "command 12345 80 delete 0")
	fb.send(t, "input 12345")
	fb.expectLine(t, "command 12345 80 delete 1")
	fb.send(t, "input 12345")

	// Step 3: restore signal handler.
	fb.expectLine(t, "command 12345 80 eval Signal.trap('INT', 'DEFAULT')")
	fb.send(t, "input 12345")

	// Step 4: forced continue.
	fb.expectLine(t, "command 12345 80 c")

	<-done
	if sess.State() == Disconnected {
		t.Fatalf("cleanup should not itself disconnect the session")
	}
}
