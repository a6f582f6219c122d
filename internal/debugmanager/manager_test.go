package debugmanager

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/wtdbg/wtdbg/internal/dbgerr"
	"github.com/wtdbg/wtdbg/internal/debugsession"
)

// startFakeBackend spins a real TCP listener that greets with "input
// <pid>" immediately after receiving the adapter's greeting line, mirroring
// the transport_test.go pattern of a real listener driven end-to-end.
func startFakeBackend(t *testing.T, pid string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				r := bufio.NewReader(c)
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				c.Write([]byte("input " + pid + "\n"))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestConnect_RegistersSession(t *testing.T) {
	addr := startFakeBackend(t, "7001")
	m := New(30*time.Minute, 2, 32)

	sess, err := m.Connect(ConnectOptions{
		Network:         "tcp",
		Address:         addr,
		DialTimeout:     time.Second,
		GreetingVersion: "1.0",
		GreetingWidth:   "80",
		GreetingCookie:  "-",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess.PID != "7001" {
		t.Fatalf("PID = %q, want 7001", sess.PID)
	}

	got, err := m.Client(sess.ID)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if got != sess {
		t.Fatalf("Client returned a different session")
	}
}

func TestClient_UnknownIDAfterReapIsStructuredDiagnostic(t *testing.T) {
	m := New(30*time.Minute, 2, 32)
	m.recordReaped("s1", debugsession.ReasonIdleTimeout, "7001")

	_, err := m.Client("s1")
	if err == nil {
		t.Fatalf("expected error for reaped session")
	}
	kind, ok := dbgerr.KindOf(err)
	if !ok || kind != dbgerr.Session {
		t.Fatalf("expected Session kind error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ago") {
		t.Fatalf("diagnostic missing 'ago': %v", err)
	}
}

func TestConnect_SameIDClosesPriorSession(t *testing.T) {
	addr := startFakeBackend(t, "7001")
	m := New(30*time.Minute, 2, 32)

	opts := ConnectOptions{
		SessionID:       "s1",
		Network:         "tcp",
		Address:         addr,
		DialTimeout:     time.Second,
		GreetingVersion: "1.0",
		GreetingWidth:   "80",
		GreetingCookie:  "-",
	}

	first, err := m.Connect(opts)
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}

	second, err := m.Connect(opts)
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if len(m.List()) != 1 {
		t.Fatalf("expected exactly one registered session, got %d", len(m.List()))
	}
	if first == second {
		t.Fatalf("expected a fresh session on reattach")
	}
}

func TestConnect_SamePIDClosesPriorSessionEvenOnDifferentEndpoint(t *testing.T) {
	addrA := startFakeBackend(t, "7001")
	addrB := startFakeBackend(t, "7001")
	m := New(30*time.Minute, 2, 32)

	s1, err := m.Connect(ConnectOptions{
		SessionID: "s1", Network: "tcp", Address: addrA, DialTimeout: time.Second,
		GreetingVersion: "1.0", GreetingWidth: "80", GreetingCookie: "-",
	})
	if err != nil {
		t.Fatalf("connect s1: %v", err)
	}

	_, err = m.Connect(ConnectOptions{
		SessionID: "s2", Network: "tcp", Address: addrB, DialTimeout: time.Second,
		GreetingVersion: "1.0", GreetingWidth: "80", GreetingCookie: "-",
		ExpectedPID: s1.PID,
	})
	if err != nil {
		t.Fatalf("connect s2: %v", err)
	}

	ids := m.List()
	if len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("expected only s2 registered, got %v", ids)
	}
}
