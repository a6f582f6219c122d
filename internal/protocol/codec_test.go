package protocol

import (
	"net"
	"testing"
	"time"
)

func TestDecodeLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want FrameKind
	}{
		{"out", "out => 2", KindOut},
		{"input", "input 12345", KindInput},
		{"ask", "ask 1 overwrite file?", KindAsk},
		{"quit", "quit", KindQuit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := decodeLine(tc.line)
			if f.Kind != tc.want {
				t.Fatalf("decodeLine(%q) kind = %v, want %v", tc.line, f.Kind, tc.want)
			}
		})
	}
}

func TestDecodeInputCapturesPID(t *testing.T) {
	f := decodeLine("input 12345")
	if f.PID != "12345" {
		t.Fatalf("PID = %q, want 12345", f.PID)
	}
}

func TestDecodeAskCapturesIDAndText(t *testing.T) {
	f := decodeLine("ask 7 overwrite?")
	if f.AskID != "7" || f.AskText != "overwrite?" {
		t.Fatalf("got id=%q text=%q", f.AskID, f.AskText)
	}
}

func TestStripAndScrubRemovesANSI(t *testing.T) {
	got := stripAndScrub("\x1b[31mred\x1b[0m text")
	if got != "red text" {
		t.Fatalf("stripAndScrub = %q, want %q", got, "red text")
	}
}

func TestScrubReplacesInvalidUTF8(t *testing.T) {
	got := scrub("valid\xffbytes")
	if got == "valid\xffbytes" {
		t.Fatalf("scrub did not replace invalid byte")
	}
}

// pipePair returns two connected net.Conns over a real TCP loopback
// listener, mirroring how the rest of this package's tests exercise the
// codec against an actual socket rather than an in-process io.Pipe.
func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server = <-acceptedCh
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestCodecRoundTrip(t *testing.T) {
	clientConn, serverConn := pipePair(t)
	backend := New(serverConn)
	adapter := New(clientConn)

	if err := adapter.Greet("1.0", "80", "-"); err != nil {
		t.Fatalf("greet: %v", err)
	}
	line, err := backend.r.ReadString('\n')
	if err != nil {
		t.Fatalf("backend read greeting: %v", err)
	}
	if want := "version: 1.0 width: 80 cookie: - nonstop: false\n"; line != want {
		t.Fatalf("greeting = %q, want %q", line, want)
	}

	if _, err := serverConn.Write([]byte("input 12345\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	f, err := adapter.ReadFrame(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Kind != KindInput || f.PID != "12345" {
		t.Fatalf("got frame %+v", f)
	}
}

func TestReadFrameNoDataIsErrNoData(t *testing.T) {
	clientConn, _ := pipePair(t)
	c := New(clientConn)
	_, err := c.ReadFrame(time.Now())
	if err != ErrNoData {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}
