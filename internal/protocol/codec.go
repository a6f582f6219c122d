package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

var (
	reOut   = regexp.MustCompile(`^out (.*)$`)
	reInput = regexp.MustCompile(`^input (\S+)\s*$`)
	reAsk   = regexp.MustCompile(`^ask (\S+) (.*)$`)
	reQuit  = regexp.MustCompile(`^quit`)
)

// ErrNoData is returned by ReadFrame when a non-blocking read (deadline in
// the past or equal to now) finds nothing buffered — this is the expected,
// non-error outcome of a drain poll, not a transport failure.
var ErrNoData = errors.New("protocol: no data available")

// Codec wraps a byte stream (filesystem or TCP socket) with the
// line-terminated frame grammar. One Codec serves exactly one session; it
// is not safe for concurrent reads, matching the session-local mutex
// discipline enforced one layer up.
type Codec struct {
	conn net.Conn
	r    *bufio.Reader

	rawFD    uintptr
	hasRawFD bool
}

// New wraps an already-open net.Conn. The raw file descriptor backing the
// signal-safe cleanup path (if any) is resolved once here, not re-derived
// later: doing it via SyscallConn().Control reads the fd conn already
// owns in place, with no allocation and no dup'd *os.File whose finalizer
// could close it out from under a later signal-context write.
func New(conn net.Conn) *Codec {
	c := &Codec{conn: conn, r: bufio.NewReader(conn)}
	c.rawFD, c.hasRawFD = rawFD(conn)
	return c
}

func rawFD(conn net.Conn) (uintptr, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := rc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, false
	}
	return fd, true
}

// Greet writes the one-shot greeting line.
func (c *Codec) Greet(version, width, cookie string) error {
	return c.writeLine(Greeting(version, width, cookie))
}

// WriteCommand writes a command frame.
func (c *Codec) WriteCommand(pid string, width int, payload string) error {
	return c.writeLine(Command(pid, width, payload))
}

// WriteAnswer acks an ask frame.
func (c *Codec) WriteAnswer(id string) error {
	return c.writeLine(Answer(id))
}

// WritePause writes the out-of-band pause frame.
func (c *Codec) WritePause() error {
	return c.writeLine(Pause())
}

func (c *Codec) writeLine(line string) error {
	_, err := c.conn.Write([]byte(line + "\n"))
	if err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// ReadFrame blocks until one full line arrives or deadline passes, then
// decodes it. A deadline in the past (or equal to time.Now, for drain
// polls) makes this a non-blocking check: ErrNoData is returned if nothing
// is buffered, distinguishing "nothing yet" from a real transport error.
func (c *Codec) ReadFrame(deadline time.Time) (*Frame, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("protocol: set deadline: %w", err)
	}

	line, err := c.r.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return nil, ErrNoData
		}
		return nil, err
	}

	return decodeLine(strings.TrimRight(line, "\r\n")), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Close closes the underlying stream.
func (c *Codec) Close() error { return c.conn.Close() }

// RawFD exposes the file descriptor cached at New, for the signal-safe
// cleanup path that must write directly with unix.Write instead of going
// through Go's buffered/poller-backed net.Conn.Write. It performs no
// syscalls and no allocation itself — both already happened once, outside
// of any signal context, in New.
func (c *Codec) RawFD() (uintptr, bool) {
	return c.rawFD, c.hasRawFD
}

func decodeLine(line string) *Frame {
	if reQuit.MatchString(line) {
		return &Frame{Kind: KindQuit}
	}
	if m := reInput.FindStringSubmatch(line); m != nil {
		return &Frame{Kind: KindInput, PID: m[1]}
	}
	if m := reAsk.FindStringSubmatch(line); m != nil {
		return &Frame{Kind: KindAsk, AskID: m[1], AskText: scrub(m[2])}
	}
	if m := reOut.FindStringSubmatch(line); m != nil {
		return &Frame{Kind: KindOut, Text: stripAndScrub(m[1])}
	}
	// Anything not matching the known grammar is still surfaced as an
	// out line rather than dropped, so unexpected backend chatter doesn't
	// silently vanish.
	return &Frame{Kind: KindOut, Text: stripAndScrub(line)}
}

// stripAndScrub removes ANSI CSI escape sequences and replaces invalid
// UTF-8 byte sequences, per the codec's §4.1 contract.
func stripAndScrub(s string) string {
	return scrub(ansi.Strip(s))
}

func scrub(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}
