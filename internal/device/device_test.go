package device

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/state"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are limited to ~108 bytes; t.TempDir can exceed that.
	dir, err := os.MkdirTemp("", "dev")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func startServer(t *testing.T, st *state.Shared) (*Server, string) {
	t.Helper()
	path := socketPath(t)
	srv := New(path, st, quietLogger())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, path
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, path string) *client {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) line(t *testing.T) string {
	t.Helper()
	s, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return s
}

func (c *client) send(t *testing.T, s string) string {
	t.Helper()
	if _, err := io.WriteString(c.conn, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	return c.line(t)
}

func TestSpeedLine(t *testing.T) {
	if got := SpeedLine(4); got != "Button Press Speed: 4 presses/second\n" {
		t.Errorf("got %q", got)
	}
}

func TestReadOnConnect(t *testing.T) {
	st := state.New()
	st.PressAt(logic.InputA, 0)
	st.PressAt(logic.InputB, 250*time.Millisecond)
	_, path := startServer(t, st)

	c := dial(t, path)
	if got := c.line(t); got != "Button Press Speed: 4 presses/second\n" {
		t.Errorf("first line: got %q", got)
	}
}

func TestWriteDuties(t *testing.T) {
	st := state.New()
	_, path := startServer(t, st)

	c := dial(t, path)
	c.line(t)

	if got := c.send(t, "100 50 0\n"); got != "OK\n" {
		t.Fatalf("write: got %q, want OK", got)
	}
	if got := st.Duties(); got != (logic.Duties{100, 50, 0}) {
		t.Errorf("duties: got %v", got)
	}
}

func TestWriteRejected(t *testing.T) {
	st := state.New()
	_ = st.SetDuties(logic.Duties{10, 20, 30}, "test")
	_, path := startServer(t, st)

	c := dial(t, path)
	c.line(t)

	tests := []struct {
		in   string
		want string
	}{
		{"101 0 0\n", "ERR led1: duty cycle out of range: 101\n"},
		{"1 2\n", "ERR malformed duty cycle: want 3 values, got 2\n"},
		{"100 100 100        \n", "ERR write longer than 19 bytes\n"},
	}
	for _, tt := range tests {
		if got := c.send(t, tt.in); got != tt.want {
			t.Errorf("write %q: got %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := st.Duties(); got != (logic.Duties{10, 20, 30}) {
		t.Errorf("rejected writes changed duties to %v", got)
	}
}

func TestWriteAtLimitAccepted(t *testing.T) {
	st := state.New()
	_, path := startServer(t, st)

	c := dial(t, path)
	c.line(t)

	// 18 bytes plus newline is exactly the limit.
	in := "100  100   100    \n"
	if len(in) != logic.MaxDeviceWrite {
		t.Fatalf("test input is %d bytes", len(in))
	}
	if got := c.send(t, in); got != "OK\n" {
		t.Errorf("got %q, want OK", got)
	}
}

func TestEmptyLineRereadsSpeed(t *testing.T) {
	st := state.New()
	_, path := startServer(t, st)

	c := dial(t, path)
	if got := c.line(t); !strings.Contains(got, ": 0 presses") {
		t.Fatalf("first line: got %q", got)
	}

	st.PressAt(logic.InputA, 0)
	st.PressAt(logic.InputB, 100*time.Millisecond)

	if got := c.send(t, "\n"); got != "Button Press Speed: 10 presses/second\n" {
		t.Errorf("reread: got %q", got)
	}
}

func TestMultipleClients(t *testing.T) {
	st := state.New()
	_, path := startServer(t, st)

	a := dial(t, path)
	b := dial(t, path)
	a.line(t)
	b.line(t)

	if got := a.send(t, "1 2 3\n"); got != "OK\n" {
		t.Fatalf("a: got %q", got)
	}
	if got := b.send(t, "4 5 6\n"); got != "OK\n" {
		t.Fatalf("b: got %q", got)
	}
	if got := st.Duties(); got != (logic.Duties{4, 5, 6}) {
		t.Errorf("duties: got %v", got)
	}
}

func TestCloseDisconnectsClientsAndRemovesSocket(t *testing.T) {
	st := state.New()
	srv, path := startServer(t, st)

	c := dial(t, path)
	c.line(t)

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.r.ReadString('\n'); err == nil {
		t.Error("expected client to be disconnected")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// Leave the file behind the way a crashed process would.
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	srv := New(path, state.New(), quietLogger())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen over stale socket: %v", err)
	}
	srv.Close()
}

func TestListenRefusesRegularFile(t *testing.T) {
	path := socketPath(t)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := New(path, state.New(), quietLogger())
	if err := srv.Listen(); err == nil {
		srv.Close()
		t.Fatal("expected error for non-socket path")
	}
}

func TestListenLogsSocketPathOnce(t *testing.T) {
	var buf bytes.Buffer
	path := socketPath(t)
	srv := New(path, state.New(), slog.New(slog.NewTextHandler(&buf, nil)))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	if n := strings.Count(buf.String(), "device socket listening"); n != 1 {
		t.Errorf("listening logged %d times, want 1:\n%s", n, buf.String())
	}
	if !strings.Contains(buf.String(), path) {
		t.Errorf("log line missing path %s:\n%s", path, buf.String())
	}
}
