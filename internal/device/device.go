// Package device exposes the dimmer as a line-oriented Unix socket that
// behaves like the character device: every connection first receives the
// current speed line, then each line written is a "d1 d2 d3" duty write
// answered with "OK" or "ERR <reason>". An empty line re-reads the speed.
package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// Source is recorded on duty change events from this surface.
const Source = "device"

// maxLine bounds a single read from a client. Anything past MaxDeviceWrite is
// rejected anyway; this only stops a client from growing the buffer.
const maxLine = 4096

// ErrTooLong is returned for writes longer than logic.MaxDeviceWrite bytes.
var ErrTooLong = fmt.Errorf("write longer than %d bytes", logic.MaxDeviceWrite)

// Dimmer is the part of the shared state the device reads and writes.
type Dimmer interface {
	Speed() uint64
	WriteDuties(input, source string) error
}

// SpeedLine formats the read side of the device.
func SpeedLine(speed uint64) string {
	return fmt.Sprintf("Button Press Speed: %d presses/second\n", speed)
}

// Server accepts device clients on a Unix socket.
type Server struct {
	path   string
	dimmer Dimmer
	logger *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a server for the socket at path.
func New(path string, dimmer Dimmer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		path:   path,
		dimmer: dimmer,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen creates the socket, replacing a stale one left by a previous run,
// and starts accepting clients in the background.
func (s *Server) Listen() error {
	if fi, err := os.Lstat(s.path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("device: %s exists and is not a socket", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("device: remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("device: listen: %w", err)
	}
	if err := s.setListener(ln); err != nil {
		return err
	}
	s.logger.Info("device socket listening", "path", s.path)
	go s.accept(ln)
	return nil
}

// Serve accepts connections on ln until Close is called. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.setListener(ln); err != nil {
		return err
	}
	return s.accept(ln)
}

func (s *Server) setListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	return nil
}

func (s *Server) accept(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("device accept failed", "error", err)
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

// Close stops accepting, disconnects every client, waits for their
// handlers and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) handle(conn net.Conn) {
	w := bufio.NewWriter(conn)
	reply := func(line string) bool {
		if _, err := io.WriteString(w, line); err != nil {
			return false
		}
		return w.Flush() == nil
	}

	if !reply(SpeedLine(s.dimmer.Speed())) {
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64), maxLine)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		var resp string
		switch {
		case strings.TrimSpace(line) == "":
			resp = SpeedLine(s.dimmer.Speed())
		default:
			if err := s.write(line); err != nil {
				s.logger.Warn("device write rejected", "input", line, "error", err)
				resp = "ERR " + err.Error() + "\n"
			} else {
				resp = "OK\n"
			}
		}
		if !reply(resp) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("device client read ended", "error", err)
	}
}

// write applies one duty line. The limit counts the trailing newline a
// shell echo would send, as the character device did.
func (s *Server) write(line string) error {
	if len(line)+1 > logic.MaxDeviceWrite {
		return ErrTooLong
	}
	return s.dimmer.WriteDuties(line, Source)
}
