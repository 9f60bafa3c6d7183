// Package session represents a single connection lifecycle: one
// stream, read and written a line at a time, closed exactly once.
//
// Sessions decouple the echo loop from concrete connections.  The
// loop only needs ReadLine, WriteLine, and Close, so tests can hand it
// one end of a net.Pipe instead of a socket.
package session

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	ecerr "goecho/internal/errors"
	"goecho/internal/metrics"
	"goecho/util"
)

// Session encapsulates one accepted (or dialed) connection.  Reads and
// writes belong to the goroutine that owns the session; Close may be
// called from any goroutine.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn    net.Conn
	reader  *bufio.Reader
	logger  *util.Logger
	metrics *metrics.Collector

	// IdleTimeout, when positive, bounds the wait for each line.
	IdleTimeout time.Duration

	pendingEOF bool
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// New wraps conn in a Session with a fresh ID.  Both logger and m may
// be nil.
func New(conn net.Conn, logger *util.Logger, m *metrics.Collector) *Session {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		conn:      conn,
		reader:    bufio.NewReader(conn),
		logger:    logger,
		metrics:   m,
	}
	m.SessionOpened()
	return s
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Alive reports whether the session has not been closed yet.
func (s *Session) Alive() bool { return !s.closed.Load() }

// ReadLine blocks until a full line is available and returns it with
// the "\n" or "\r\n" terminator removed.  An unterminated fragment
// before end of stream is returned as a final line; the call after it
// returns io.EOF.
func (s *Session) ReadLine() (string, error) {
	if s.closed.Load() {
		return "", ecerr.ErrSessionClosed
	}
	if s.pendingEOF {
		return "", io.EOF
	}

	if s.IdleTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.IdleTimeout)); err != nil {
			return "", err
		}
	}

	raw, err := s.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && raw != "" {
			s.pendingEOF = true
		} else {
			if raw != "" {
				s.logger.Debug("session %s: dropping partial line %q: %v", s.ID, raw, err)
			}
			return "", err
		}
	}

	s.metrics.LineRead(len(raw))
	line := strings.TrimSuffix(raw, "\n")
	line = strings.TrimSuffix(line, "\r")
	s.logger.Debug("session %s: read %q", s.ID, line)
	return line, nil
}

// WriteLine writes line followed by "\n".
func (s *Session) WriteLine(line string) error {
	if s.closed.Load() {
		return ecerr.ErrSessionClosed
	}
	n, err := io.WriteString(s.conn, line+"\n")
	if err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	s.metrics.LineWritten(n)
	return nil
}

// Close releases the stream.  Only the first call does any work; later
// calls return the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
		s.metrics.SessionClosed()
		s.logger.Verbose("session %s closed after %s",
			s.ID, time.Since(s.CreatedAt).Truncate(time.Millisecond))
	})
	return s.closeErr
}
