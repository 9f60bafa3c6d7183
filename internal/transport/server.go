package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"goecho/internal/capability"
	ecerr "goecho/internal/errors"
	"goecho/internal/metrics"
	"goecho/internal/session"
	"goecho/util"
)

var _ capability.ServerSocket = (*TCPServer)(nil)

// TCPServer is a single-connection ServerSocket.  After its one accept
// it stops listening, so any later peer is refused by the kernel.
type TCPServer struct {
	Host        string // empty binds every interface
	Quit        string // line that ends a session
	IdleTimeout time.Duration
	Logger      *util.Logger
	Metrics     *metrics.Collector

	mu       sync.Mutex
	ln       net.Listener
	addr     net.Addr
	accepted bool
}

func (s *TCPServer) log() *util.Logger {
	if s.Logger == nil {
		s.Logger = util.NewLogger(0)
	}
	return s.Logger
}

// Open binds host:port.  Port 0 picks an ephemeral port; see Addr.
func (s *TCPServer) Open(port int) error {
	addr := util.FormatAddr(s.Host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ecerr.Bind(addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.log().Verbose("listening on %s (tcp)", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Open.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// AcceptOne waits for the single peer of this server's lifetime.
// Cancelling ctx closes the listener and returns ctx.Err().
func (s *TCPServer) AcceptOne(ctx context.Context) (*session.Session, error) {
	s.mu.Lock()
	ln, accepted := s.ln, s.accepted
	s.mu.Unlock()

	if accepted {
		return nil, ecerr.ErrAlreadyAccepted
	}
	if ln == nil {
		return nil, ecerr.ErrNotListening
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ecerr.Wrap("accept", ln.Addr().String(), err)
	}

	s.mu.Lock()
	s.accepted = true
	s.mu.Unlock()
	s.Close() //nolint:errcheck

	s.log().Verbose("connection from %s", conn.RemoteAddr())

	sess := session.New(conn, s.Logger, s.Metrics)
	sess.IdleTimeout = s.IdleTimeout
	return sess, nil
}

// ReadLine reads the next line from sess.
func (s *TCPServer) ReadLine(sess *session.Session) (string, error) {
	return sess.ReadLine()
}

// Sentinel returns the quit line.
func (s *TCPServer) Sentinel() string { return s.Quit }

// Echo writes line back unless it is the sentinel.
func (s *TCPServer) Echo(sess *session.Session, line string) error {
	if capability.IsSentinel(line, s.Quit) {
		s.Metrics.SentinelSeen()
		return nil
	}
	return sess.WriteLine(line)
}

// CloseSession closes sess; repeated calls are no-ops.
func (s *TCPServer) CloseSession(sess *session.Session) error {
	return sess.Close()
}

// Close stops listening.  It is safe to call more than once.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	return ln.Close()
}
