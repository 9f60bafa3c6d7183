package core

import (
	"context"
	"errors"
	"io"
	"sync"

	"goecho/internal/capability"
	ecerr "goecho/internal/errors"
	"goecho/internal/metrics"
	"goecho/internal/session"
	"goecho/util"
)

// ListenMode serves the single echo session of a server lifetime:
// bind, accept one peer, echo its lines until the sentinel or end of
// stream, then tear everything down.
type ListenMode struct {
	Port    int
	Socket  capability.ServerSocket
	Logger  *util.Logger
	Metrics *metrics.Collector

	// Listening, if set, is called once the socket is bound.
	Listening func()
}

// Run blocks until the session ends.  A peer that disconnects or sends
// the sentinel ends it cleanly; so does cancelling ctx.
func (m *ListenMode) Run(ctx context.Context) error {
	if m.Logger == nil {
		m.Logger = util.NewLogger(0)
	}

	if err := m.Socket.Open(m.Port); err != nil {
		m.Metrics.RecordError(err.Error())
		return err
	}
	defer m.Socket.Close()

	if m.Listening != nil {
		m.Listening()
	}

	sess, err := m.Socket.AcceptOne(ctx)
	if err != nil {
		if ctx.Err() != nil {
			m.Logger.Verbose("shutting down before any peer connected")
			return nil
		}
		m.Metrics.RecordError(err.Error())
		return err
	}

	return m.serve(ctx, sess)
}

func (m *ListenMode) serve(ctx context.Context, sess *session.Session) error {
	var once sync.Once
	closeSession := func() {
		once.Do(func() {
			if err := m.Socket.CloseSession(sess); err != nil && !util.IsHarmless(err) {
				m.Logger.Debug("session %s: close: %v", sess.ID, err)
			}
		})
	}
	defer closeSession()

	// Closing the session is the only way to interrupt a blocked read.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeSession()
		case <-stop:
		}
	}()

	m.Logger.Verbose("session %s: serving %s", sess.ID, sess.RemoteAddr())

	for {
		line, err := m.Socket.ReadLine(sess)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				m.Logger.Verbose("session %s: interrupted", sess.ID)
				return nil
			case errors.Is(err, io.EOF), util.IsPeerGone(err):
				m.Logger.Verbose("session %s: peer disconnected", sess.ID)
				return nil
			case util.IsTimeout(err):
				m.Logger.Warn("session %s: idle timeout, closing", sess.ID)
			}
			return m.fail(sess, "read", err)
		}

		if err := m.Socket.Echo(sess, line); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case util.IsPeerGone(err):
				// Hung up with echoes still unread.
				m.Logger.Verbose("session %s: peer disconnected: %v", sess.ID, err)
				return nil
			}
			return m.fail(sess, "write", err)
		}

		if capability.IsSentinel(line, m.Socket.Sentinel()) {
			m.Logger.Verbose("session %s: %q received, closing", sess.ID, line)
			return nil
		}
	}
}

func (m *ListenMode) fail(sess *session.Session, op string, err error) error {
	ioErr := ecerr.SessionIO(sess.ID, op, err)
	m.Metrics.RecordError(ioErr.Error())
	return ioErr
}
