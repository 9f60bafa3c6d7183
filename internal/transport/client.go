package transport

import (
	"context"
	"time"

	"goecho/internal/capability"
	ecerr "goecho/internal/errors"
	"goecho/internal/metrics"
	"goecho/internal/session"
	"goecho/util"
)

var _ capability.ClientSocket = (*TCPClient)(nil)

// TCPClient is a ClientSocket that reaches the server through Dialer.
// It owns the dialer and closes it together with the connection.
type TCPClient struct {
	Dialer Dialer
	// IdleTimeout, when positive, bounds the wait for each echo.
	IdleTimeout time.Duration
	Logger      *util.Logger
	Metrics     *metrics.Collector

	sess *session.Session
}

// Connect dials address.  A previous connection, if any, is closed
// first so a retried Connect never leaks one.
func (c *TCPClient) Connect(ctx context.Context, address string) error {
	if c.sess != nil {
		c.sess.Close() //nolint:errcheck
		c.sess = nil
	}

	c.Metrics.DialAttempt()
	conn, err := c.Dialer.Dial(ctx, "tcp", address)
	if err != nil {
		return ecerr.Wrap("dial", address, err)
	}

	c.sess = session.New(conn, c.Logger, c.Metrics)
	c.sess.IdleTimeout = c.IdleTimeout
	return nil
}

// Session returns the current connection's session, or nil.
func (c *TCPClient) Session() *session.Session { return c.sess }

// Send writes one line to the server.
func (c *TCPClient) Send(line string) error {
	if c.sess == nil {
		return ecerr.ErrNotConnected
	}
	return c.sess.WriteLine(line)
}

// Receive reads the next line from the server.
func (c *TCPClient) Receive() (string, error) {
	if c.sess == nil {
		return "", ecerr.ErrNotConnected
	}
	return c.sess.ReadLine()
}

// Close closes the connection and the dialer.
func (c *TCPClient) Close() error {
	var errs []error
	if c.sess != nil {
		if err := c.sess.Close(); err != nil && !util.IsHarmless(err) {
			errs = append(errs, err)
		}
	}
	if err := c.Dialer.Close(); err != nil {
		errs = append(errs, err)
	}
	return ecerr.Join(errs...)
}
