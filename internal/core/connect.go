package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"goecho/internal/capability"
	ecerr "goecho/internal/errors"
	"goecho/internal/retry"
	"goecho/util"
)

// ConnectMode is the client side: it sends stdin to an echo server a
// line at a time and prints every echo to stdout.
type ConnectMode struct {
	Address  string
	Socket   capability.ClientSocket
	Sentinel string
	// Backoff paces connection attempts.  Nil means a single attempt.
	Backoff *retry.Backoff
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run connects and relays lines until stdin ends, the sentinel is
// sent, or the server hangs up.  The socket is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	if m.Logger == nil {
		m.Logger = util.NewLogger(0)
	}

	var once sync.Once
	closeSocket := func() {
		once.Do(func() {
			if err := m.Socket.Close(); err != nil {
				m.Logger.Debug("close: %v", err)
			}
		})
	}
	defer closeSocket()

	m.Logger.Verbose("connecting to %s", m.Address)
	if err := m.connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", m.Address, err)
	}
	m.Logger.Verbose("connected to %s", m.Address)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeSocket()
		case <-stop:
		}
	}()

	out := m.stdout()
	in := bufio.NewReader(m.stdin())
	for {
		raw, readErr := in.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("read stdin: %w", readErr)
		}
		if raw == "" {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")

		if err := m.Socket.Send(line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
		if capability.IsSentinel(line, m.Sentinel) {
			m.Logger.Verbose("sent %q, closing", line)
			return nil
		}

		reply, err := m.Socket.Receive()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF):
				m.Logger.Verbose("server closed the connection")
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if _, err := fmt.Fprintln(out, reply); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
		if readErr == io.EOF {
			return nil
		}
	}
}

func (m *ConnectMode) connect(ctx context.Context) error {
	if m.Backoff == nil {
		return m.Socket.Connect(ctx, m.Address)
	}

	b := *m.Backoff
	b.Notify = func(attempt int, err error, wait time.Duration) {
		m.Logger.Warn("attempt %d failed: %v (retrying in %s)", attempt, err, wait.Round(time.Millisecond))
	}
	return b.Do(ctx, func(_ int) error {
		err := m.Socket.Connect(ctx, m.Address)
		if err != nil && !ecerr.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
}
