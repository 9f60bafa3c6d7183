package core

import (
	"context"
	"io"
	"net"
	"sync"

	"goecho/internal/capability"
	"goecho/internal/session"
)

// recordingServer is a ServerSocket that replays scripted lines and
// records every call made on it.
type recordingServer struct {
	lines    []string
	readErr  error // returned once lines run out; io.EOF when nil
	openErr  error
	echoErr  error
	sentinel string

	mu     sync.Mutex
	calls  []string
	echoed []string
	peer   net.Conn
}

var _ capability.ServerSocket = (*recordingServer)(nil)

func (f *recordingServer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *recordingServer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *recordingServer) Open(int) error {
	f.record("Open")
	return f.openErr
}

func (f *recordingServer) AcceptOne(context.Context) (*session.Session, error) {
	f.record("AcceptOne")
	client, server := net.Pipe()
	f.peer = client
	return session.New(server, nil, nil), nil
}

func (f *recordingServer) ReadLine(*session.Session) (string, error) {
	f.record("ReadLine")
	if len(f.lines) == 0 {
		if f.readErr != nil {
			return "", f.readErr
		}
		return "", io.EOF
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, nil
}

func (f *recordingServer) Sentinel() string { return f.sentinel }

func (f *recordingServer) Echo(_ *session.Session, line string) error {
	f.record("Echo " + line)
	if f.echoErr != nil {
		return f.echoErr
	}
	if !capability.IsSentinel(line, f.sentinel) {
		f.echoed = append(f.echoed, line)
	}
	return nil
}

func (f *recordingServer) CloseSession(sess *session.Session) error {
	f.record("CloseSession")
	return sess.Close()
}

func (f *recordingServer) Close() error {
	f.record("Close")
	if f.peer != nil {
		return f.peer.Close()
	}
	return nil
}

// scriptedClient is a ClientSocket whose Connect results and replies
// are scripted in advance.
type scriptedClient struct {
	connectErrs []error // consumed one per Connect; nil entries succeed
	replies     []string
	receiveErr  error // returned once replies run out; io.EOF when nil

	connects int
	sent     []string
	closed   int
}

var _ capability.ClientSocket = (*scriptedClient)(nil)

func (c *scriptedClient) Connect(context.Context, string) error {
	c.connects++
	if len(c.connectErrs) == 0 {
		return nil
	}
	err := c.connectErrs[0]
	c.connectErrs = c.connectErrs[1:]
	return err
}

func (c *scriptedClient) Send(line string) error {
	c.sent = append(c.sent, line)
	return nil
}

func (c *scriptedClient) Receive() (string, error) {
	if len(c.replies) == 0 {
		if c.receiveErr != nil {
			return "", c.receiveErr
		}
		return "", io.EOF
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

func (c *scriptedClient) Close() error {
	c.closed++
	return nil
}
