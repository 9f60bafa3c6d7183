// Package capability defines the two role contracts of an echo
// exchange.  ServerSocket covers what the listening side does and
// ClientSocket what the connecting side does; they share no methods,
// so neither role implements an operation it cannot support.  Test
// doubles satisfy the same interfaces.
package capability

import (
	"context"

	"goecho/internal/session"
)

// ServerSocket is the listening side of an echo exchange.
type ServerSocket interface {
	// Open binds the listening endpoint.  Failure is a
	// *errors.BindError and is not retried.
	Open(port int) error

	// AcceptOne blocks until a single peer connects.  A server
	// lifetime serves exactly one connection.
	AcceptOne(ctx context.Context) (*session.Session, error)

	// ReadLine blocks for the next line; end of stream is io.EOF.
	ReadLine(sess *session.Session) (string, error)

	// Sentinel returns the line that ends a session.
	Sentinel() string

	// Echo writes line back to the peer unless it is the sentinel.
	Echo(sess *session.Session, line string) error

	// CloseSession releases the session's stream.
	CloseSession(sess *session.Session) error

	// Close releases the listening endpoint.
	Close() error
}

// ClientSocket is the connecting side of an echo exchange.
type ClientSocket interface {
	// Connect establishes the connection to address.
	Connect(ctx context.Context, address string) error

	// Send writes one line to the server.
	Send(line string) error

	// Receive blocks for the next line from the server.
	Receive() (string, error)

	// Close releases the connection.
	Close() error
}

// IsSentinel reports whether line is the session-ending token.
func IsSentinel(line, token string) bool {
	return token != "" && line == token
}
