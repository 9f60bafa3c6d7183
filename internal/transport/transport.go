// Package transport implements the capability contracts over real
// networks: TCPServer is the listening ServerSocket, TCPClient the
// connecting ClientSocket.  Dialers decide how the client reaches the
// server, directly over TCP or through an SSH gateway.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
