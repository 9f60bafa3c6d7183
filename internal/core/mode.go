// Package core is the orchestration layer.  It composes the socket
// contracts from package capability into the two runnable modes of
// goecho and provides a builder that picks one from a Config.
//
// Architecture layers (bottom → top):
//
//	session  →  transport  →  capability  →  core  →  cmd (CLI)
package core

import "context"

// Mode is one complete run of goecho: serving a single echo session
// (listen) or driving one as a client (connect).  Each mode owns its
// sockets from open to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
