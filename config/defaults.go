package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so CLI flags, the YAML file loader,
// and environment variables agree on them.

const (
	// DefaultPort is used when no port argument is given.
	DefaultPort = 8080

	// DefaultQuitToken is the sentinel line that ends a session.
	DefaultQuitToken = "quit"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds client dials and SSH handshakes.
	DefaultConnTimeout = 30 * time.Second

	// DefaultDialAttempts is how many times the client tries to connect.
	DefaultDialAttempts = 1

	// DefaultRetryDelay is the first backoff delay between connect
	// attempts; it doubles up to DefaultMaxRetryDelay.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay caps the connect backoff.
	DefaultMaxRetryDelay = 10 * time.Second

	// EnvPrefix prefixes every environment variable goecho reads.
	EnvPrefix = "GOECHO_"
)
