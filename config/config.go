// Package config defines the runtime configuration for goecho and the
// helpers for parsing ports and SSH gateway specifications.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	ecerr "goecho/internal/errors"
	"goecho/util"
)

// Config holds every tuneable for a single goecho run.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Port     int    // listen port (server) or destination port (client)
	BindHost string // empty binds every interface
	Quit     string // sentinel line that ends a session
	Timeout  time.Duration

	// ── Client ───────────────────────────────────────────────────────
	Connect string // non-empty selects client mode
	Retries int    // total connect attempts

	// ── SSH tunnel (client only) ─────────────────────────────────────
	TunnelSpec     string // raw [user@]host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	LogJSON bool
	Stats   bool
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Port:    DefaultPort,
		Quit:    DefaultQuitToken,
		Retries: DefaultDialAttempts,
	}
}

// ClientMode reports whether the run connects out instead of listening.
func (c *Config) ClientMode() bool { return c.Connect != "" }

// ConnectAddress is the client's dial target.  A bare -C host takes
// Port; a host:port value carries its own.
func (c *Config) ConnectAddress() string {
	if host, port, err := util.SplitAddr(c.Connect); err == nil {
		return util.FormatAddr(host, port)
	}
	return util.FormatAddr(c.Connect, c.Port)
}

// ── Port parsing ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec, if set, into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ecerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ecerr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
			Hint:    fmt.Sprintf("omit the port to use the default %d", DefaultPort),
		}
	}
	if strings.TrimSpace(c.Quit) == "" || strings.ContainsAny(c.Quit, "\r\n") {
		return &ecerr.ConfigError{
			Field:   "quit",
			Value:   c.Quit,
			Message: "must be a non-empty single line",
			Hint:    fmt.Sprintf("the default token is %q", DefaultQuitToken),
		}
	}
	if c.Timeout < 0 {
		return &ecerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}

	if !c.ClientMode() {
		if c.TunnelEnabled {
			return &ecerr.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: "SSH tunnels apply to client mode only",
				Hint:    "add -C <host> to connect through the gateway",
			}
		}
		return nil
	}

	if c.BindHost != "" {
		return &ecerr.ConfigError{
			Field:   "bind",
			Value:   c.BindHost,
			Message: "--bind and --connect are mutually exclusive",
		}
	}
	if _, _, err := net.SplitHostPort(c.Connect); err == nil {
		if host, port, err := util.SplitAddr(c.Connect); err != nil || host == "" || port < 1 {
			return &ecerr.ConfigError{
				Field:   "connect",
				Value:   c.Connect,
				Message: "want HOST or HOST:PORT with a port in 1-65535",
				Hint:    "bracket IPv6 literals that carry a port: [::1]:9000",
			}
		}
	}
	if c.Retries < 1 {
		return &ecerr.ConfigError{
			Field:   "retries",
			Value:   c.Retries,
			Message: "must be at least 1",
			Hint:    "1 means a single connect attempt",
		}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ecerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	return nil
}
