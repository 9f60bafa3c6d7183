// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"goecho/config"
	"goecho/internal/core"
	ecerr "goecho/internal/errors"
	"goecho/internal/metrics"
	"goecho/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X goecho/cmd.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs goecho: a single-session line echo
// server by default, or its client with --connect.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	// Defaults, then the YAML file, then env; flags are parsed last
	// with the merged values as their defaults.
	cfg := config.Default()

	path := configPathFromArgs(args)
	if path == "" {
		path = config.ConfigPathFromEnv()
	}
	if path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("goecho", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── server ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.BindHost, "bind", "s", cfg.BindHost, "Bind address (default all interfaces)")
	fs.StringVarP(&cfg.Quit, "quit", "q", cfg.Quit, "Line that ends the session")

	timeoutSec := int(cfg.Timeout / time.Second)
	fs.IntVarP(&timeoutSec, "timeout", "w", timeoutSec, "Idle timeout per line in seconds (0 = none)")

	// ── client ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.Connect, "connect", "C", cfg.Connect, "Client mode: connect to HOST")
	fs.IntVarP(&cfg.Retries, "retries", "r", cfg.Retries, "Connect attempts (client)")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Log as JSON lines")
	fs.BoolVar(&cfg.Stats, "stats", cfg.Stats, "Print session metrics as JSON on exit")

	var configPath string
	fs.StringVar(&configPath, "config", path, "YAML config file")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(stdout, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "goecho %s\n", version)
		return nil
	}

	if fs.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if fs.Changed("timeout") {
		cfg.Timeout = time.Duration(timeoutSec) * time.Second
	}

	// ── positional port ──────────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if dryRun {
		fmt.Fprintln(stdout, describe(cfg))
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := newLogger(cfg, stderr)
	defer logger.Sync() //nolint:errcheck

	m := metrics.New()
	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}

	err = mode.Run(ctx)
	if cfg.Stats {
		fmt.Fprintln(stderr, m.JSON())
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// newLogger builds the run's logger.  JSON records always carry a
// timestamp; console lines only get one at debug verbosity.
func newLogger(cfg *config.Config, w io.Writer) *util.Logger {
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(w)
	logger.SetJSON(cfg.LogJSON)
	if cfg.LogJSON {
		logger.SetTimestamps(true)
	}
	return logger
}

// parsePositional takes the optional port argument.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 1:
		port, err := config.ParsePort(remaining[0])
		if err != nil {
			return &ecerr.ConfigError{
				Field:   "port",
				Value:   remaining[0],
				Message: err.Error(),
				Hint:    fmt.Sprintf("omit the port to use the default %d", config.DefaultPort),
			}
		}
		cfg.Port = port
		return nil
	default:
		return fmt.Errorf("too many arguments: %s (only a port is accepted)",
			strings.Join(remaining, " "))
	}
}

// configPathFromArgs finds --config ahead of the real parse, since the
// file supplies the flag defaults.
func configPathFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ""
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func describe(cfg *config.Config) string {
	if !cfg.ClientMode() {
		return fmt.Sprintf("would listen on %s (quit=%q, timeout=%s)",
			util.FormatAddr(cfg.BindHost, cfg.Port), cfg.Quit, cfg.Timeout)
	}
	via := "direct"
	if cfg.TunnelEnabled {
		via = "ssh " + util.FormatAddr(cfg.TunnelHost, cfg.TunnelPort)
	}
	return fmt.Sprintf("would connect to %s via %s (quit=%q, attempts=%d)",
		cfg.ConnectAddress(), via, cfg.Quit, cfg.Retries)
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `goecho – single-session line echo server v%s

Serves one TCP peer, echoing each line back until the peer sends the
quit line or disconnects.

Usage:
  goecho [options] [port]                     Serve (default port %d)
  goecho -C <host> [options] [port]           Connect and echo stdin

Options:
`, version, config.DefaultPort)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  goecho                                      Serve on :8080
  goecho -s 127.0.0.1 9000                    Serve on loopback only
  printf 'hi\nquit\n' | goecho -C localhost   Send two lines
  goecho -C 10.0.0.5 -T admin@bastion 9000    Connect through SSH
`)
}
