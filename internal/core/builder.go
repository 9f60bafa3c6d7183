package core

import (
	"goecho/config"
	"goecho/internal/metrics"
	"goecho/internal/retry"
	"goecho/internal/transport"
	"goecho/tunnel"
	"goecho/util"
)

// Build constructs the Mode selected by cfg: connect mode when a host
// to connect to is set, listen mode otherwise.  cfg is expected to have
// passed Validate.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if cfg.ClientMode() {
		return buildConnect(cfg, logger, m), nil
	}
	return buildListen(cfg, logger, m), nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildListen(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *ListenMode {
	return &ListenMode{
		Port: cfg.Port,
		Socket: &transport.TCPServer{
			Host:        cfg.BindHost,
			Quit:        cfg.Quit,
			IdleTimeout: cfg.Timeout,
			Logger:      logger,
			Metrics:     m,
		},
		Logger:  logger,
		Metrics: m,
		Listening: func() {
			logger.Info("listening on %s", util.FormatAddr(cfg.BindHost, cfg.Port))
		},
	}
}

func buildConnect(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *ConnectMode {
	mode := &ConnectMode{
		Address: cfg.ConnectAddress(),
		Socket: &transport.TCPClient{
			Dialer:      buildDialer(cfg, logger),
			IdleTimeout: cfg.Timeout,
			Logger:      logger,
			Metrics:     m,
		},
		Sentinel: cfg.Quit,
		Logger:   logger,
	}
	if cfg.Retries > 1 {
		mode.Backoff = retry.New(cfg.Retries)
	}
	return mode
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer reaches the server directly, or through the SSH gateway
// when a tunnel is configured.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
		}, logger)
	}
	return &transport.TCPDialer{Timeout: config.DefaultConnTimeout}
}
