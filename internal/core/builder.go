package core

import (
	"rexd/config"
	"rexd/internal/capability"
	"rexd/internal/metrics"
	"rexd/internal/retry"
	"rexd/internal/transport"
	"rexd/tunnel"
	"rexd/util"
)

// Build constructs the Mode selected by cfg.  cfg is expected to have
// passed Validate.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.Connect {
		return buildSend(cfg, logger), nil
	}
	return buildServe(cfg, logger)
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) (Mode, error) {
	_, network, err := util.ParseIPLiteral(cfg.Address)
	if err != nil {
		return nil, err
	}
	return &ServeMode{
		Network:       network,
		Address:       util.FormatAddr(cfg.Address, cfg.Port),
		FrameSize:     cfg.FrameSize,
		ReadTimeout:   cfg.ReadTimeout,
		SearchPath:    cfg.SearchPath,
		GracePeriod:   cfg.GracePeriod,
		SpawnFailures: cfg.SpawnFailures,
		SpawnCooldown: cfg.SpawnCooldown,
		Stats:         cfg.Stats,
		Logger:        logger,
		Metrics:       metrics.New(),
	}, nil
}

func buildSend(cfg *config.Config, logger *util.Logger) Mode {
	m := metrics.New()
	return &SendMode{
		Dialer:     buildDialer(cfg, logger, m),
		Capability: &capability.Send{Commands: cfg.Commands},
		Network:    "tcp",
		Address:    util.FormatAddr(cfg.Address, cfg.Port),
		Logger:     logger,
		Metrics:    m,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger, m *metrics.Collector) transport.Dialer {
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
			ConnTimeout:   cfg.Timeout,
			KeepAlive:     config.DefaultKeepAlive,
		}, logger)
	}

	return &transport.TCPDialer{
		Timeout: cfg.Timeout,
		Backoff: retry.DialBackoff(cfg.Retries),
		Metrics: m,
		Logger:  logger,
	}
}
