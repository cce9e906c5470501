// Package config defines the runtime configuration for rexd and provides
// helpers for parsing ports, bind addresses and tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "rexd/internal/errors"
	"rexd/util"
)

// Config holds every tuneable for a single rexd process, server or
// client.  The yaml tags name the keys accepted by --config files.
type Config struct {
	// ── Endpoint ─────────────────────────────────────────────────────
	Address string `yaml:"address"` // serve: IP literal to bind; connect: host to dial
	Port    int    `yaml:"port"`

	// ── Server ───────────────────────────────────────────────────────
	FrameSize     int           `yaml:"frame_size"`   // receive buffer capacity
	ReadTimeout   time.Duration `yaml:"read_timeout"` // bound on reading one frame
	SearchPath    string        `yaml:"search_path"`  // empty → $PATH
	GracePeriod   time.Duration `yaml:"grace_period"` // wait for children on shutdown
	SpawnFailures int           `yaml:"spawn_failures"`
	SpawnCooldown time.Duration `yaml:"spawn_cooldown"`
	Stats         bool          `yaml:"stats"`

	// ── Client ───────────────────────────────────────────────────────
	Connect  bool          `yaml:"-"`
	Commands []string      `yaml:"-"`
	Timeout  time.Duration `yaml:"dial_timeout"`
	Retries  int           `yaml:"dial_retries"`

	// ── SSH tunnel (client) ──────────────────────────────────────────
	TunnelSpec     string `yaml:"tunnel"` // raw user@host[:port] from -T
	TunnelEnabled  bool   `yaml:"-"`
	TunnelUser     string `yaml:"-"`
	TunnelHost     string `yaml:"-"`
	TunnelPort     int    `yaml:"-"`
	SSHKeyPath     string `yaml:"ssh_key"`
	SSHPassword    bool   `yaml:"-"` // true → prompt interactively
	UseSSHAgent    bool   `yaml:"ssh_agent"`
	StrictHostKey  bool   `yaml:"strict_hostkey"`
	KnownHostsPath string `yaml:"known_hosts"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int  `yaml:"verbose"`
	DryRun  bool `yaml:"-"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		FrameSize:     DefaultFrameSize,
		ReadTimeout:   DefaultReadTimeout,
		GracePeriod:   DefaultGracePeriod,
		SpawnFailures: DefaultSpawnFailures,
		SpawnCooldown: DefaultSpawnCooldown,
		Timeout:       DefaultDialTimeout,
		Retries:       DefaultDialRetries,
	}
}

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port number in 0-65535.  Zero asks the
// kernel for an ephemeral port.
func ParsePort(s string) (int, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, fmt.Errorf("port %q out of range 0-65535", s)
		}
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return int(n), nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
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

// ApplyTunnelSpec parses TunnelSpec (if set) into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
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
	if c.Address == "" {
		return &ncerr.ConfigError{
			Field:   "address",
			Message: "the ip address and port are required",
			Hint:    "usage: rexd [options] <ip address> <port>",
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 0-65535"}
	}

	if c.Connect {
		return c.validateClient()
	}
	return c.validateServer()
}

func (c *Config) validateServer() error {
	if _, _, err := util.ParseIPLiteral(c.Address); err != nil {
		return &ncerr.ConfigError{
			Field:   "address",
			Value:   c.Address,
			Message: err.Error(),
			Hint:    "the server binds a numeric address, e.g. 0.0.0.0 or ::",
		}
	}
	if c.FrameSize < 1 || c.FrameSize > MaxFrameSize {
		return &ncerr.ConfigError{
			Field:   "frame-size",
			Value:   c.FrameSize,
			Message: fmt.Sprintf("out of range 1-%d", MaxFrameSize),
			Hint:    "the length prefix is 16 bits wide",
		}
	}
	if c.ReadTimeout < 0 {
		return &ncerr.ConfigError{Field: "read-timeout", Value: c.ReadTimeout, Message: "must not be negative"}
	}
	if c.SpawnFailures < 0 {
		return &ncerr.ConfigError{Field: "spawn-failures", Value: c.SpawnFailures, Message: "must not be negative"}
	}
	if len(c.Commands) > 0 {
		return &ncerr.ConfigError{
			Field:   "exec",
			Message: "commands can only be sent in connect mode",
			Hint:    "add -C to send commands to a running server",
		}
	}
	if c.TunnelEnabled {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Message: "serving through an SSH tunnel is not supported",
			Hint:    "use -T together with -C",
		}
	}
	return nil
}

func (c *Config) validateClient() error {
	if c.Port == 0 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "connect mode needs a port in 1-65535"}
	}
	for _, cmd := range c.Commands {
		if len(cmd) > MaxFrameSize {
			return &ncerr.ConfigError{
				Field:   "exec",
				Message: fmt.Sprintf("command longer than %d bytes", MaxFrameSize),
			}
		}
	}
	if c.Retries < 0 {
		return &ncerr.ConfigError{Field: "retries", Value: c.Retries, Message: "must not be negative"}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required"}
	}
	return nil
}
