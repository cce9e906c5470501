package config

import (
	"strings"
	"testing"
	"time"

	ncerr "rexd/internal/errors"
)

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestApplyTunnelSpec(t *testing.T) {
	cfg := Default()
	cfg.TunnelSpec = "ops@jump:2022"
	if err := cfg.ApplyTunnelSpec(); err != nil {
		t.Fatal(err)
	}
	if !cfg.TunnelEnabled || cfg.TunnelUser != "ops" || cfg.TunnelHost != "jump" || cfg.TunnelPort != 2022 {
		t.Errorf("unexpected tunnel fields: %+v", cfg)
	}

	empty := Default()
	if err := empty.ApplyTunnelSpec(); err != nil {
		t.Fatal(err)
	}
	if empty.TunnelEnabled {
		t.Error("an empty -T should leave the tunnel disabled")
	}
}

// ── ParsePort ────────────────────────────────────────────────────────

func TestParsePort(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr string
	}{
		{"80", 80, ""},
		{"0", 0, ""},
		{"65535", 65535, ""},
		{"65536", 0, "out of range"},
		{"70000", 0, "out of range"},
		{"-1", 0, "invalid port"},
		{"abc", 0, "invalid port"},
		{"", 0, "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePort(tt.input)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParsePort(%q) error = %v, want %q", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePort(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParsePort(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// ── Default ──────────────────────────────────────────────────────────

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.FrameSize != 512 {
		t.Errorf("FrameSize = %d, want 512", cfg.FrameSize)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	if cfg.SearchPath != "" {
		t.Errorf("SearchPath = %q, want empty ($PATH)", cfg.SearchPath)
	}
	if cfg.Connect {
		t.Error("default mode should be serve")
	}
}

// ── Validate ─────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	server := func(mut func(*Config)) *Config {
		c := Default()
		c.Address = "127.0.0.1"
		c.Port = 7000
		if mut != nil {
			mut(c)
		}
		return c
	}
	client := func(mut func(*Config)) *Config {
		return server(func(c *Config) {
			c.Connect = true
			c.Address = "localhost"
			if mut != nil {
				mut(c)
			}
		})
	}

	tests := []struct {
		name      string
		cfg       *Config
		wantField string // empty means valid
	}{
		{"server ok", server(nil), ""},
		{"server ipv6", server(func(c *Config) { c.Address = "::1" }), ""},
		{"server port zero", server(func(c *Config) { c.Port = 0 }), ""},
		{"missing address", server(func(c *Config) { c.Address = "" }), "address"},
		{"hostname bind", server(func(c *Config) { c.Address = "localhost" }), "address"},
		{"port too big", server(func(c *Config) { c.Port = 65536 }), "port"},
		{"negative port", server(func(c *Config) { c.Port = -1 }), "port"},
		{"frame size zero", server(func(c *Config) { c.FrameSize = 0 }), "frame-size"},
		{"frame size max", server(func(c *Config) { c.FrameSize = MaxFrameSize }), ""},
		{"frame size over", server(func(c *Config) { c.FrameSize = MaxFrameSize + 1 }), "frame-size"},
		{"negative timeout", server(func(c *Config) { c.ReadTimeout = -time.Second }), "read-timeout"},
		{"negative spawn failures", server(func(c *Config) { c.SpawnFailures = -1 }), "spawn-failures"},
		{"server with commands", server(func(c *Config) { c.Commands = []string{"ls"} }), "exec"},
		{"server with tunnel", server(func(c *Config) { c.TunnelEnabled = true; c.TunnelHost = "j" }), "tunnel"},

		{"client ok", client(func(c *Config) { c.Commands = []string{"echo hi"} }), ""},
		{"client port zero", client(func(c *Config) { c.Port = 0 }), "port"},
		{"client long command", client(func(c *Config) { c.Commands = []string{strings.Repeat("a", MaxFrameSize+1)} }), "exec"},
		{"client negative retries", client(func(c *Config) { c.Retries = -1 }), "retries"},
		{"client tunnel", client(func(c *Config) { c.TunnelEnabled = true; c.TunnelHost = "jump" }), ""},
		{"client tunnel no host", client(func(c *Config) { c.TunnelEnabled = true }), "tunnel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ncerr.ConfigError
			if !ncerr.As(err, &ce) {
				t.Fatalf("want ConfigError for %s, got %v", tt.wantField, err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

func TestValidate_UsageHint(t *testing.T) {
	err := Default().Validate()
	if err == nil {
		t.Fatal("empty config should not validate")
	}
	if !strings.Contains(err.Error(), "usage: rexd") {
		t.Errorf("error should carry the usage line, got %q", err)
	}
}
