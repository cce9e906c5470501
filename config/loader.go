package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the REXD_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept
// either whole seconds ("5") or Go duration syntax ("1500ms").

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  Call it after the config
// file and before applying CLI flags so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("REXD_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := envInt("REXD_PORT"); v > 0 {
		cfg.Port = v
	}

	// Server
	if v := envInt("REXD_FRAME_SIZE"); v > 0 {
		cfg.FrameSize = v
	}
	if v := envDuration("REXD_READ_TIMEOUT"); v > 0 {
		cfg.ReadTimeout = v
	}
	if v := os.Getenv("REXD_SEARCH_PATH"); v != "" {
		cfg.SearchPath = v
	}
	if v := envDuration("REXD_GRACE"); v > 0 {
		cfg.GracePeriod = v
	}
	if v, ok := envIntSet("REXD_SPAWN_FAILURES"); ok {
		cfg.SpawnFailures = v
	}
	if envBool("REXD_STATS") {
		cfg.Stats = true
	}

	// SSH tunnel
	if v := os.Getenv("REXD_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("REXD_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("REXD_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("REXD_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("REXD_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("REXD_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	n, _ := envIntSet(key)
	return n
}

// envIntSet distinguishes "unset or garbage" from an explicit zero.
func envIntSet(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return secondsDuration(n)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
