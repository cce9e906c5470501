package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultFrameSize is the receive buffer capacity for one command
	// frame.  Longer frames are rejected and the client is dropped.
	DefaultFrameSize = 512

	// MaxFrameSize is the largest length a 16-bit prefix can declare.
	MaxFrameSize = 65535

	// DefaultReadTimeout bounds how long the reactor waits for the rest
	// of a frame once its first bytes arrived.
	DefaultReadTimeout = 5 * time.Second

	// DefaultAcceptTimeout bounds a single accept after the listener
	// polled readable.
	DefaultAcceptTimeout = 100 * time.Millisecond

	// DefaultGracePeriod is how long shutdown waits for running
	// children to exit before returning.
	DefaultGracePeriod = 5 * time.Second

	// DefaultSpawnFailures is the number of consecutive spawn failures
	// that pause spawning.  Zero disables the breaker.
	DefaultSpawnFailures = 20

	// DefaultSpawnCooldown is how long spawning stays paused.
	DefaultSpawnCooldown = 10 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAlive is the SSH keepalive interval for tunnelled
	// clients.
	DefaultKeepAlive = 30 * time.Second

	// DefaultDialTimeout is the client's TCP/SSH connection timeout.
	DefaultDialTimeout = 30 * time.Second

	// DefaultDialRetries is how many extra dial attempts the client
	// makes when the server refuses or resets.
	DefaultDialRetries = 3
)
