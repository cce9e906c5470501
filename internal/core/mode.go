// Package core is the orchestration layer.  It composes the server's
// reactor and runner, or the client's transport and capability, into
// complete operational modes and provides a builder that selects the
// right mode from a Config.
//
// Layers (bottom → top):
//
//	frame, runner, connset  →  reactor  →  core (ServeMode)  →  cmd
//	transport  →  capability  →  session  →  core (SendMode)  →  cmd
package core

import "context"

// Mode is a complete operational mode of rexd (serve or send).  Each
// mode owns its full lifecycle from socket setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
