// Package capability defines what a client does over an established
// connection.  A Capability operates on a Session rather than a raw
// net.Conn, which keeps it testable and decoupled from the transport.
package capability

import (
	"context"

	"rexd/internal/session"
)

// Capability handles a single connection.
type Capability interface {
	// Handle runs the capability against the given session.
	// It blocks until the connection is done or the context is
	// cancelled.
	Handle(ctx context.Context, sess *session.Session) error
}
