// Package transport opens the client's connection to a rexd server.
// A transport only decides how bytes reach the server: directly over
// TCP, or forwarded through an SSH jump host.  What travels over the
// connection is the capability layer's job.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
