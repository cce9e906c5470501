// Package session binds one client connection to the I/O endpoints a
// capability works with.
//
// A capability never touches os.Stdin or os.Stdout directly; it uses
// the session's Stdin/Stdout, so tests can drive it with buffers.
package session

import (
	"io"
	"net"

	"rexd/internal/metrics"
	"rexd/util"
)

// Session encapsulates the runtime context for a single connection.
type Session struct {
	Conn    net.Conn
	Stdin   io.Reader
	Stdout  io.Writer
	Logger  *util.Logger
	Metrics *metrics.Collector // optional
}

// New creates a Session bound to the given connection and I/O pair.
func New(conn net.Conn, stdin io.Reader, stdout io.Writer, logger *util.Logger) *Session {
	return &Session{
		Conn:   conn,
		Stdin:  stdin,
		Stdout: stdout,
		Logger: logger,
	}
}

// CloseWrite half-closes the connection so the server sees end of
// stream while output can still be read.  Connections without
// half-close support are left open.
func (s *Session) CloseWrite() error {
	if cw, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
