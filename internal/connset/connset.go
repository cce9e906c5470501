// Package connset tracks the client connections a reactor is serving.
package connset

import (
	"fmt"
	"net"
	"time"

	ncerr "rexd/internal/errors"
	"rexd/internal/frame"
)

// Conn is one accepted client.  Handle is the socket's descriptor
// number and is unique among open connections.  Frame holds the
// partially received frame between readiness events.
type Conn struct {
	Handle   int
	Conn     *net.TCPConn
	Remote   string
	Accepted time.Time
	Frame    *frame.Decoder
}

func (c *Conn) String() string {
	return fmt.Sprintf("#%d %s", c.Handle, c.Remote)
}

// Set is an insertion-ordered collection of connections keyed by
// handle.  It is not safe for concurrent use: only the reactor
// goroutine mutates it.
type Set struct {
	order []*Conn
	index map[int]int // handle → position in order
}

// New returns an empty Set.
func New() *Set {
	return &Set{index: make(map[int]int)}
}

// Add registers c.  A second Add of a handle already present returns
// ErrDuplicateHandle and leaves the set unchanged.
func (s *Set) Add(c *Conn) error {
	if _, ok := s.index[c.Handle]; ok {
		return fmt.Errorf("handle %d: %w", c.Handle, ncerr.ErrDuplicateHandle)
	}
	s.index[c.Handle] = len(s.order)
	s.order = append(s.order, c)
	return nil
}

// Remove deregisters and closes the connection with the given handle.
// It reports whether the handle was present; removing an absent
// handle does nothing.
func (s *Set) Remove(handle int) bool {
	i, ok := s.index[handle]
	if !ok {
		return false
	}
	c := s.order[i]
	copy(s.order[i:], s.order[i+1:])
	s.order[len(s.order)-1] = nil
	s.order = s.order[:len(s.order)-1]
	delete(s.index, handle)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j].Handle] = j
	}
	closeConn(c)
	return true
}

// Get returns the connection with the given handle, or nil.
func (s *Set) Get(handle int) *Conn {
	if i, ok := s.index[handle]; ok {
		return s.order[i]
	}
	return nil
}

// Len returns the number of registered connections.
func (s *Set) Len() int { return len(s.order) }

// Snapshot returns the registered connections in insertion order.  The
// slice is a copy, so the caller may Remove while ranging over it.
func (s *Set) Snapshot() []*Conn {
	out := make([]*Conn, len(s.order))
	copy(out, s.order)
	return out
}

// CloseAll closes every registered connection once, empties the set
// and returns how many were closed.
func (s *Set) CloseAll() int {
	n := len(s.order)
	for _, c := range s.order {
		closeConn(c)
	}
	s.order = nil
	s.index = make(map[int]int)
	return n
}

func closeConn(c *Conn) {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}
