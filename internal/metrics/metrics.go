// Package metrics provides lightweight, lock-free counters and gauges
// for tracking what a rexd process has served.
//
// All methods are safe for concurrent use: the reactor goroutine and
// every child reaper record into the same Collector.  A nil *Collector
// is a valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one server or client run.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	framesReceived    atomic.Int64
	framesRejected    atomic.Int64
	commandsStarted   atomic.Int64
	commandsFailed    atomic.Int64
	commandsExited    atomic.Int64
	commandsNonZero   atomic.Int64
	childrenRunning   atomic.Int64
	dialRetries       atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Frame metrics ────────────────────────────────────────────────────

// FrameReceived records one decoded frame carrying an n-byte command.
// The two prefix bytes count towards BytesReceived.
func (c *Collector) FrameReceived(n int) {
	if c == nil {
		return
	}
	c.framesReceived.Add(1)
	c.bytesIn.Add(int64(n) + 2)
}

// FrameRejected records a frame whose declared length exceeded the
// receive buffer.
func (c *Collector) FrameRejected() {
	if c == nil {
		return
	}
	c.framesRejected.Add(1)
}

// FramesReceived returns the number of frames decoded.
func (c *Collector) FramesReceived() int64 {
	if c == nil {
		return 0
	}
	return c.framesReceived.Load()
}

// FramesRejected returns the number of oversize frames.
func (c *Collector) FramesRejected() int64 {
	if c == nil {
		return 0
	}
	return c.framesRejected.Load()
}

// ── Command metrics ──────────────────────────────────────────────────

// CommandStarted records a child that was started successfully.
func (c *Collector) CommandStarted() {
	if c == nil {
		return
	}
	c.commandsStarted.Add(1)
	c.childrenRunning.Add(1)
}

// CommandFailed records a command that could not be resolved or
// started.
func (c *Collector) CommandFailed() {
	if c == nil {
		return
	}
	c.commandsFailed.Add(1)
}

// CommandExited records a reaped child and its exit code.
func (c *Collector) CommandExited(code int) {
	if c == nil {
		return
	}
	c.childrenRunning.Add(-1)
	c.commandsExited.Add(1)
	if code != 0 {
		c.commandsNonZero.Add(1)
	}
}

// CommandsStarted returns the number of children started.
func (c *Collector) CommandsStarted() int64 {
	if c == nil {
		return 0
	}
	return c.commandsStarted.Load()
}

// CommandsFailed returns the number of commands that never ran.
func (c *Collector) CommandsFailed() int64 {
	if c == nil {
		return 0
	}
	return c.commandsFailed.Load()
}

// ChildrenRunning returns the number of children not yet reaped.
func (c *Collector) ChildrenRunning() int64 {
	if c == nil {
		return 0
	}
	return c.childrenRunning.Load()
}

// ── Client metrics ───────────────────────────────────────────────────

// DialRetry records one extra dial attempt.
func (c *Collector) DialRetry() {
	if c == nil {
		return
	}
	c.dialRetries.Add(1)
}

// DialRetries returns the number of extra dial attempts.
func (c *Collector) DialRetries() int64 {
	if c == nil {
		return 0
	}
	return c.dialRetries.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	FramesReceived    int64  `json:"frames_received"`
	FramesRejected    int64  `json:"frames_rejected"`
	CommandsStarted   int64  `json:"commands_started"`
	CommandsFailed    int64  `json:"commands_failed"`
	CommandsExited    int64  `json:"commands_exited"`
	CommandsNonZero   int64  `json:"commands_nonzero"`
	ChildrenRunning   int64  `json:"children_running"`
	DialRetries       int64  `json:"dial_retries,omitempty"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		FramesReceived:    c.framesReceived.Load(),
		FramesRejected:    c.framesRejected.Load(),
		CommandsStarted:   c.commandsStarted.Load(),
		CommandsFailed:    c.commandsFailed.Load(),
		CommandsExited:    c.commandsExited.Load(),
		CommandsNonZero:   c.commandsNonZero.Load(),
		ChildrenRunning:   c.childrenRunning.Load(),
		DialRetries:       c.dialRetries.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
