package util

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	ncerr "rexd/internal/errors"
)

// StreamOutput copies everything the peer writes on conn into w until
// the peer closes its side, ctx is cancelled, or a write to w fails.
// Ordinary connection teardown is not reported as an error.
func StreamOutput(ctx context.Context, conn net.Conn, w io.Writer) (int64, error) {
	done := make(chan struct{})
	defer close(done)

	// Unblock the pending read when the context expires.
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now()) //nolint:errcheck
		case <-done:
		}
	}()

	n, err := io.Copy(w, conn)
	if ctx.Err() != nil {
		return n, nil
	}
	if err != nil && !ncerr.IsExpectedClose(err) {
		return n, err
	}
	return n, nil
}

// CountingWriter forwards writes to W and reports every successful
// write's length to Add.  The running total is kept as well so callers
// without a metrics sink can still read it.
type CountingWriter struct {
	W   io.Writer
	Add func(n int64)

	total atomic.Int64
}

// Write implements io.Writer.
func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	if n > 0 {
		c.total.Add(int64(n))
		if c.Add != nil {
			c.Add(int64(n))
		}
	}
	return n, err
}

// Total returns the number of bytes written so far.
func (c *CountingWriter) Total() int64 { return c.total.Load() }
