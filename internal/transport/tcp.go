package transport

import (
	"context"
	"net"
	"time"

	ncerr "rexd/internal/errors"
	"rexd/internal/metrics"
	"rexd/internal/retry"
	"rexd/util"
)

// TCPDialer establishes plain TCP connections.  With a Backoff set,
// transient failures (refused, reset, timeout) are retried so a client
// started alongside its server can wait for the listener to come up.
type TCPDialer struct {
	Timeout time.Duration
	Backoff *retry.Backoff     // nil: a single attempt
	Metrics *metrics.Collector // optional, counts retries
	Logger  *util.Logger       // optional
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}

	if d.Backoff == nil {
		conn, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, ncerr.Wrap("dial", address, err)
		}
		return conn, nil
	}

	policy := *d.Backoff
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.Metrics.DialRetry()
		if d.Logger != nil {
			d.Logger.Verbose("dial %s attempt %d failed: %v (retrying in %v)",
				address, attempt, err, wait.Round(time.Millisecond))
		}
	}

	var conn net.Conn
	err := policy.Do(ctx, func(int) error {
		c, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return ncerr.Wrap("dial", address, err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
