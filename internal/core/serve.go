package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	ncerr "rexd/internal/errors"
	"rexd/internal/metrics"
	"rexd/internal/reactor"
	"rexd/internal/retry"
	"rexd/internal/runner"
	"rexd/util"
)

// ServeMode binds the listening socket and runs the reactor until the
// context is cancelled or the listener fails.
type ServeMode struct {
	Network       string // "tcp4" or "tcp6"
	Address       string // ip:port
	FrameSize     int
	ReadTimeout   time.Duration
	SearchPath    string
	GracePeriod   time.Duration // wait for running children on shutdown
	SpawnFailures int           // 0 disables the spawn breaker
	SpawnCooldown time.Duration
	Stats         bool
	Logger        *util.Logger
	Metrics       *metrics.Collector

	// ChildStderr receives the children's stderr (default os.Stderr).
	ChildStderr io.Writer
	// StatsOut receives the JSON snapshot when Stats is set (default
	// os.Stderr).
	StatsOut io.Writer
	// OnListen, when set, is called with the bound address before the
	// first client is accepted.
	OnListen func(net.Addr)
}

// Run serves until ctx ends.  A listener failure is returned as an
// error matching ErrListenerFatal; cancellation returns nil.
func (m *ServeMode) Run(ctx context.Context) error {
	if m.Metrics == nil {
		m.Metrics = metrics.New()
	}
	network := m.Network
	if network == "" {
		network = "tcp"
	}

	ln, err := util.ListenTCP(ctx, network, m.Address)
	if err != nil {
		return ncerr.Wrap("listen", m.Address, err)
	}

	run := runner.New(&runner.Resolver{SearchPath: m.SearchPath}, m.Logger, m.Metrics, m.breaker())
	if m.ChildStderr != nil {
		run.Stderr = m.ChildStderr
	}

	r, err := reactor.New(reactor.Config{
		Listener:    ln,
		Runner:      run,
		FrameSize:   m.FrameSize,
		ReadTimeout: m.ReadTimeout,
		Logger:      m.Logger,
		Metrics:     m.Metrics,
	})
	if err != nil {
		ln.Close()
		return err
	}

	m.Logger.Info("listening on %s", r.Addr())
	if m.OnListen != nil {
		m.OnListen(r.Addr())
	}

	runErr := r.Run(ctx)
	if runErr != nil {
		m.Logger.Error("%v", runErr)
	}
	m.waitChildren(run)

	if m.Stats {
		out := m.StatsOut
		if out == nil {
			out = os.Stderr
		}
		fmt.Fprintln(out, m.Metrics.JSON())
	}
	return runErr
}

func (m *ServeMode) breaker() *retry.Breaker {
	if m.SpawnFailures <= 0 {
		return nil
	}
	cfg := retry.SpawnBreaker(m.SpawnFailures, m.SpawnCooldown)
	cfg.OnStateChange = func(from, to retry.State) {
		m.Logger.Warn("spawn breaker %s → %s", from, to)
	}
	return retry.NewBreaker(cfg)
}

// waitChildren gives running commands GracePeriod to finish.  Children
// that outlive it are not killed, but their stdout is a pipe this
// process drains: once rexd exits, their next write gets SIGPIPE.
func (m *ServeMode) waitChildren(run *runner.Runner) {
	n := run.Running()
	if n == 0 {
		return
	}
	if m.GracePeriod <= 0 {
		m.Logger.Verbose("%d command(s) still running, not waiting", n)
		return
	}
	m.Logger.Info("waiting up to %v for %d running command(s)", m.GracePeriod, n)

	ctx, cancel := context.WithTimeout(context.Background(), m.GracePeriod)
	defer cancel()
	if err := run.Wait(ctx); err != nil {
		m.Logger.Warn("%d command(s) still running after %v, their output ends when rexd exits",
			run.Running(), m.GracePeriod)
	}
}
