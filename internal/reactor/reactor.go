// Package reactor runs the server's event loop.
//
// One goroutine waits with poll(2) on the listening socket, every
// client connection and a wake pipe.  Each iteration it accepts at
// most one new client, then reads whatever each readable client has
// sent, in the order they connected, and hands every completed frame
// to the runner.  Reads never wait: a partial frame stays with its
// connection until the rest arrives.  The poll wait is the only place
// the loop blocks, and the connection set is only touched from that
// goroutine.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"rexd/config"
	"rexd/internal/connset"
	ncerr "rexd/internal/errors"
	"rexd/internal/frame"
	"rexd/internal/metrics"
	"rexd/internal/runner"
	"rexd/util"
)

// State is the reactor's lifecycle stage.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner starts the command a client sent.  *runner.Runner implements
// it.
type Runner interface {
	Run(ctx context.Context, line string, out runner.Output) (*runner.Child, error)
}

// Config holds the reactor's collaborators and limits.
type Config struct {
	Listener      *net.TCPListener
	Runner        Runner
	FrameSize     int           // default config.DefaultFrameSize
	ReadTimeout   time.Duration // how long a frame may stay incomplete; 0 disables
	AcceptTimeout time.Duration // default config.DefaultAcceptTimeout
	Logger        *util.Logger
	Metrics       *metrics.Collector
}

// Reactor multiplexes client connections onto one goroutine.
type Reactor struct {
	ln            *net.TCPListener
	lnFD          int
	addr          string
	runner        Runner
	frameSize     int
	readTimeout   time.Duration
	acceptTimeout time.Duration
	log           *util.Logger
	metrics       *metrics.Collector

	set    *connset.Set
	poller *poller
	state  atomic.Int32
}

// New prepares a reactor around an already bound listener.
func New(cfg Config) (*Reactor, error) {
	if cfg.Listener == nil {
		return nil, errors.New("reactor: no listener")
	}
	if cfg.Runner == nil {
		return nil, errors.New("reactor: no runner")
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = config.DefaultFrameSize
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = config.DefaultAcceptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = util.NewLogger(0)
	}

	lnFD, err := rawFD(cfg.Listener)
	if err != nil {
		return nil, fmt.Errorf("reactor: listener descriptor: %w", err)
	}
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor: %w", err)
	}

	return &Reactor{
		ln:            cfg.Listener,
		lnFD:          lnFD,
		addr:          cfg.Listener.Addr().String(),
		runner:        cfg.Runner,
		frameSize:     cfg.FrameSize,
		readTimeout:   cfg.ReadTimeout,
		acceptTimeout: cfg.AcceptTimeout,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		set:           connset.New(),
		poller:        p,
	}, nil
}

// Addr returns the listening address.
func (r *Reactor) Addr() net.Addr { return r.ln.Addr() }

// State reports the lifecycle stage.  Safe from any goroutine.
func (r *Reactor) State() State { return State(r.state.Load()) }

// Run serves clients until ctx is cancelled or the listener fails.
// Either way every client connection and the listener are closed
// before it returns.  Cancellation returns nil; a listener or poll
// failure returns an error matching ErrListenerFatal.
func (r *Reactor) Run(ctx context.Context) error {
	if r.State() != StateRunning {
		return fmt.Errorf("reactor: already %s", r.State())
	}
	stop := context.AfterFunc(ctx, r.poller.wake)
	defer stop()

	r.log.Verbose("reactor running on %s (frame size %d)", r.addr, r.frameSize)
	err := r.loop(ctx)
	r.drain()
	return err
}

func (r *Reactor) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conns := r.set.Snapshot()
		rd, err := r.poller.wait(r.lnFD, conns, r.nextExpiry(conns, time.Now()))
		if err != nil {
			return ncerr.Fatal("poll", r.addr, err)
		}
		if rd.wake {
			r.poller.drainWake()
			if ctx.Err() != nil {
				return nil
			}
		}

		// New clients first, then existing ones in the order they came.
		if rd.listener {
			if err := r.accept(); err != nil {
				return err
			}
		}
		for _, c := range rd.conns {
			r.service(ctx, c)
		}
		r.expire(conns, time.Now())
	}
}

// nextExpiry is how long the poll may wait before the oldest partial
// frame runs out of ReadTimeout, or -1 when nothing can expire.
func (r *Reactor) nextExpiry(conns []*connset.Conn, now time.Time) time.Duration {
	if r.readTimeout <= 0 {
		return -1
	}
	wait := time.Duration(-1)
	for _, c := range conns {
		since, pending := c.Frame.Pending()
		if !pending {
			continue
		}
		left := since.Add(r.readTimeout).Sub(now)
		if left < 0 {
			left = 0
		}
		if wait < 0 || left < wait {
			wait = left
		}
	}
	return wait
}

// expire drops clients whose partial frame is older than ReadTimeout.
func (r *Reactor) expire(conns []*connset.Conn, now time.Time) {
	if r.readTimeout <= 0 {
		return
	}
	for _, c := range conns {
		since, pending := c.Frame.Pending()
		if !pending || now.Sub(since) < r.readTimeout || r.set.Get(c.Handle) != c {
			continue
		}
		r.drop(c, ncerr.Wrap("read", c.Remote, os.ErrDeadlineExceeded))
	}
}

// accept takes one pending client.  The deadline keeps a client that
// vanished between poll and accept from stalling the loop.
func (r *Reactor) accept() error {
	if err := r.ln.SetDeadline(time.Now().Add(r.acceptTimeout)); err != nil {
		return ncerr.Fatal("accept", r.addr, err)
	}
	tc, err := r.ln.AcceptTCP()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			r.log.Debug("accept: nothing pending")
			return nil
		}
		return ncerr.Fatal("accept", r.addr, err)
	}

	fd, err := rawFD(tc)
	if err != nil {
		r.log.Warn("accept: %v", err)
		tc.Close()
		return nil
	}
	c := &connset.Conn{
		Handle:   fd,
		Conn:     tc,
		Remote:   tc.RemoteAddr().String(),
		Accepted: time.Now(),
		Frame:    frame.NewDecoder(r.frameSize),
	}
	if err := r.set.Add(c); err != nil {
		r.log.Error("accept %s: %v", c.Remote, err)
		tc.Close()
		return nil
	}
	r.metrics.ConnectionOpened()
	r.log.Info("connection from %s", c)
	return nil
}

// service takes what c has sent so far and runs the command once its
// frame is complete.  Only the read can end the connection; command
// failures leave it open.
func (r *Reactor) service(ctx context.Context, c *connset.Conn) {
	src, err := newAvailableReader(c.Conn)
	if err != nil {
		r.drop(c, err)
		return
	}
	line, done, err := c.Frame.Feed(src)
	if err != nil {
		r.drop(c, err)
		return
	}
	if !done {
		return
	}
	r.metrics.FrameReceived(len(line))

	child, err := r.runner.Run(ctx, line, c.Conn)
	switch {
	case err == nil:
		if child != nil {
			r.log.Verbose("%s: %q → pid %d", c, line, child.Pid)
		}
	case errors.Is(err, ncerr.ErrEmptyCommand):
		r.log.Debug("%s: empty command ignored", c)
	case ncerr.IsPerCommand(err):
		r.metrics.RecordError(err.Error())
		r.log.Warn("%s: %v", c, err)
	default:
		r.metrics.RecordError(err.Error())
		r.log.Error("%s: %v", c, err)
	}
}

func (r *Reactor) drop(c *connset.Conn, err error) {
	switch {
	case errors.Is(err, ncerr.ErrFrameTooLarge):
		r.metrics.FrameRejected()
		r.log.Warn("%s: frame exceeds %d bytes, closing", c, r.frameSize)
	case ncerr.IsExpectedClose(err):
		r.log.Info("%s disconnected", c)
	default:
		r.metrics.RecordError(err.Error())
		r.log.Warn("%s: %v, closing", c, err)
	}
	if r.set.Remove(c.Handle) {
		r.metrics.ConnectionClosed()
	}
}

func (r *Reactor) drain() {
	r.state.Store(int32(StateDraining))
	n := r.set.CloseAll()
	for i := 0; i < n; i++ {
		r.metrics.ConnectionClosed()
	}
	if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		r.log.Debug("close listener: %v", err)
	}
	r.poller.close()
	r.state.Store(int32(StateStopped))
	r.log.Verbose("reactor stopped, %d connections closed", n)
}
