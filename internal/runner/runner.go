// Package runner turns command lines into child processes whose
// standard output streams back over the client's connection.
//
// A started child is detached from the caller: it owns a duplicate of
// the client socket, and a reaper goroutine waits for it, closes the
// duplicate and records the exit.  Callers never block on a child.
package runner

import (
	"context"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	ncerr "rexd/internal/errors"
	"rexd/internal/metrics"
	"rexd/internal/retry"
	"rexd/util"
)

// Output is the destination of a child's stdout.  *net.TCPConn
// satisfies it.
type Output interface {
	File() (*os.File, error)
}

// Child is a started command.
type Child struct {
	Pid     int
	Path    string
	Args    []string
	Started time.Time

	done     chan struct{}
	exitCode int
	out      *util.CountingWriter
}

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// ExitCode is the child's exit status, or -1 if it was killed by a
// signal.  Only meaningful after Done is closed.
func (c *Child) ExitCode() int {
	<-c.done
	return c.exitCode
}

// BytesOut returns how much of the child's output reached the socket.
func (c *Child) BytesOut() int64 { return c.out.Total() }

// Runner resolves and starts commands.  It is safe for concurrent use,
// although the reactor calls it from a single goroutine.
type Runner struct {
	resolver *Resolver
	log      *util.Logger
	metrics  *metrics.Collector
	breaker  *retry.Breaker

	// Stderr receives the children's standard error.  It defaults to
	// the server's own stderr.
	Stderr io.Writer

	wg      sync.WaitGroup
	running atomic.Int64
}

// New returns a Runner.  Every argument may be nil.
func New(resolver *Resolver, log *util.Logger, m *metrics.Collector, breaker *retry.Breaker) *Runner {
	if resolver == nil {
		resolver = &Resolver{}
	}
	if log == nil {
		log = util.NewLogger(0)
	}
	return &Runner{
		resolver: resolver,
		log:      log,
		metrics:  m,
		breaker:  breaker,
		Stderr:   os.Stderr,
	}
}

// Run starts the command described by line with stdout bound to out.
//
// The returned errors are all per-command: ErrEmptyCommand when line
// has no tokens, ErrCommandNotFound when the first token does not
// resolve, ErrSpawnFailed when the process could not be created.
// None of them is ever written to out.
func (r *Runner) Run(ctx context.Context, line string, out Output) (*Child, error) {
	args := Tokenize(line)
	if len(args) == 0 {
		return nil, ncerr.ErrEmptyCommand
	}
	name := args[0]

	path, err := r.resolver.Resolve(name)
	if err != nil {
		r.metrics.CommandFailed()
		return nil, ncerr.Command("resolve", name, ncerr.ErrCommandNotFound, nil)
	}
	if err := ctx.Err(); err != nil {
		r.metrics.CommandFailed()
		return nil, ncerr.Command("spawn", name, ncerr.ErrSpawnFailed, err)
	}

	sock, err := duplicate(out)
	if err != nil {
		r.metrics.CommandFailed()
		return nil, ncerr.Command("spawn", name, ncerr.ErrSpawnFailed, err)
	}

	sink := &util.CountingWriter{W: sock, Add: r.metrics.BytesSent}
	cmd := &exec.Cmd{
		Path:   path,
		Args:   args,
		Stdout: sink,
		Stderr: r.Stderr,
	}

	start := cmd.Start
	if r.breaker != nil {
		err = r.breaker.Do(start)
	} else {
		err = start()
	}
	if err != nil {
		sock.Close()
		r.metrics.CommandFailed()
		return nil, ncerr.Command("spawn", name, ncerr.ErrSpawnFailed, err)
	}

	child := &Child{
		Pid:     cmd.Process.Pid,
		Path:    path,
		Args:    args,
		Started: time.Now(),
		done:    make(chan struct{}),
		out:     sink,
	}
	r.metrics.CommandStarted()
	r.running.Add(1)
	r.wg.Add(1)
	go r.reap(cmd, sock, child)

	r.log.Verbose("started pid %d: %s", child.Pid, cmd.String())
	return child, nil
}

// reap waits for one child and releases everything it held.
func (r *Runner) reap(cmd *exec.Cmd, sock net.Conn, child *Child) {
	defer r.wg.Done()

	err := cmd.Wait()
	sock.Close()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok && !ncerr.IsExpectedClose(err) {
			r.log.Debug("pid %d: %v", child.Pid, err)
		}
	}
	child.exitCode = code

	r.metrics.CommandExited(code)
	r.running.Add(-1)
	close(child.done)

	r.log.Verbose("pid %d (%s) exited with status %d after %v, %d bytes sent",
		child.Pid, child.Args[0], code,
		time.Since(child.Started).Truncate(time.Millisecond), child.BytesOut())
}

// Running returns the number of children not yet reaped.
func (r *Runner) Running() int { return int(r.running.Load()) }

// Wait blocks until every started child has been reaped or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// duplicate gives the child its own descriptor for the client socket,
// so the reactor can close its copy without cutting the output short.
// The duplicate stays in non-blocking mode and is written through the
// runtime poller; the child itself writes into a pipe.
func duplicate(out Output) (net.Conn, error) {
	f, err := out.File()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return net.FileConn(f)
}
