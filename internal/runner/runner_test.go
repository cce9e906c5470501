package runner

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "rexd/internal/errors"
	"rexd/internal/metrics"
	"rexd/internal/retry"
	"rexd/util"
)

const systemPath = "/usr/local/bin:/usr/bin:/bin"

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// tcpPair returns the server side of a loopback connection and the
// client that dialled it.
func tcpPair(t *testing.T) (*net.TCPConn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server.(*net.TCPConn), client
}

func readAll(t *testing.T, c net.Conn) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	b, err := io.ReadAll(c)
	require.NoError(t, err)
	return string(b)
}

func newRunner(m *metrics.Collector, cb *retry.Breaker) *Runner {
	return New(&Resolver{SearchPath: systemPath}, quietLogger(), m, cb)
}

func TestRun_Echo(t *testing.T) {
	m := metrics.New()
	r := newRunner(m, nil)
	server, client := tcpPair(t)

	child, err := r.Run(context.Background(), "echo hi", server)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hi"}, child.Args)
	assert.True(t, filepath.IsAbs(child.Path))

	// the caller's copy can go away; the child keeps its own
	server.Close()

	assert.Equal(t, "hi\n", readAll(t, client))
	<-child.Done()
	assert.Equal(t, 0, child.ExitCode())
	assert.EqualValues(t, 3, child.BytesOut())
	assert.Zero(t, r.Running())

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.CommandsStarted)
	assert.EqualValues(t, 1, snap.CommandsExited)
	assert.EqualValues(t, 3, snap.BytesOut)
}

func TestRun_ArgumentsPassedVerbatim(t *testing.T) {
	r := newRunner(nil, nil)
	server, client := tcpPair(t)

	_, err := r.Run(context.Background(), `echo  "a   b"  $HOME`, server)
	require.NoError(t, err)
	server.Close()

	assert.Equal(t, "\"a b\" $HOME\n", readAll(t, client))
}

func TestRun_NonZeroExit(t *testing.T) {
	m := metrics.New()
	r := newRunner(m, nil)
	server, client := tcpPair(t)

	child, err := r.Run(context.Background(), "false", server)
	require.NoError(t, err)
	server.Close()

	assert.Empty(t, readAll(t, client))
	assert.Equal(t, 1, child.ExitCode())
	assert.EqualValues(t, 1, m.Snapshot().CommandsNonZero)
}

func TestRun_Empty(t *testing.T) {
	r := newRunner(nil, nil)
	server, _ := tcpPair(t)

	for _, line := range []string{"", "   "} {
		_, err := r.Run(context.Background(), line, server)
		assert.ErrorIs(t, err, ncerr.ErrEmptyCommand)
	}
	assert.Zero(t, r.Running())
}

func TestRun_NotFound(t *testing.T) {
	m := metrics.New()
	r := newRunner(m, nil)
	server, client := tcpPair(t)

	_, err := r.Run(context.Background(), "doesnotexist --flag", server)
	require.ErrorIs(t, err, ncerr.ErrCommandNotFound)

	var ce *ncerr.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "doesnotexist", ce.Name)
	assert.True(t, ncerr.IsPerCommand(err))
	assert.EqualValues(t, 1, m.CommandsFailed())

	// nothing was written to the client
	require.NoError(t, client.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = client.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected silence, got %v", err)
}

// A file that passes the execute-permission test but is not a valid
// executable fails at exec time.
func writeBogusExecutable(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bogus"), []byte("not a program\n"), 0o755))
	return dir
}

func TestRun_SpawnFailure(t *testing.T) {
	dir := writeBogusExecutable(t)
	m := metrics.New()
	r := New(&Resolver{SearchPath: dir}, quietLogger(), m, nil)
	server, _ := tcpPair(t)

	_, err := r.Run(context.Background(), "bogus", server)
	require.ErrorIs(t, err, ncerr.ErrSpawnFailed)
	assert.True(t, ncerr.IsPerCommand(err))
	assert.Zero(t, r.Running())
	assert.EqualValues(t, 1, m.CommandsFailed())
	assert.Zero(t, m.CommandsStarted())
}

// A client that keeps sending a broken executable gets its own errors
// but does not stop anyone else from running commands.
func TestRun_BadExecutableLeavesBreakerClosed(t *testing.T) {
	dir := writeBogusExecutable(t)
	cb := retry.NewBreaker(retry.SpawnBreaker(1, time.Hour))
	r := New(&Resolver{SearchPath: dir + ":" + systemPath}, quietLogger(), nil, cb)
	server, client := tcpPair(t)

	for i := 0; i < 3; i++ {
		_, err := r.Run(context.Background(), "bogus", server)
		require.ErrorIs(t, err, ncerr.ErrSpawnFailed)
		assert.NotErrorIs(t, err, ncerr.ErrCircuitOpen)
	}
	assert.Equal(t, retry.StateClosed, cb.State())

	_, err := r.Run(context.Background(), "echo still-serving", server)
	require.NoError(t, err)
	server.Close()
	assert.Equal(t, "still-serving\n", readAll(t, client))
}

func TestRun_OpenBreakerRefuses(t *testing.T) {
	m := metrics.New()
	cb := retry.NewBreaker(retry.SpawnBreaker(1, time.Hour))
	cb.Do(func() error { return syscall.EAGAIN }) //nolint:errcheck
	require.Equal(t, retry.StateOpen, cb.State())

	r := newRunner(m, cb)
	server, _ := tcpPair(t)
	_, err := r.Run(context.Background(), "true", server)
	require.ErrorIs(t, err, ncerr.ErrSpawnFailed)
	assert.ErrorIs(t, err, ncerr.ErrCircuitOpen)
	assert.EqualValues(t, 1, m.CommandsFailed())
	assert.Zero(t, r.Running())
}

type brokenOutput struct{}

func (brokenOutput) File() (*os.File, error) { return nil, errors.New("not a socket") }

func TestRun_OutputUnavailable(t *testing.T) {
	r := newRunner(nil, nil)
	_, err := r.Run(context.Background(), "true", brokenOutput{})
	assert.ErrorIs(t, err, ncerr.ErrSpawnFailed)
}

func TestRun_CancelledContext(t *testing.T) {
	r := newRunner(nil, nil)
	server, _ := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, "true", server)
	assert.ErrorIs(t, err, ncerr.ErrSpawnFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Wait(t *testing.T) {
	r := newRunner(nil, nil)
	server, client := tcpPair(t)

	child, err := r.Run(context.Background(), "sleep 0.3", server)
	require.NoError(t, err)
	server.Close()
	assert.Equal(t, 1, r.Running())

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(short), context.DeadlineExceeded)

	require.NoError(t, r.Wait(context.Background()))
	assert.Zero(t, r.Running())
	select {
	case <-child.Done():
	default:
		t.Fatal("child should be reaped after Wait")
	}
	// the duplicate socket was closed by the reaper
	assert.Empty(t, readAll(t, client))
}

func TestRunner_ConcurrentChildrenKeepOutputsApart(t *testing.T) {
	r := newRunner(nil, nil)
	s1, c1 := tcpPair(t)
	s2, c2 := tcpPair(t)

	_, err := r.Run(context.Background(), "echo first", s1)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), "echo second", s2)
	require.NoError(t, err)
	s1.Close()
	s2.Close()

	assert.Equal(t, "first\n", readAll(t, c1))
	assert.Equal(t, "second\n", readAll(t, c2))
	require.NoError(t, r.Wait(context.Background()))
}
