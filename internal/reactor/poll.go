package reactor

import (
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"rexd/internal/connset"
)

// poller waits on the listener, the client sockets and a wake pipe
// with poll(2).  Writing to the pipe interrupts a wait that would
// otherwise block forever.
type poller struct {
	wakeR, wakeW *os.File
	wakeFD       int
	fds          []unix.PollFd
}

// readiness is the outcome of one wait.
type readiness struct {
	wake     bool
	listener bool
	conns    []*connset.Conn // snapshot order
}

func newPoller() (*poller, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	fd, err := rawFD(r)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	return &poller{wakeR: r, wakeW: w, wakeFD: fd}, nil
}

// wake makes the current or next wait return.  Safe to call from any
// goroutine, also after close.
func (p *poller) wake() {
	p.wakeW.Write([]byte{1}) //nolint:errcheck
}

// drainWake consumes a pending wake-up.  Only call it after a wait
// reported the pipe readable.
func (p *poller) drainWake() {
	var buf [16]byte
	p.wakeR.Read(buf[:]) //nolint:errcheck
}

// wait blocks until the wake pipe, the listener or any of conns is
// readable, or until timeout passes (negative: no timeout).  Hang-ups
// and socket errors on a connection count as readable: the following
// read reports them.
func (p *poller) wait(listenerFD int, conns []*connset.Conn, timeout time.Duration) (readiness, error) {
	p.fds = append(p.fds[:0],
		unix.PollFd{Fd: int32(p.wakeFD), Events: unix.POLLIN},
		unix.PollFd{Fd: int32(listenerFD), Events: unix.POLLIN},
	)
	for _, c := range conns {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(c.Handle), Events: unix.POLLIN})
	}

	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	for {
		_, err := unix.Poll(p.fds, ms)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		return readiness{}, fmt.Errorf("poll: %w", err)
	}

	var rd readiness
	rd.wake = p.fds[0].Revents != 0
	ev := p.fds[1].Revents
	if ev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return rd, fmt.Errorf("listener not pollable (revents %#x)", ev)
	}
	rd.listener = ev&unix.POLLIN != 0
	for i, c := range conns {
		if p.fds[i+2].Revents != 0 {
			rd.conns = append(rd.conns, c)
		}
	}
	return rd, nil
}

func (p *poller) close() {
	p.wakeW.Close()
	p.wakeR.Close()
}

// rawFD returns the descriptor behind sc without the side effects of
// Fd(), which would switch the socket to blocking mode.
func rawFD(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// availableReader reads only what the socket already holds.  Read
// returns (0, nil) where a blocking read would wait, and io.EOF once
// the peer has shut down its side.
type availableReader struct {
	conn *net.TCPConn
	rc   syscall.RawConn
}

func newAvailableReader(c *net.TCPConn) (availableReader, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return availableReader{}, err
	}
	return availableReader{conn: c, rc: rc}, nil
}

func (a availableReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var (
		n     int
		errno error
	)
	err := a.rc.Read(func(fd uintptr) bool {
		for {
			n, errno = unix.Read(int(fd), p)
			if errno != unix.EINTR {
				return true
			}
		}
	})
	switch {
	case err != nil:
		return 0, err
	case errno == unix.EAGAIN:
		return 0, nil
	case errno != nil:
		return 0, os.NewSyscallError("read", errno)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

// RemoteAddr names the peer in read errors.
func (a availableReader) RemoteAddr() net.Addr { return a.conn.RemoteAddr() }
