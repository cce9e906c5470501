package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"rexd/internal/metrics"
	"rexd/internal/retry"
	"rexd/util"
)

// TestTCPDialer_Connect verifies that TCPDialer can reach a local
// TCP server and exchange data.
func TestTCPDialer_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// Server: accept, send greeting, close.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "hello from server\n" {
		t.Errorf("got %q, want %q", got, "hello from server\n")
	}
}

// TestTCPDialer_ContextCancel verifies that a cancelled context stops the dial.
func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second, Backoff: retry.DialBackoff(5)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// TestTCPDialer_WaitsForListener verifies refused dials are retried
// until the server starts listening.
func TestTCPDialer_WaitsForListener(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	var wg sync.WaitGroup
	wg.Add(1)
	lnc := make(chan net.Listener, 1)
	go func() {
		defer wg.Done()
		time.Sleep(300 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			lnc <- nil
			return
		}
		lnc <- ln
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	policy := retry.DialBackoff(20)
	policy.InitialDelay = 50 * time.Millisecond
	policy.MaxDelay = 100 * time.Millisecond
	m := metrics.New()

	d := &TCPDialer{Timeout: time.Second, Backoff: policy, Metrics: m}
	conn, err := d.Dial(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	if ln := <-lnc; ln != nil {
		ln.Close()
	}
	wg.Wait()

	if m.DialRetries() == 0 {
		t.Error("expected at least one recorded retry")
	}
}

// TestTCPDialer_GivesUp verifies the retry budget is honoured.
func TestTCPDialer_GivesUp(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	policy := retry.DialBackoff(2)
	policy.InitialDelay = 10 * time.Millisecond
	m := metrics.New()

	d := &TCPDialer{Timeout: time.Second, Backoff: policy, Metrics: m}
	_, err = d.Dial(context.Background(), "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err == nil {
		t.Fatal("expected dial error")
	}
	if got := m.DialRetries(); got != 2 {
		t.Errorf("DialRetries() = %d, want 2", got)
	}
}

// TestTCPDialer_NotRetryable verifies a malformed address fails on
// the first attempt.
func TestTCPDialer_NotRetryable(t *testing.T) {
	m := metrics.New()
	d := &TCPDialer{Timeout: time.Second, Backoff: retry.DialBackoff(5), Metrics: m}

	start := time.Now()
	_, err := d.Dial(context.Background(), "tcp", "no-port-here")
	if err == nil {
		t.Fatal("expected error")
	}
	if m.DialRetries() != 0 {
		t.Errorf("DialRetries() = %d, want 0", m.DialRetries())
	}
	if time.Since(start) > time.Second {
		t.Error("non-retryable error should not wait")
	}
}

// TestTCPDialer_Close verifies Close is a no-op and returns nil.
func TestTCPDialer_Close(t *testing.T) {
	d := &TCPDialer{}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// fakeTunnel hands out in-memory pipes and records calls.
type fakeTunnel struct {
	mu         sync.Mutex
	connects   int
	alive      bool
	closed     bool
	connectErr error
	dialed     []string
}

func (f *fakeTunnel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.alive = true
	return nil
}

func (f *fakeTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, address)
	a, b := net.Pipe()
	b.Close()
	return a, nil
}

func (f *fakeTunnel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive = false
	return nil
}

func (f *fakeTunnel) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

// TestSSHDialer_LazyConnect verifies the tunnel is connected once and
// reused across dials.
func TestSSHDialer_LazyConnect(t *testing.T) {
	ft := &fakeTunnel{}
	d := NewTunnelDialer(ft, "ops@jump:22", util.NewLogger(0))

	if ft.connects != 0 {
		t.Fatal("constructor should not connect")
	}
	for i := 0; i < 3; i++ {
		conn, err := d.Dial(context.Background(), "tcp", "10.0.0.5:7000")
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}
	if ft.connects != 1 {
		t.Errorf("connects = %d, want 1", ft.connects)
	}
	if len(ft.dialed) != 3 || ft.dialed[0] != "10.0.0.5:7000" {
		t.Errorf("dialed = %v", ft.dialed)
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !ft.closed {
		t.Error("Close should close the tunnel")
	}
}

// TestSSHDialer_Reconnect verifies a dead tunnel is re-established.
func TestSSHDialer_Reconnect(t *testing.T) {
	ft := &fakeTunnel{}
	d := NewTunnelDialer(ft, "jump", util.NewLogger(0))

	if _, err := d.Dial(context.Background(), "tcp", "a:1"); err != nil {
		t.Fatal(err)
	}
	ft.mu.Lock()
	ft.alive = false
	ft.mu.Unlock()

	if _, err := d.Dial(context.Background(), "tcp", "a:1"); err != nil {
		t.Fatal(err)
	}
	if ft.connects != 2 {
		t.Errorf("connects = %d, want 2", ft.connects)
	}
}

// TestSSHDialer_ConnectError verifies tunnel failures are surfaced
// and nothing is dialed.
func TestSSHDialer_ConnectError(t *testing.T) {
	boom := errors.New("handshake refused")
	ft := &fakeTunnel{connectErr: boom}
	d := NewTunnelDialer(ft, "jump", util.NewLogger(0))

	_, err := d.Dial(context.Background(), "tcp", "a:1")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(ft.dialed) != 0 {
		t.Error("nothing should be dialed when the tunnel is down")
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if ft.closed {
		t.Error("Close should not touch a tunnel that never connected")
	}
}
