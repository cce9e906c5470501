package util

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestStreamOutput_UntilPeerCloses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("line one\nline two\n")) //nolint:errcheck
		conn.Close()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var out bytes.Buffer
	n, err := StreamOutput(context.Background(), conn, &out)
	if err != nil {
		t.Fatalf("StreamOutput: %v", err)
	}
	if got := out.String(); got != "line one\nline two\n" {
		t.Errorf("output = %q", got)
	}
	if n != int64(out.Len()) {
		t.Errorf("n = %d, want %d", n, out.Len())
	}
}

func TestStreamOutput_ContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// Peer that never writes or closes.
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := StreamOutput(ctx, conn, &bytes.Buffer{}); err != nil {
		t.Fatalf("cancelled stream should not error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("StreamOutput did not return promptly after cancel")
	}

	select {
	case c := <-accepted:
		c.Close()
	default:
	}
}

func TestCountingWriter(t *testing.T) {
	var buf bytes.Buffer
	var reported int64
	w := &CountingWriter{W: &buf, Add: func(n int64) { reported += n }}

	w.Write([]byte("abc"))   //nolint:errcheck
	w.Write([]byte("defgh")) //nolint:errcheck

	if w.Total() != 8 || reported != 8 {
		t.Errorf("total = %d, reported = %d, want 8", w.Total(), reported)
	}
	if buf.String() != "abcdefgh" {
		t.Errorf("buf = %q", buf.String())
	}
}
