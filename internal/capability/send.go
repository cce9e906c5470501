package capability

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"rexd/internal/frame"
	"rexd/internal/session"
	"rexd/util"
)

// Send frames command lines to a rexd server and copies whatever the
// server's children write back into the session's Stdout.
//
// Commands are sent in order.  With no Commands, each non-blank line
// read from Stdin becomes one frame.  After the last frame the write
// side is half-closed; Handle returns once the server has closed the
// connection, which happens when every child it started has exited.
type Send struct {
	Commands []string
}

// Handle implements Capability.
func (s *Send) Handle(ctx context.Context, sess *session.Session) error {
	out := &util.CountingWriter{W: sess.Stdout, Add: sess.Metrics.BytesReceived}

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := util.StreamOutput(ctx, sess.Conn, out)
		done <- result{n, err}
	}()

	sent, sendErr := s.sendAll(ctx, sess)
	if err := sess.CloseWrite(); err != nil && sendErr == nil {
		sess.Logger.Debug("half-close: %v", err)
	}
	sess.Logger.Verbose("sent %d command(s)", sent)

	if sendErr != nil {
		// The server will not finish the stream for us.
		sess.Conn.Close()
		<-done
		return sendErr
	}

	r := <-done
	sess.Logger.Verbose("received %d byte(s)", r.n)
	return r.err
}

func (s *Send) sendAll(ctx context.Context, sess *session.Session) (int, error) {
	sent := 0
	send := func(line string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := frame.Write(sess.Conn, line); err != nil {
			return fmt.Errorf("send %q: %w", line, err)
		}
		sess.Metrics.BytesSent(int64(len(line) + frame.HeaderSize))
		sess.Logger.Debug("sent %q", line)
		sent++
		return nil
	}

	if len(s.Commands) > 0 {
		for _, cmd := range s.Commands {
			if err := send(cmd); err != nil {
				return sent, err
			}
		}
		return sent, nil
	}

	sc := bufio.NewScanner(sess.Stdin)
	sc.Buffer(make([]byte, 0, 4096), frame.MaxLength+1)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := send(line); err != nil {
			return sent, err
		}
	}
	if err := sc.Err(); err != nil {
		return sent, fmt.Errorf("read commands: %w", err)
	}
	return sent, nil
}
