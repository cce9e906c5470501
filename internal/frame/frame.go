// Package frame implements the rexd wire format: a 2-byte big-endian
// length followed by that many bytes of command line.
//
// A Decoder keeps the state of the frame it is assembling, so a reader
// that returns whatever happens to be available can feed it in pieces.
// It never reads past the frame it is decoding: further frames
// pipelined by the client stay in the socket and keep it readable for
// the next poll.
package frame

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"time"

	ncerr "rexd/internal/errors"
)

// HeaderSize is the width of the length prefix.
const HeaderSize = 2

// MaxLength is the largest body the 16-bit prefix can describe.
const MaxLength = 0xFFFF

// Decoder assembles one frame at a time.  It is not safe for
// concurrent use; the reactor owns one per connection.
type Decoder struct {
	capacity int

	hdr   [HeaderSize]byte
	nhdr  int
	buf   []byte // grows up to capacity, on demand
	nbody int
	since time.Time // first byte of the pending frame
}

// NewDecoder returns a Decoder that accepts bodies of up to capacity
// bytes.  Frames that declare a longer body are rejected.
func NewDecoder(capacity int) *Decoder {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > MaxLength {
		capacity = MaxLength
	}
	return &Decoder{capacity: capacity}
}

// Capacity returns the largest body length this Decoder accepts.
func (d *Decoder) Capacity() int { return d.capacity }

// Pending reports whether part of a frame has been read, and since
// when.
func (d *Decoder) Pending() (time.Time, bool) {
	return d.since, d.nhdr > 0
}

// Feed reads from r until the current frame is complete or r has
// nothing more to give.  r may be non-blocking: a Read returning
// (0, nil) means "nothing available now", and Feed returns with done
// false and the partial frame kept for the next call.
//
// A stream that ends inside a frame, or before one starts, yields
// ErrConnectionClosed.  A declared length above Capacity yields
// ErrFrameTooLarge and the body is left unread.  Any other read
// failure comes back as a NetworkError.
func (d *Decoder) Feed(r io.Reader) (command string, done bool, err error) {
	first := d.nhdr == 0
	ok, err := fill(r, d.hdr[:], &d.nhdr)
	if first && d.nhdr > 0 {
		d.since = time.Now()
	}
	if !ok {
		return "", false, d.fail(r, err)
	}

	n := int(binary.BigEndian.Uint16(d.hdr[:]))
	if n > d.capacity {
		d.reset()
		return "", false, ncerr.ErrFrameTooLarge
	}
	if len(d.buf) < n {
		d.buf = make([]byte, n)
	}
	body := d.buf[:n]
	if ok, err := fill(r, body, &d.nbody); !ok {
		return "", false, d.fail(r, err)
	}

	command = Normalize(body)
	d.reset()
	return command, true, nil
}

// ReadCommand reads one whole frame from a blocking reader.
func (d *Decoder) ReadCommand(r io.Reader) (string, error) {
	for {
		cmd, done, err := d.Feed(r)
		if err != nil || done {
			return cmd, err
		}
	}
}

func (d *Decoder) reset() {
	d.nhdr, d.nbody = 0, 0
	d.since = time.Time{}
}

func (d *Decoder) fail(r io.Reader, err error) error {
	if err == nil {
		return nil
	}
	d.reset()
	return readErr(r, err)
}

// fill reads into p[*have:] until p is full.  It stops early, without
// an error, when r returns no data.
func fill(r io.Reader, p []byte, have *int) (bool, error) {
	for *have < len(p) {
		n, err := r.Read(p[*have:])
		*have += n
		if *have == len(p) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Normalize turns a raw frame body into a command line: the body ends
// at the first NUL byte and one trailing newline is dropped.
func Normalize(body []byte) string {
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	body = bytes.TrimSuffix(body, []byte{'\n'})
	return string(body)
}

// Encode returns the wire form of command.
func Encode(command string) ([]byte, error) {
	if len(command) > MaxLength {
		return nil, ncerr.ErrFrameTooLarge
	}
	out := make([]byte, HeaderSize+len(command))
	binary.BigEndian.PutUint16(out, uint16(len(command)))
	copy(out[HeaderSize:], command)
	return out, nil
}

// Write sends command to w as a single frame.
func Write(w io.Writer, command string) error {
	b, err := Encode(command)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readErr(r io.Reader, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ncerr.ErrConnectionClosed
	}
	if ncerr.IsExpectedClose(err) {
		return ncerr.Join(ncerr.ErrConnectionClosed, err)
	}
	addr := "-"
	if c, ok := r.(interface{ RemoteAddr() net.Addr }); ok {
		addr = c.RemoteAddr().String()
	}
	return ncerr.Wrap("read", addr, err)
}
