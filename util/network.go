package util

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// ParseIPLiteral accepts a numeric IPv4 or IPv6 address and reports
// which family it belongs to ("tcp4" or "tcp6").  Host names are
// rejected: the server binds exactly the address it was given.
func ParseIPLiteral(s string) (net.IP, string, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, "", fmt.Errorf("%s is not an IPv4 or an IPv6 address", s)
	}
	if ip.To4() != nil {
		return ip, "tcp4", nil
	}
	return ip, "tcp6", nil
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ListenTCP binds a TCP listener on address with SO_REUSEADDR set, so
// a restarted server can rebind while old connections sit in
// TIME_WAIT.
func ListenTCP(ctx context.Context, network, address string) (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
