// Package errors provides domain-specific error types for rexd.
//
// The sentinels form the server's error taxonomy: per-connection
// failures (ErrConnectionClosed, ErrFrameTooLarge), per-command
// failures (ErrCommandNotFound, ErrSpawnFailed, ErrEmptyCommand) and
// the one class that ends the process (ErrListenerFatal).  The
// structured types carry the operation and subject so log lines can
// say what failed without string matching.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrConnectionClosed = errors.New("connection closed by peer")
	ErrFrameTooLarge    = errors.New("frame exceeds receive buffer")
	ErrCommandNotFound  = errors.New("command not found")
	ErrSpawnFailed      = errors.New("spawn failed")
	ErrEmptyCommand     = errors.New("empty command")
	ErrDuplicateHandle  = errors.New("duplicate connection handle")
	ErrListenerFatal    = errors.New("listener failure")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrNotConnected     = errors.New("not connected")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // "listen", "accept", "poll", "read", "dial"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// CommandError describes a command that could not be resolved or
// started.  Err is one of ErrCommandNotFound / ErrSpawnFailed, joined
// with the OS error when there is one.
type CommandError struct {
	Op   string // "resolve" or "spawn"
	Name string // argv[0] as sent by the client
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Fatal marks err as a listener failure.  errors.Is(err,
// ErrListenerFatal) holds for the result, and the cause stays
// reachable through Unwrap.
func Fatal(op, addr string, err error) error {
	return &NetworkError{Op: op, Addr: addr, Err: errors.Join(ErrListenerFatal, err)}
}

// Command builds a CommandError whose chain contains both kind and
// the underlying cause (if any).
func Command(op, name string, kind, cause error) *CommandError {
	if cause == nil {
		return &CommandError{Op: op, Name: name, Err: kind}
	}
	return &CommandError{Op: op, Name: name, Err: errors.Join(kind, cause)}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsExpectedClose reports whether err is an ordinary end of a
// connection: EOF, use of a closed connection, broken pipe or reset.
// These are logged at verbose level, not as errors.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsResourceExhausted reports whether err says the host ran out of
// something process creation needs: process slots (EAGAIN), file
// descriptors (EMFILE, ENFILE) or memory (ENOMEM).  A missing or
// malformed executable is not exhaustion.
func IsResourceExhausted(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EAGAIN, syscall.EMFILE, syscall.ENFILE, syscall.ENOMEM:
		return true
	}
	return false
}

// IsPerCommand reports whether err only affects the command that
// produced it, leaving the connection usable.
func IsPerCommand(err error) bool {
	return errors.Is(err, ErrCommandNotFound) ||
		errors.Is(err, ErrSpawnFailed) ||
		errors.Is(err, ErrEmptyCommand)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			return errno == syscall.ECONNREFUSED || errno == syscall.ECONNRESET
		}
		return opErr.Temporary() //nolint:staticcheck // still the best hint for DNS/OpErrors
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
