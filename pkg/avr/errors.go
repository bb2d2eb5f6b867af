// pkg/avr/errors.go
package avr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the AVR session
var (
	// ErrNotConnected indicates an operation outside the Connected state
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost terminates the inbound line stream after a transport failure
	ErrConnectionLost = errors.New("connection lost")

	// ErrCommandTimeout indicates no correlated reply arrived before the deadline
	ErrCommandTimeout = errors.New("command timed out")

	// ErrSessionClosed indicates the session was closed by its owner
	ErrSessionClosed = errors.New("session closed")

	// Class errors matched through errors.Is on the typed errors below
	ErrConnect            = errors.New("connect failed")
	ErrWrite              = errors.New("write failed")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// ConnectError reports a failed connection attempt (timeout or refusal)
type ConnectError struct {
	Address string
	Cause   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Address, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// WriteError reports a transport failure while sending a line
type WriteError struct {
	Line  string
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q failed: %v", e.Line, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// UnsupportedCommandError reports a command rejected before any I/O
type UnsupportedCommandError struct {
	Command Command
	Reason  string
}

func (e *UnsupportedCommandError) Error() string {
	if e.Command == nil {
		return fmt.Sprintf("unsupported command: %s", e.Reason)
	}
	return fmt.Sprintf("unsupported command %s: %s", e.Command, e.Reason)
}

func (e *UnsupportedCommandError) Is(target error) bool { return target == ErrUnsupportedCommand }

// NewUnsupportedCommandError creates an UnsupportedCommandError
func NewUnsupportedCommandError(cmd Command, format string, args ...any) error {
	return &UnsupportedCommandError{Command: cmd, Reason: fmt.Sprintf(format, args...)}
}
