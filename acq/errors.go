package acq

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection indicates that a transport could not be established, e.g. the
	// remote refused the connection or the dial timed out.
	ErrConnection = errors.New("connection error")

	// ErrTimeout indicates that no complete response arrived before the receive deadline.
	// The transport that produced it is faulted and must be reconnected before reuse.
	ErrTimeout = errors.New("receive timeout")

	// ErrTransport indicates a socket level failure in the middle of the protocol,
	// e.g. the remote closed the connection, or an operation on a transport that is not connected.
	ErrTransport = errors.New("transport error")

	// ErrUnknownKnob indicates that a knob name or identifier is not part of the discovered namespace.
	// It is always detected client side, nothing is written to the wire.
	ErrUnknownKnob = errors.New("unknown knob")

	// ErrProtocol indicates a malformed or unexpected response shape.
	ErrProtocol = errors.New("protocol error")
)

var (
	// ErrInvalidPattern indicates that a help pattern is not a valid regular expression.
	ErrInvalidPattern = errors.New("invalid knob pattern")

	// ErrMonitorFaulted indicates that the status monitor stopped after too many consecutive transport failures.
	ErrMonitorFaulted = errors.New("status monitor faulted")

	// ErrMonitorStopped indicates that the status monitor is not running.
	ErrMonitorStopped = errors.New("status monitor stopped")

	// ErrNoSite indicates that the requested site is not attached to the UUT.
	ErrNoSite = errors.New("site not attached")

	// ErrConfigNil indicates that a nil configuration was provided.
	ErrConfigNil = errors.New("config is nil")
)

// KnobError reports a knob that is not part of a site's discovered namespace.
type KnobError struct {
	Site int
	Name string
}

func (e *KnobError) Error() string {
	return fmt.Sprintf("site %d: unknown knob %q", e.Site, e.Name)
}

func (e *KnobError) Unwrap() error { return ErrUnknownKnob }

// ProtocolError reports a line that does not match the expected response shape.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %q", e.Reason, e.Line)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
