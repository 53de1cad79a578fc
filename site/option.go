package site

import (
	"time"

	"github.com/arloliu/go-acq400/logger"
)

// DefaultListCommand is the request that makes a site list its knob names.
const DefaultListCommand = "help"

// DefaultAckWait is how long the request after a set waits for the set's acknowledgement to arrive and be dropped.
const DefaultAckWait = 20 * time.Millisecond

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger of the connection. A nil logger is ignored.
func WithLogger(l logger.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithListCommand overrides the listing command used by Discover.
func WithListCommand(cmd string) Option {
	return func(c *Conn) {
		if cmd != "" {
			c.listCmd = cmd
		}
	}
}

// WithAutoReconnect controls whether a faulted transport is reconnected before the next request.
// When disabled, requests on a faulted transport fail until the caller reconnects it.
//
// The default value is true.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Conn) {
		c.autoReconnect = enabled
	}
}

// WithTimeout sets the receive deadline of one reply line. Zero uses the transport read timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithAckWait sets how long the request following a set waits for a late acknowledgement
// before it is sent. Input already received is dropped regardless. Zero disables the wait.
//
// The default value is 20 milliseconds.
func WithAckWait(d time.Duration) Option {
	return func(c *Conn) {
		if d >= 0 {
			c.ackWait = d
		}
	}
}
