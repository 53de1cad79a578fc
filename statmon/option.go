package statmon

import (
	"time"

	"github.com/arloliu/go-acq400/logger"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger of the monitor. A nil logger is ignored.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithReadTimeout sets the deadline for one status line. Zero uses the transport read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.readTimeout = d
		}
	}
}

// WithFaultThreshold sets the number of consecutive transport failures after which the monitor faults.
// Values below 1 are ignored.
//
// The default value is 3.
func WithFaultThreshold(n int) Option {
	return func(m *Monitor) {
		if n >= 1 {
			m.faultThreshold = n
		}
	}
}

// WithMaxRetryDelay caps the reconnect backoff, which starts at 100ms and doubles after each failure.
//
// The default value is 5 seconds.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= initialRetryDelay {
			m.maxRetryDelay = d
		}
	}
}
