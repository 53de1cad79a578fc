package netclient

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/logger"
)

// Config represents the configuration of one Transport.
//
// A Config is immutable once created by NewConfig.
type Config struct {
	// host specifies the host name or IP address of the appliance.
	host string

	// port specifies the TCP port of the server.
	port int

	// connectTimeout defines the timeout for establishing the TCP connection. It should be between 10ms and 60 seconds.
	// Defaults to 3 seconds.
	connectTimeout time.Duration

	// readTimeout defines the default receive deadline of RecvLine and the byte level reads when the caller
	// passes no explicit timeout. It should be between 10ms and 10 minutes.
	// Defaults to 5 seconds.
	readTimeout time.Duration

	// writeTimeout defines the deadline of each write. It should be between 10ms and 60 seconds.
	// Defaults to 3 seconds.
	writeTimeout time.Duration

	// keepAlive defines the TCP keep-alive period. Zero disables keep-alive probes.
	// Defaults to 30 seconds.
	keepAlive time.Duration

	// maxLineLength bounds the length of a received line, terminator excluded.
	// Defaults to 64 KiB.
	maxLineLength int

	// logger provides a logger instance for transport events.
	logger logger.Logger
}

// NewConfig creates a new transport configuration for host and port, applying the optional functional options.
//
// Returns the initialized Config and an error if any option is invalid.
func NewConfig(host string, port int, opts ...ConnOption) (*Config, error) {
	cfg := &Config{
		connectTimeout: 3 * time.Second,
		readTimeout:    5 * time.Second,
		writeTimeout:   3 * time.Second,
		keepAlive:      30 * time.Second,
		maxLineLength:  64 << 10,
		logger:         logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Host returns the remote host.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the remote port.
func (cfg *Config) Port() int { return cfg.port }

// Address returns the "host:port" dial address.
func (cfg *Config) Address() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

// ReadTimeout returns the default receive deadline.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// ConnectTimeout returns the dial timeout.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// Logger returns the configured logger.
func (cfg *Config) Logger() logger.Logger { return cfg.logger }

// ConnOption represents a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (c *connOptFunc) apply(cfg *Config) error {
	if cfg == nil {
		return acq.ErrConfigNil
	}

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, f func(*Config) error) *connOptFunc {
	return &connOptFunc{name: name, applyFunc: f}
}

// withHost validates the host syntax. Name resolution happens when the transport dials.
func withHost(host string) ConnOption {
	return newConnOptFunc("withHost", func(cfg *Config) error {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "."), ".")
		if host == "" || strings.ContainsAny(host, " \t\r\n/") {
			return errors.New("invalid host")
		}
		cfg.host = host

		return nil
	})
}

func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", func(cfg *Config) error {
		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithConnectTimeout sets the timeout for establishing the TCP connection.
// An error is returned if the timeout is outside the valid range (10ms-60s).
//
// The default value is 3 seconds.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("connect timeout out of range [10ms, 60s]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithReadTimeout sets the default receive deadline.
// An error is returned if the timeout is outside the valid range (10ms-10m).
//
// The default value is 5 seconds.
func WithReadTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithReadTimeout", func(cfg *Config) error {
		if val < 10*time.Millisecond || val > 10*time.Minute {
			return errors.New("read timeout out of range [10ms, 10m]")
		}
		cfg.readTimeout = val

		return nil
	})
}

// WithWriteTimeout sets the deadline of each write.
// An error is returned if the timeout is outside the valid range (10ms-60s).
//
// The default value is 3 seconds.
func WithWriteTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithWriteTimeout", func(cfg *Config) error {
		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("write timeout out of range [10ms, 60s]")
		}
		cfg.writeTimeout = val

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period, zero disables it.
//
// The default value is 30 seconds.
func WithKeepAlive(val time.Duration) ConnOption {
	return newConnOptFunc("WithKeepAlive", func(cfg *Config) error {
		if val < 0 {
			return errors.New("keep-alive must not be negative")
		}
		cfg.keepAlive = val

		return nil
	})
}

// WithMaxLineLength bounds the length of a received line.
// An error is returned if the length is outside the valid range (64-16MiB).
//
// The default value is 64 KiB.
func WithMaxLineLength(n int) ConnOption {
	return newConnOptFunc("WithMaxLineLength", func(cfg *Config) error {
		if n < 64 || n > 16<<20 {
			return errors.New("max line length out of range [64, 16777216]")
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithLogger sets the logger of the transport.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
