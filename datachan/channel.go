package datachan

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-acq400/logger"
	"github.com/arloliu/go-acq400/netclient"
)

// Metrics contains atomic counters for the transfers of one channel.
// Metrics can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// Transfers indicates the number of completed transfers.
	Transfers atomic.Uint64
	// Failures indicates the number of failed transfers.
	Failures atomic.Uint64
	// Bytes indicates the number of payload bytes delivered by completed transfers.
	Bytes atomic.Uint64
}

// Channel retrieves bulk data from one data port. Every Read is a fresh transfer
// on a new connection; nothing is cached between reads.
type Channel struct {
	cfg     *netclient.Config
	timeout time.Duration
	logger  logger.Logger
	metrics Metrics
}

// Option configures a Channel.
type Option func(*Channel)

// WithTimeout sets the receive deadline of one transfer step. Zero uses the transport read timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// New creates a channel reading from the port of cfg.
func New(cfg *netclient.Config, opts ...Option) *Channel {
	c := &Channel{cfg: cfg, logger: cfg.Logger()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("addr", cfg.Address())

	return c
}

// Address returns the data port address.
func (c *Channel) Address() string { return c.cfg.Address() }

// Metrics returns the transfer counters.
func (c *Channel) Metrics() *Metrics { return &c.metrics }

// Read connects, reads one payload with framing and closes the connection on every path.
//
// A disconnection before the payload is complete fails with acq.ErrTransport and
// the partial data is discarded.
func (c *Channel) Read(ctx context.Context, framing Framing) ([]byte, error) {
	tr := netclient.NewTransport(c.cfg)
	if err := tr.Connect(ctx); err != nil {
		c.metrics.Failures.Add(1)
		return nil, err
	}
	defer tr.Close()

	stop := context.AfterFunc(ctx, func() { _ = tr.Close() })
	defer stop()

	start := time.Now()
	data, err := framing.ReadPayload(tr, c.timeout)
	if err != nil {
		c.metrics.Failures.Add(1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug("transfer failed", "method", "Read", "framing", framing.String(), "error", err)

		return nil, err
	}

	c.metrics.Transfers.Add(1)
	c.metrics.Bytes.Add(uint64(len(data)))
	c.logger.Debug("transfer complete",
		"method", "Read",
		"framing", framing.String(),
		"bytes", len(data),
		"elapsed", time.Since(start),
	)

	return data, nil
}

// DecodeInt16 decodes little-endian 16 bit samples.
func DecodeInt16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 2", len(b))
	}

	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:])) //nolint:gosec
	}

	return out, nil
}

// DecodeInt32 decodes little-endian 32 bit samples.
func DecodeInt32(b []byte) ([]int32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(b))
	}

	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:])) //nolint:gosec
	}

	return out, nil
}
