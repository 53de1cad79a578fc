package site

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/logger"
	"github.com/arloliu/go-acq400/netclient"
)

// Conn is the knob protocol client of one site.
//
// Conn is safe for concurrent use; requests are serialized on the underlying transport.
type Conn struct {
	index         int
	tr            *netclient.Transport
	logger        logger.Logger
	listCmd       string
	timeout       time.Duration
	ackWait       time.Duration
	autoReconnect bool

	mu         sync.Mutex // serializes request/response pairs
	pendingAck bool       // a set was sent and its acknowledgement, if any, is unread
	table      atomic.Pointer[knobTable]
}

// New creates the connection of site index over tr. Nothing is sent until the first request.
func New(index int, tr *netclient.Transport, opts ...Option) *Conn {
	c := &Conn{
		index:         index,
		tr:            tr,
		logger:        tr.Config().Logger(),
		listCmd:       DefaultListCommand,
		ackWait:       DefaultAckWait,
		autoReconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("site", index)

	return c
}

// Index returns the site index.
func (c *Conn) Index() int { return c.index }

// Transport returns the underlying transport.
func (c *Conn) Transport() *netclient.Transport { return c.tr }

// Discovered reports whether the knob namespace has been fetched.
func (c *Conn) Discovered() bool { return c.table.Load() != nil }

// Connect opens the transport without sending anything.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tr.Connect(ctx)
}

// Close closes the transport. The discovered namespace is kept.
func (c *Conn) Close() error {
	return c.tr.Close()
}

// Discover fetches the knob namespace with the listing command and replaces the cached one.
//
// The server answers with one name per line and ends the list with an empty line.
// On failure the previous namespace, if any, stays in place.
func (c *Conn) Discover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var listed []string
	err := c.roundTrip(ctx, c.listCmd, func() error {
		for {
			line, err := c.tr.RecvLine(c.timeout)
			if err != nil {
				return err
			}
			if line == "" {
				return nil
			}
			if !acq.ValidKnobName(line) {
				c.logger.Warn("skip invalid knob name", "method", "Discover", "line", line)
				continue
			}
			listed = append(listed, line)
		}
	})
	if err != nil {
		return err
	}

	tbl := newKnobTable(c, listed, c.logger)
	c.table.Store(tbl)
	c.logger.Debug("knobs discovered", "method", "Discover", "count", len(tbl.names))

	return nil
}

// Get reads knob name and returns the reply line verbatim, "<name> <value>".
//
// The namespace is discovered on first use. A name outside it fails with *acq.KnobError
// before anything is written. Every call is a fresh round trip, values are never cached.
func (c *Conn) Get(ctx context.Context, name string) (string, error) {
	if err := c.validate(ctx, name); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var reply string
	err := c.roundTrip(ctx, name, func() error {
		line, err := c.tr.RecvLine(c.timeout)
		if err != nil {
			return err
		}
		if acq.KnobReplyName(line) != name {
			// the stream no longer lines up with our requests
			_ = c.tr.Close()
			return &acq.ProtocolError{Line: line, Reason: "reply does not match " + name}
		}
		reply = line

		return nil
	})

	return reply, err
}

// Set writes "<name> <value>". No acknowledgement is awaited; read the knob back to confirm.
//
// The name is validated like Get.
func (c *Conn) Set(ctx context.Context, name string, value string) error {
	if err := c.validate(ctx, name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.roundTrip(ctx, name+acq.ValueSeparator+value, nil); err != nil {
		return err
	}
	c.pendingAck = true

	return nil
}

// Help returns the canonical knob names that fully match pattern, as either
// canonical name or identifier. An empty pattern matches every knob.
//
// The returned sequence filters the cached namespace each time it is iterated,
// it never touches the wire.
func (c *Conn) Help(ctx context.Context, pattern string) (iter.Seq[string], error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", acq.ErrInvalidPattern, err)
		}
	}

	if _, err := c.knobTable(ctx); err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		tbl := c.table.Load()
		for _, name := range tbl.names {
			if re != nil && !re.MatchString(name) && !re.MatchString(acq.ToIdent(name)) {
				continue
			}
			if !yield(name) {
				return
			}
		}
	}, nil
}

// Knob resolves an identifier, or a canonical name, to its accessor.
func (c *Conn) Knob(ctx context.Context, ident string) (*Knob, error) {
	tbl, err := c.knobTable(ctx)
	if err != nil {
		return nil, err
	}

	knob, ok := tbl.lookup(ident)
	if !ok {
		return nil, &acq.KnobError{Site: c.index, Name: ident}
	}

	return knob, nil
}

// GetAttr reads the knob routed by ident.
func (c *Conn) GetAttr(ctx context.Context, ident string) (string, error) {
	knob, err := c.Knob(ctx, ident)
	if err != nil {
		return "", err
	}

	return knob.Get(ctx)
}

// SetAttr writes the knob routed by ident.
func (c *Conn) SetAttr(ctx context.Context, ident string, value string) error {
	knob, err := c.Knob(ctx, ident)
	if err != nil {
		return err
	}

	return knob.Set(ctx, value)
}

// Knobs returns the identifier to canonical name routing table.
func (c *Conn) Knobs(ctx context.Context) (map[string]string, error) {
	tbl, err := c.knobTable(ctx)
	if err != nil {
		return nil, err
	}

	m := make(map[string]string, tbl.byIdent.Size())
	tbl.byIdent.Range(func(ident string, knob *Knob) bool {
		m[ident] = knob.name
		return true
	})

	return m, nil
}

// Names returns the canonical names in discovery order.
func (c *Conn) Names(ctx context.Context) ([]string, error) {
	tbl, err := c.knobTable(ctx)
	if err != nil {
		return nil, err
	}

	return append([]string(nil), tbl.names...), nil
}

func (c *Conn) knobTable(ctx context.Context) (*knobTable, error) {
	if tbl := c.table.Load(); tbl != nil {
		return tbl, nil
	}
	if err := c.Discover(ctx); err != nil {
		return nil, err
	}

	return c.table.Load(), nil
}

func (c *Conn) validate(ctx context.Context, name string) error {
	tbl, err := c.knobTable(ctx)
	if err != nil {
		return err
	}
	if !tbl.has(name) {
		return &acq.KnobError{Site: c.index, Name: name}
	}

	return nil
}

// roundTrip sends req and runs recv, if any, with c.mu held.
//
// Input left over from earlier requests is dropped before req is sent. After a set
// the site may acknowledge it, so the drop waits up to ackWait for late input.
// Cancelling ctx closes the transport, which aborts a pending receive.
func (c *Conn) roundTrip(ctx context.Context, req string, recv func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ready(ctx); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.tr.Close() })
	defer stop()

	var wait time.Duration
	if c.pendingAck {
		wait = c.ackWait
	}
	_, err := c.tr.Discard(wait)
	c.pendingAck = false
	if err == nil {
		err = c.tr.SendLine(req)
	}
	if err == nil && recv != nil {
		err = recv()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, acq.ErrProtocol) {
			c.logger.Debug("request failed", "request", req, "error", err)
		}
	}

	return err
}

// ready connects a disconnected transport. A faulted transport is reconnected only with auto-reconnect.
func (c *Conn) ready(ctx context.Context) error {
	switch c.tr.State() {
	case acq.Connected:
		return nil
	case acq.Faulted:
		if !c.autoReconnect {
			return fmt.Errorf("%w: site %d transport is faulted", acq.ErrTransport, c.index)
		}
		c.logger.Info("reconnect faulted transport", "addr", c.tr.Address())
	case acq.Disconnected:
	}
	c.pendingAck = false

	return c.tr.Connect(ctx)
}
