package netclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/logger"
)

// lineTerminator ends every request and response line.
const lineTerminator = '\n'

// Transport owns a single TCP stream to one (host, port) pair.
//
// The line and byte primitives are blocking and must not be called concurrently with each other;
// request/response serialization is the caller's job. Close and State may be called from any goroutine,
// Close unblocks a pending receive.
//
// Any receive or send failure moves the transport to the Faulted state and releases the socket,
// buffered input included. A faulted transport rejects further I/O with acq.ErrTransport until
// Connect (or Reconnect) succeeds. Transport never retries on its own.
type Transport struct {
	cfg    *Config
	logger logger.Logger

	mu     sync.Mutex // protects conn and reader
	conn   net.Conn
	reader *bufio.Reader

	state   acq.AtomicTransportState
	metrics Metrics
}

// NewTransport creates a disconnected transport.
func NewTransport(cfg *Config) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: cfg.logger.With("addr", cfg.Address()),
	}
}

// Config returns the transport configuration.
func (t *Transport) Config() *Config { return t.cfg }

// Address returns the remote "host:port".
func (t *Transport) Address() string { return t.cfg.Address() }

// State returns the current socket state.
func (t *Transport) State() acq.TransportState { return t.state.Get() }

// Metrics returns the transport counters.
func (t *Transport) Metrics() *Metrics { return &t.metrics }

// Connect opens the socket.
//
// It is a no-op on a connected transport. On a faulted transport it first releases the
// old socket, which makes it the explicit reconnect required after a fault.
// A dial failure is reported as acq.ErrConnection.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsConnected() && t.conn != nil {
		return nil
	}
	t.releaseLocked()

	dialer := &net.Dialer{KeepAlive: t.cfg.keepAlive}
	if t.cfg.keepAlive == 0 {
		dialer.KeepAlive = -1
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", t.cfg.Address())
	if err != nil {
		t.metrics.incConnectErrors()
		t.logger.Debug("failed to dial", "method", "Connect", "error", err)

		return fmt.Errorf("%w: dial %s: %w", acq.ErrConnection, t.cfg.Address(), err)
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.state.Set(acq.Connected)
	t.metrics.incConnects()

	t.logger.Debug("connected to the remote",
		"method", "Connect",
		"local_addr", conn.LocalAddr().String(),
	)

	return nil
}

// Reconnect releases the current socket, whatever its state, and dials again.
func (t *Transport) Reconnect(ctx context.Context) error {
	_ = t.Close()
	return t.Connect(ctx)
}

// Close releases the socket unconditionally. It is safe to call multiple times.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.releaseLocked()
	t.state.Set(acq.Disconnected)

	return err
}

// SendLine writes text followed by the line terminator.
//
// text must not contain a line terminator itself.
func (t *Transport) SendLine(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return &acq.ProtocolError{Line: text, Reason: "request contains a line terminator"}
	}

	conn, _, err := t.active()
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.writeTimeout)); err != nil {
		return t.fault(conn, "set write deadline", err)
	}

	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, lineTerminator)

	if _, err := conn.Write(buf); err != nil {
		return t.fault(conn, "write line", err)
	}
	t.metrics.incLinesSent(len(buf))

	if t.logger.Level() == logger.DebugLevel {
		t.logger.Debug("line sent", "method", "SendLine", "line", text)
	}

	return nil
}

// RecvLine blocks until one full line is received and returns it without its terminator.
// A trailing carriage return is removed as well.
//
// timeout <= 0 uses the configured read timeout. Expiry is reported as acq.ErrTimeout,
// a remote close as acq.ErrTransport; both fault the transport.
func (t *Transport) RecvLine(timeout time.Duration) (string, error) {
	conn, reader, err := t.active()
	if err != nil {
		return "", err
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.timeout(timeout))); err != nil {
		return "", t.fault(conn, "set read deadline", err)
	}

	line, n, err := readLine(reader, t.cfg.maxLineLength)
	if err != nil {
		return "", t.fault(conn, "read line", err)
	}
	t.metrics.incLinesRecv(n)

	if t.logger.Level() == logger.DebugLevel {
		t.logger.Debug("line received", "method", "RecvLine", "line", line)
	}

	return line, nil
}

// ReadFull reads exactly len(buf) bytes.
//
// timeout <= 0 uses the configured read timeout; the deadline covers the whole read.
// A remote close before buf is filled is reported as acq.ErrTransport.
func (t *Transport) ReadFull(buf []byte, timeout time.Duration) error {
	conn, reader, err := t.active()
	if err != nil {
		return err
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.timeout(timeout))); err != nil {
		return t.fault(conn, "set read deadline", err)
	}

	n, err := io.ReadFull(reader, buf)
	t.metrics.addBytesRecv(n)
	if err != nil {
		return t.fault(conn, fmt.Sprintf("read %d of %d bytes", n, len(buf)), err)
	}

	return nil
}

// Stream copies everything the remote sends into w until the remote closes the connection.
//
// idleTimeout <= 0 uses the configured read timeout; the deadline is refreshed after every chunk.
// limit > 0 bounds the number of bytes accepted, exceeding it is a protocol error.
// A clean remote close ends the stream successfully and leaves the transport disconnected.
func (t *Transport) Stream(w io.Writer, limit int64, idleTimeout time.Duration) (int64, error) {
	conn, reader, err := t.active()
	if err != nil {
		return 0, err
	}

	var total int64
	chunk := make([]byte, 32<<10)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(t.timeout(idleTimeout))); err != nil {
			return total, t.fault(conn, "set read deadline", err)
		}

		n, rerr := reader.Read(chunk)
		if n > 0 {
			t.metrics.addBytesRecv(n)
			total += int64(n)
			if limit > 0 && total > limit {
				err := &acq.ProtocolError{Line: "", Reason: fmt.Sprintf("stream exceeds %d bytes", limit)}
				_ = t.fault(conn, "stream", err)

				return total, err
			}
			if _, werr := w.Write(chunk[:n]); werr != nil {
				_ = t.fault(conn, "stream", werr)
				return total, werr
			}
		}

		if errors.Is(rerr, io.EOF) {
			t.release(conn)
			return total, nil
		}
		if rerr != nil {
			return total, t.fault(conn, "stream", rerr)
		}
	}
}

// Discard drops input the remote sent without being asked: everything already buffered
// and, when wait > 0, whatever arrives within wait. It returns the number of bytes dropped.
//
// The expiry of wait is not a failure. A remote close is, and faults the transport.
func (t *Transport) Discard(wait time.Duration) (int, error) {
	conn, reader, err := t.active()
	if err != nil {
		return 0, err
	}

	n, _ := reader.Discard(reader.Buffered())
	if wait > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return n, t.fault(conn, "set read deadline", err)
		}
		for {
			if _, err := reader.Peek(1); err != nil {
				if isTimeout(err) {
					break
				}
				t.metrics.addBytesRecv(n)

				return n, t.fault(conn, "discard", err)
			}
			m, _ := reader.Discard(reader.Buffered())
			n += m
		}
	}

	if n > 0 {
		t.metrics.addBytesRecv(n)
		t.logger.Debug("unsolicited input dropped", "method", "Discard", "bytes", n)
	}

	return n, nil
}

// active returns the connection and reader of a connected transport.
func (t *Transport) active() (net.Conn, *bufio.Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsConnected() || t.conn == nil {
		return nil, nil, fmt.Errorf("%w: %s is %s", acq.ErrTransport, t.cfg.Address(), t.state.String())
	}

	return t.conn, t.reader, nil
}

func (t *Transport) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return t.cfg.readTimeout
	}

	return d
}

// fault releases conn, if it is still the active socket, marks the transport
// faulted and maps err to the error taxonomy.
func (t *Transport) fault(conn net.Conn, op string, err error) error {
	t.mu.Lock()
	if t.conn == conn {
		_ = t.releaseLocked()
		t.state.Set(acq.Faulted)
	}
	t.mu.Unlock()

	if isTimeout(err) {
		t.metrics.incTimeouts()
		t.logger.Debug("receive timeout, transport faulted", "op", op)

		return fmt.Errorf("%w: %s %s", acq.ErrTimeout, op, t.cfg.Address())
	}

	t.metrics.incErrors()
	if !isNetClosed(err) {
		t.logger.Debug("socket failure, transport faulted", "op", op, "error", err)
	}

	if errors.Is(err, acq.ErrProtocol) {
		return err
	}

	return fmt.Errorf("%w: %s %s: %w", acq.ErrTransport, op, t.cfg.Address(), err)
}

// release drops conn after a clean remote close.
func (t *Transport) release(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == conn {
		_ = t.releaseLocked()
		t.state.Set(acq.Disconnected)
	}
}

func (t *Transport) releaseLocked() error {
	var err error
	if t.conn != nil {
		if tcpConn, ok := t.conn.(*net.TCPConn); ok {
			_ = tcpConn.SetLinger(0)
		}
		err = t.conn.Close()
	}
	t.conn = nil
	t.reader = nil

	return err
}

// readLine reads one terminated line of at most maxLen bytes and returns it with the
// terminator (and a preceding carriage return) stripped, plus the raw number of bytes consumed.
func readLine(r *bufio.Reader, maxLen int) (string, int, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice(lineTerminator)
		if len(line)+len(frag) > maxLen+2 {
			return "", len(line) + len(frag), &acq.ProtocolError{
				Line:   string(frag[:min(len(frag), 64)]),
				Reason: fmt.Sprintf("line exceeds %d bytes", maxLen),
			}
		}
		line = append(line, frag...)

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", len(line), io.ErrUnexpectedEOF
		}

		return "", len(line), err
	}

	n := len(line)
	line = line[:n-1]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	return string(line), n, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "connection reset by peer")
}
