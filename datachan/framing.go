package datachan

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/internal/pool"
)

// maxPrefixedLength bounds the payload announced by a length header.
const maxPrefixedLength = 1 << 30

// MaxFixedSize bounds the payload of a FixedSize framing.
const MaxFixedSize = 1 << 32

// Source is the byte level side of a transport used by a Framing.
// *netclient.Transport implements it.
type Source interface {
	ReadFull(buf []byte, timeout time.Duration) error
	Stream(w io.Writer, limit int64, idleTimeout time.Duration) (int64, error)
}

// Framing reads exactly one payload from a freshly connected source.
type Framing interface {
	ReadPayload(src Source, timeout time.Duration) ([]byte, error)
	String() string
}

// FixedSize returns a framing that reads exactly n bytes.
func FixedSize(n int) Framing { return fixedSize(n) }

// LengthPrefixed returns a framing that reads a 4 byte length header in order, then that many bytes.
func LengthPrefixed(order binary.ByteOrder) Framing { return lengthPrefixed{order: order} }

// UntilClose returns a framing that reads until the remote closes the connection.
// limit > 0 bounds the payload, a longer stream is a protocol error.
func UntilClose(limit int64) Framing { return untilClose(limit) }

type fixedSize int

func (f fixedSize) ReadPayload(src Source, timeout time.Duration) ([]byte, error) {
	if f < 0 || int64(f) > MaxFixedSize {
		return nil, &acq.ProtocolError{Line: strconv.FormatInt(int64(f), 10), Reason: "payload size out of range"}
	}

	buf := make([]byte, int(f))
	if len(buf) == 0 {
		return buf, nil
	}
	if err := src.ReadFull(buf, timeout); err != nil {
		return nil, err
	}

	return buf, nil
}

func (f fixedSize) String() string { return fmt.Sprintf("fixed(%d)", int(f)) }

type lengthPrefixed struct {
	order binary.ByteOrder
}

func (f lengthPrefixed) ReadPayload(src Source, timeout time.Duration) ([]byte, error) {
	var header [4]byte
	if err := src.ReadFull(header[:], timeout); err != nil {
		return nil, err
	}

	n := f.order.Uint32(header[:])
	if n > maxPrefixedLength {
		return nil, &acq.ProtocolError{Line: fmt.Sprintf("% x", header), Reason: fmt.Sprintf("payload length %d too large", n)}
	}

	return fixedSize(n).ReadPayload(src, timeout)
}

func (f lengthPrefixed) String() string { return fmt.Sprintf("length-prefixed(%s)", f.order) }

type untilClose int64

func (f untilClose) ReadPayload(src Source, timeout time.Duration) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := src.Stream(buf, int64(f), timeout); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (f untilClose) String() string { return fmt.Sprintf("until-close(%d)", int64(f)) }
