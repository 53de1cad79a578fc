package pool

import (
	"bytes"
	"sync"
)

// maxPooledBuffer bounds the capacity of buffers kept in the pool so a single
// large channel upload does not pin memory for the lifetime of the process.
const maxPooledBuffer = 16 << 20

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// GetBuffer returns an empty buffer from the pool.
//
// Return back the buffer to the pool with PutBuffer.
func GetBuffer() *bytes.Buffer {
	buf, _ := bufferPool.Get().(*bytes.Buffer)
	if buf == nil {
		buf = new(bytes.Buffer)
	}
	buf.Reset()

	return buf
}

// PutBuffer returns buf to the pool.
//
// buf and any slice obtained from buf.Bytes() cannot be accessed after returning to the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}
