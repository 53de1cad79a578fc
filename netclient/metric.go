package netclient

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a transport.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// LinesSent indicates the number of lines written.
	LinesSent atomic.Uint64
	// LinesRecv indicates the number of lines received.
	LinesRecv atomic.Uint64
	// BytesSent indicates the number of bytes written, terminators included.
	BytesSent atomic.Uint64
	// BytesRecv indicates the number of bytes received.
	BytesRecv atomic.Uint64

	// Timeouts indicates the number of receive deadlines that expired.
	Timeouts atomic.Uint64
	// Errors indicates the number of socket failures other than timeouts.
	Errors atomic.Uint64

	// Connects indicates the number of successful dials.
	Connects atomic.Uint64
	// ConnectErrors indicates the number of failed dials.
	ConnectErrors atomic.Uint64
}

func (m *Metrics) incLinesSent(n int) {
	m.LinesSent.Add(1)
	m.BytesSent.Add(uint64(n))
}

func (m *Metrics) incLinesRecv(n int) {
	m.LinesRecv.Add(1)
	m.BytesRecv.Add(uint64(n))
}

func (m *Metrics) addBytesRecv(n int) {
	m.BytesRecv.Add(uint64(n))
}

func (m *Metrics) incTimeouts() {
	m.Timeouts.Add(1)
}

func (m *Metrics) incErrors() {
	m.Errors.Add(1)
}

func (m *Metrics) incConnects() {
	m.Connects.Add(1)
}

func (m *Metrics) incConnectErrors() {
	m.ConnectErrors.Add(1)
}
