package acq

import "sync/atomic"

// TransportState is the socket state of a transport.
type TransportState uint32

const (
	// Disconnected indicates that no socket is held.
	Disconnected TransportState = iota
	// Connected indicates that the socket is open and usable.
	Connected
	// Faulted indicates that the socket failed (timeout, reset, remote close) and
	// must be reconnected before further use.
	Faulted
)

func (s TransportState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// AtomicTransportState holds a TransportState that can be read and written concurrently.
type AtomicTransportState struct {
	state atomic.Uint32
}

func (st *AtomicTransportState) Get() TransportState {
	return TransportState(st.state.Load())
}

func (st *AtomicTransportState) Set(state TransportState) {
	st.state.Store(uint32(state))
}

func (st *AtomicTransportState) IsConnected() bool { return st.Get() == Connected }

func (st *AtomicTransportState) IsFaulted() bool { return st.Get() == Faulted }

// ToFaulted moves a connected transport to Faulted. It reports false if the transport was not connected.
func (st *AtomicTransportState) ToFaulted() bool {
	return st.state.CompareAndSwap(uint32(Connected), uint32(Faulted))
}

func (st *AtomicTransportState) String() string {
	return st.Get().String()
}

// MonitorState is the state of a status monitor.
//
//	Idle -> Polling -> SnapshotReady -> Polling -> ...
//	                \-> Faulted
//	any  -> Stopped (explicit stop)
type MonitorState uint32

const (
	MonitorIdle MonitorState = iota
	MonitorPolling
	MonitorSnapshotReady
	MonitorFaulted
	MonitorStopped
)

func (s MonitorState) String() string {
	switch s {
	case MonitorIdle:
		return "idle"
	case MonitorPolling:
		return "polling"
	case MonitorSnapshotReady:
		return "snapshot-ready"
	case MonitorFaulted:
		return "faulted"
	case MonitorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive reports whether the monitor loop is running in this state.
func (s MonitorState) IsActive() bool {
	return s == MonitorPolling || s == MonitorSnapshotReady
}
