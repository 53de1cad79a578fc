package acq

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// DeviceState is the acquisition state reported in the first field of a status line.
type DeviceState int64

const (
	StateIdle DeviceState = iota
	StateArm
	StateRunPre
	StateRunPost
	StatePostProcess
	StateCleanup
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArm:
		return "ARM"
	case StateRunPre:
		return "RUNPRE"
	case StateRunPost:
		return "RUNPOST"
	case StatePostProcess:
		return "POPROCESS"
	case StateCleanup:
		return "CLEANUP"
	default:
		return "ST" + strconv.FormatInt(int64(s), 10)
	}
}

// StatusErrorCode classifies the error carried by a StatusSnapshot.
type StatusErrorCode int

const (
	// StatusOK means no error was observed.
	StatusOK StatusErrorCode = iota
	// StatusSkippedArm means the device went from IDLE straight past ARM between two polls.
	StatusSkippedArm
	// StatusTransportFault means the monitor gave up after consecutive transport failures.
	StatusTransportFault
)

func (c StatusErrorCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusSkippedArm:
		return "skipped-arm"
	case StatusTransportFault:
		return "transport-fault"
	default:
		return "unknown"
	}
}

// Status line field positions.
const (
	FieldState = iota
	FieldPre
	FieldPost
	FieldElapsed
	FieldShot
	FieldDemux

	minStatusFields = FieldShot + 1
)

// MaxStatusSamples bounds the pre and post sample counts accepted from a status line.
const MaxStatusSamples = 1 << 40

// StatusSnapshot is one parsed status line plus the monitor's view of it.
//
// A snapshot is immutable once published: every field comes from the same poll cycle.
type StatusSnapshot struct {
	// Seq is the poll cycle that produced the snapshot. Zero means no poll has completed yet.
	Seq uint64
	// Time is when the snapshot was produced.
	Time time.Time

	State   DeviceState
	Pre     int64
	Post    int64
	Elapsed int64
	Shot    int64
	// Demux is -1 when the status line does not carry the field.
	Demux int64
	// Fields holds every integer of the status line in order.
	Fields []int64

	ErrCode StatusErrorCode
	ErrText string

	// Stale is set once the monitor faulted; the remaining fields are from the last good poll.
	Stale bool
}

// Running reports whether the device is in any state other than IDLE.
func (s StatusSnapshot) Running() bool { return s.State != StateIdle }

// Samples returns the total number of captured samples, pre plus post trigger.
func (s StatusSnapshot) Samples() int64 { return s.Pre + s.Post }

// Clone returns a deep copy of the snapshot.
func (s StatusSnapshot) Clone() StatusSnapshot {
	s.Fields = slices.Clone(s.Fields)
	return s
}

// ParseStatusLine parses a status line of whitespace separated decimal integers:
//
//	state pre post elapsed shot [demux ...]
//
// state must be a single digit. Seq, Time and error fields of the result are left zero.
func ParseStatusLine(line string) (StatusSnapshot, error) {
	parts := strings.Fields(line)
	if len(parts) < minStatusFields {
		return StatusSnapshot{}, &ProtocolError{Line: line, Reason: "too few status fields"}
	}

	fields := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return StatusSnapshot{}, &ProtocolError{Line: line, Reason: "non numeric status field " + strconv.Itoa(i)}
		}
		fields[i] = v
	}

	if fields[FieldState] < 0 || fields[FieldState] > 9 {
		return StatusSnapshot{}, &ProtocolError{Line: line, Reason: "state out of range"}
	}
	for _, i := range []int{FieldPre, FieldPost} {
		if fields[i] < 0 || fields[i] > MaxStatusSamples {
			return StatusSnapshot{}, &ProtocolError{Line: line, Reason: "sample count out of range in field " + strconv.Itoa(i)}
		}
	}

	snap := StatusSnapshot{
		State:   DeviceState(fields[FieldState]),
		Pre:     fields[FieldPre],
		Post:    fields[FieldPost],
		Elapsed: fields[FieldElapsed],
		Shot:    fields[FieldShot],
		Demux:   -1,
		Fields:  fields,
	}
	if len(fields) > FieldDemux {
		snap.Demux = fields[FieldDemux]
	}

	return snap, nil
}
