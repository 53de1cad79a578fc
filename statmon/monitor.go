package statmon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/internal/pool"
	"github.com/arloliu/go-acq400/logger"
	"github.com/arloliu/go-acq400/netclient"
)

const (
	initialRetryDelay = 100 * time.Millisecond
	retryDelayFactor  = 2

	defaultMaxRetryDelay  = 5 * time.Second
	defaultFaultThreshold = 3
)

// Monitor polls the status stream of a chassis in a background task and publishes
// each parsed status line as an immutable snapshot.
type Monitor struct {
	tr             *netclient.Transport
	logger         logger.Logger
	readTimeout    time.Duration
	faultThreshold int
	maxRetryDelay  time.Duration

	startMu sync.Mutex // protects taskMgr and unwatch
	taskMgr *acq.TaskManager
	unwatch func() bool

	state atomic.Uint32
	snap  atomic.Pointer[acq.StatusSnapshot]

	// owned by the poll task
	seq        uint64
	failures   int
	retryDelay time.Duration

	mu       sync.Mutex // protects the latched events and faultErr
	cond     *sync.Cond
	armed    bool
	stopped  bool
	faultErr error
}

// New creates an idle monitor reading status lines from tr.
func New(tr *netclient.Transport, opts ...Option) *Monitor {
	m := &Monitor{
		tr:             tr,
		logger:         tr.Config().Logger(),
		faultThreshold: defaultFaultThreshold,
		maxRetryDelay:  defaultMaxRetryDelay,
		retryDelay:     initialRetryDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "statmon")
	m.cond = sync.NewCond(&m.mu)

	return m
}

// State returns the monitor state.
func (m *Monitor) State() acq.MonitorState {
	return acq.MonitorState(m.state.Load())
}

// Err returns the fault that stopped the monitor, nil if it did not fault.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.faultErr
}

// Seed publishes an initial snapshot, typically built from the chassis state knob,
// so that the first polled line already has a predecessor for event detection.
//
// Seed must be called before Start.
func (m *Monitor) Seed(snap acq.StatusSnapshot) {
	snap = snap.Clone()
	snap.Seq = 0
	if snap.Time.IsZero() {
		snap.Time = time.Now()
	}
	m.snap.Store(&snap)
}

// Snapshot returns the latest published snapshot, the zero snapshot before the first one.
//
// It never blocks and never observes a partially written snapshot.
func (m *Monitor) Snapshot() acq.StatusSnapshot {
	snap, _ := m.Latest()
	return snap
}

// Latest returns the latest published snapshot and whether one exists.
func (m *Monitor) Latest() (acq.StatusSnapshot, bool) {
	p := m.snap.Load()
	if p == nil {
		return acq.StatusSnapshot{Demux: -1}, false
	}

	return p.Clone(), true
}

// Start spawns the poll task. It may be called again after Stop or a fault.
func (m *Monitor) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.State().IsActive() {
		return nil
	}

	if m.taskMgr != nil {
		// the previous task returned after a fault
		m.unwatch()
		m.taskMgr.Stop()
		m.taskMgr.Wait()
	}

	m.mu.Lock()
	m.faultErr = nil
	m.mu.Unlock()

	m.failures = 0
	m.retryDelay = initialRetryDelay
	m.setState(acq.MonitorPolling)

	m.taskMgr = acq.NewTaskManager(ctx, m.logger)
	// a pending receive ends when ctx is done
	m.unwatch = context.AfterFunc(ctx, func() { _ = m.tr.Close() })

	if err := m.taskMgr.Start("statusMonitor", m.poll); err != nil {
		m.unwatch()
		m.taskMgr = nil
		m.setState(acq.MonitorStopped)

		return err
	}

	m.logger.Debug("status monitor started", "addr", m.tr.Address())

	return nil
}

// Stop cancels the poll task and waits for it to return.
// A faulted monitor stays Faulted, otherwise the state becomes Stopped.
func (m *Monitor) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.taskMgr == nil {
		m.setState(acq.MonitorStopped)
		return
	}

	m.unwatch()
	m.taskMgr.Stop()
	_ = m.tr.Close()
	m.taskMgr.Wait()
	m.taskMgr = nil

	if m.State() != acq.MonitorFaulted {
		m.setState(acq.MonitorStopped)
	}
	m.logger.Debug("status monitor stopped")
}

// WaitArmed blocks until the device reports the ARM state, then clears the event.
//
// The event is latched: an ARM seen before the call satisfies it. It returns
// acq.ErrMonitorFaulted when the monitor faults, acq.ErrMonitorStopped when it is
// stopped, or the context error.
func (m *Monitor) WaitArmed(ctx context.Context) error {
	return m.waitEvent(ctx, &m.armed)
}

// WaitStopped blocks until the device returns to IDLE from any other state, then clears the event.
// It follows the same rules as WaitArmed.
func (m *Monitor) WaitStopped(ctx context.Context) error {
	return m.waitEvent(ctx, &m.stopped)
}

func (m *Monitor) waitEvent(ctx context.Context, event *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stopFunc := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stopFunc()

	for !*event {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.faultErr != nil {
			return m.faultErr
		}
		if m.State() == acq.MonitorStopped {
			return acq.ErrMonitorStopped
		}
		m.cond.Wait()
	}
	*event = false

	return nil
}

// poll runs one cycle: connect if needed, read one line, publish it.
func (m *Monitor) poll(ctx context.Context) bool {
	if m.State() == acq.MonitorSnapshotReady {
		m.setState(acq.MonitorPolling)
	}

	if m.tr.State() != acq.Connected {
		if err := m.tr.Connect(ctx); err != nil {
			return m.onFailure(ctx, err)
		}
	}

	line, err := m.tr.RecvLine(m.readTimeout)
	if err != nil {
		return m.onFailure(ctx, err)
	}
	m.failures = 0
	m.retryDelay = initialRetryDelay

	snap, err := acq.ParseStatusLine(line)
	if err != nil {
		m.logger.Warn("skip malformed status line", "method", "poll", "error", err)
		return true
	}
	m.publish(snap)

	return true
}

func (m *Monitor) onFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	m.failures++
	m.logger.Debug("status read failed",
		"method", "poll",
		"failures", m.failures,
		"threshold", m.faultThreshold,
		"error", err,
	)

	if m.failures >= m.faultThreshold {
		m.fault(err)
		return false
	}

	delay := m.retryDelay
	if pool.Sleep(ctx, delay) != nil {
		return false
	}
	m.retryDelay = min(delay*retryDelayFactor, m.maxRetryDelay)

	return true
}

func (m *Monitor) publish(snap acq.StatusSnapshot) {
	prev := m.snap.Load()

	m.seq++
	snap.Seq = m.seq
	snap.Time = time.Now()

	if prev != nil && prev.State == acq.StateIdle && snap.State > acq.StateArm {
		snap.ErrCode = acq.StatusSkippedArm
		snap.ErrText = fmt.Sprintf("skipped ARM %d -> %d", prev.State, snap.State)
		m.logger.Warn("device skipped ARM", "prev_state", prev.State, "state", snap.State, "shot", snap.Shot)
	}

	m.snap.Store(&snap)
	m.setState(acq.MonitorSnapshotReady)

	armed := snap.State == acq.StateArm
	stopped := prev != nil && prev.State != acq.StateIdle && snap.State == acq.StateIdle
	if armed || stopped {
		m.mu.Lock()
		m.armed = m.armed || armed
		m.stopped = m.stopped || stopped
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

// fault publishes a stale copy of the last snapshot and moves the monitor to Faulted.
func (m *Monitor) fault(cause error) {
	var stale acq.StatusSnapshot
	if prev := m.snap.Load(); prev != nil {
		stale = prev.Clone()
	} else {
		stale.Demux = -1
	}
	stale.Time = time.Now()
	stale.Stale = true
	stale.ErrCode = acq.StatusTransportFault
	stale.ErrText = cause.Error()
	m.snap.Store(&stale)

	_ = m.tr.Close()
	m.logger.Error("status monitor faulted", "failures", m.failures, "error", cause)

	m.mu.Lock()
	m.faultErr = fmt.Errorf("%w: %d consecutive failures: %w", acq.ErrMonitorFaulted, m.failures, cause)
	m.mu.Unlock()

	m.setState(acq.MonitorFaulted)
}

func (m *Monitor) setState(state acq.MonitorState) {
	prev := acq.MonitorState(m.state.Swap(uint32(state)))
	if prev == state {
		return
	}

	if state == acq.MonitorStopped || state == acq.MonitorFaulted {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}
