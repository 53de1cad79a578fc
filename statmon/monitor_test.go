package statmon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/internal/fakeuut"
	"github.com/arloliu/go-acq400/logger"
	"github.com/arloliu/go-acq400/netclient"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, ok := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if !ok {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestMonitor(t *testing.T, opts fakeuut.Options, monOpts ...Option) (*Monitor, *fakeuut.Server) {
	t.Helper()

	if opts.Sites == nil {
		opts.Sites = map[int]map[string]string{0: {"state": "0"}}
	}
	srv := fakeuut.Start(t, opts)

	cfg, err := netclient.NewConfig(srv.Host(), srv.StatusPort(),
		netclient.WithReadTimeout(500*time.Millisecond),
		netclient.WithConnectTimeout(200*time.Millisecond),
		netclient.WithLogger(logger.NopLogger{}),
	)
	require.NoError(t, err)

	mon := New(netclient.NewTransport(cfg), monOpts...)
	t.Cleanup(mon.Stop)

	return mon, srv
}

func TestMonitor_PublishesSnapshots(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	mon, srv := newTestMonitor(t, fakeuut.Options{Status: "0 0 0 0 17"})
	require.Equal(acq.MonitorIdle, mon.State())

	_, ok := mon.Latest()
	require.False(ok)

	require.NoError(mon.Start(ctx))
	require.Eventually(func() bool {
		return mon.Snapshot().Shot == 17
	}, waitFor, tick)

	srv.PushStatus("3 5000 10000 42 18 1")
	require.Eventually(func() bool {
		return mon.Snapshot().Shot == 18
	}, waitFor, tick)

	snap := mon.Snapshot()
	require.Equal(acq.StateRunPost, snap.State)
	require.EqualValues(15000, snap.Samples())
	require.EqualValues(42, snap.Elapsed)
	require.EqualValues(1, snap.Demux)
	require.Greater(snap.Seq, uint64(1))
	require.False(snap.Stale)
	require.True(mon.State().IsActive())

	mon.Stop()
	require.Equal(acq.MonitorStopped, mon.State())
}

func TestMonitor_MalformedLineSkipped(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	mon, srv := newTestMonitor(t, fakeuut.Options{Status: "0 0 0 0 1"}, WithLogger(logger.NopLogger{}))
	require.NoError(mon.Start(ctx))

	require.Eventually(func() bool { return mon.Snapshot().Shot == 1 }, waitFor, tick)
	seq := mon.Snapshot().Seq

	srv.PushStatus("not a status line")
	srv.PushStatus("0 0 0")
	srv.PushStatus("0 0 0 0 2")

	require.Eventually(func() bool { return mon.Snapshot().Shot == 2 }, waitFor, tick)
	require.Equal(seq+1, mon.Snapshot().Seq)
	require.Nil(mon.Err())
	require.True(mon.State().IsActive())
}

func TestMonitor_FaultsAfterThreshold(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	mon, srv := newTestMonitor(t,
		fakeuut.Options{Status: "1 0 0 0 99"},
		WithFaultThreshold(3),
		WithReadTimeout(50*time.Millisecond),
		WithLogger(logger.NopLogger{}),
	)
	require.NoError(mon.Start(ctx))
	require.Eventually(func() bool { return mon.Snapshot().Shot == 99 }, waitFor, tick)
	require.NoError(mon.WaitArmed(ctx))

	srv.CloseStatus()

	require.Eventually(func() bool { return mon.State() == acq.MonitorFaulted }, 5*time.Second, tick)

	snap := mon.Snapshot()
	require.True(snap.Stale)
	require.Equal(acq.StatusTransportFault, snap.ErrCode)
	require.NotEmpty(snap.ErrText)
	require.EqualValues(99, snap.Shot)
	require.Equal(acq.StateArm, snap.State)

	require.ErrorIs(mon.Err(), acq.ErrMonitorFaulted)
	require.ErrorIs(mon.WaitArmed(ctx), acq.ErrMonitorFaulted)
	require.ErrorIs(mon.WaitStopped(ctx), acq.ErrMonitorFaulted)

	// Stop keeps the fault observable
	mon.Stop()
	require.Equal(acq.MonitorFaulted, mon.State())
}

func TestMonitor_FaultWithoutSnapshot(t *testing.T) {
	require := require.New(t)

	mon, srv := newTestMonitor(t, fakeuut.Options{},
		WithFaultThreshold(2),
		WithLogger(logger.NopLogger{}),
	)
	srv.CloseStatus()

	require.NoError(mon.Start(context.Background()))
	require.Eventually(func() bool { return mon.State() == acq.MonitorFaulted }, waitFor, tick)

	snap, ok := mon.Latest()
	require.True(ok)
	require.True(snap.Stale)
	require.Zero(snap.Seq)
	require.ErrorIs(mon.Err(), acq.ErrConnection)
}

func TestMonitor_RecoversFromDroppedConnection(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	mon, srv := newTestMonitor(t,
		fakeuut.Options{Status: "0 0 0 0 5", StatusInterval: 10 * time.Millisecond},
		WithFaultThreshold(5),
		WithLogger(logger.NopLogger{}),
	)
	require.NoError(mon.Start(ctx))
	require.Eventually(func() bool { return mon.Snapshot().Shot == 5 }, waitFor, tick)

	srv.DropStatusClients()
	srv.PushStatus("0 0 0 0 6")

	require.Eventually(func() bool { return mon.Snapshot().Shot == 6 }, waitFor, tick)
	require.True(mon.State().IsActive())
	require.Nil(mon.Err())
}

func TestMonitor_LatchedEvents(t *testing.T) {
	require := require.New(t)

	mon, srv := newTestMonitor(t, fakeuut.Options{})
	mon.Seed(acq.StatusSnapshot{State: acq.StateIdle, Demux: -1})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	require.NoError(mon.Start(ctx))

	srv.PushStatus("1 0 0 0 10")
	require.NoError(mon.WaitArmed(ctx))

	// cleared by the waiter
	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	require.ErrorIs(mon.WaitArmed(shortCtx), context.DeadlineExceeded)
	shortCancel()

	srv.PushStatus("3 100 100 5 10")
	srv.PushStatus("0 100 100 6 10")
	require.NoError(mon.WaitStopped(ctx))

	snap := mon.Snapshot()
	require.Equal(acq.StateIdle, snap.State)
	require.Equal(acq.StatusOK, snap.ErrCode)
}

func TestMonitor_StoppedNeedsRunningPredecessor(t *testing.T) {
	require := require.New(t)

	mon, srv := newTestMonitor(t, fakeuut.Options{})
	mon.Seed(acq.StatusSnapshot{State: acq.StateIdle, Demux: -1})
	require.NoError(mon.Start(context.Background()))

	srv.PushStatus("0 0 0 0 1")
	srv.PushStatus("0 0 0 0 2")
	require.Eventually(func() bool { return mon.Snapshot().Shot == 2 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(mon.WaitStopped(ctx), context.DeadlineExceeded)
}

func TestMonitor_SkippedArm(t *testing.T) {
	require := require.New(t)

	mon, srv := newTestMonitor(t, fakeuut.Options{}, WithLogger(logger.NopLogger{}))
	mon.Seed(acq.StatusSnapshot{State: acq.StateIdle, Demux: -1})
	require.NoError(mon.Start(context.Background()))

	srv.PushStatus("3 10 10 1 7")
	require.Eventually(func() bool { return mon.Snapshot().Shot == 7 }, waitFor, tick)

	snap := mon.Snapshot()
	require.Equal(acq.StatusSkippedArm, snap.ErrCode)
	require.Contains(snap.ErrText, "0 -> 3")
	require.True(mon.State().IsActive())
}

func TestMonitor_StopWakesWaiters(t *testing.T) {
	require := require.New(t)

	mon, _ := newTestMonitor(t, fakeuut.Options{})
	require.NoError(mon.Start(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- mon.WaitArmed(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	mon.Stop()

	select {
	case err := <-errCh:
		require.ErrorIs(err, acq.ErrMonitorStopped)
	case <-time.After(waitFor):
		require.Fail("waiter not woken by Stop")
	}
	require.Less(time.Since(start), time.Second)
	require.Equal(acq.MonitorStopped, mon.State())
}

func TestMonitor_Restart(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	mon, srv := newTestMonitor(t, fakeuut.Options{Status: "0 0 0 0 1"})
	require.NoError(mon.Start(ctx))
	require.NoError(mon.Start(ctx))
	require.Eventually(func() bool { return mon.Snapshot().Shot == 1 }, waitFor, tick)

	mon.Stop()
	srv.PushStatus("0 0 0 0 2")

	require.NoError(mon.Start(ctx))
	require.Eventually(func() bool { return mon.Snapshot().Shot == 2 }, waitFor, tick)
}

func TestMonitor_NoTornReads(t *testing.T) {
	require := require.New(t)

	mon, srv := newTestMonitor(t, fakeuut.Options{Status: "1 0 0 0 0 0", StatusInterval: 10 * time.Millisecond})
	require.NoError(mon.Start(context.Background()))

	done := make(chan struct{})
	var wg sync.WaitGroup
	var torn error
	var tornOnce sync.Once

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s := mon.Snapshot()
				if s.Pre != s.Post || s.Post != s.Elapsed || s.Elapsed != s.Shot || (s.Seq > 0 && s.Shot != s.Demux) {
					tornOnce.Do(func() { torn = fmt.Errorf("torn snapshot %+v", s) })
				}
			}
		}()
	}

	for i := 1; i <= 200; i++ {
		srv.PushStatus(fmt.Sprintf("1 %d %d %d %d %d", i, i, i, i, i))
		if i%50 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.Eventually(func() bool { return mon.Snapshot().Shot == 200 }, waitFor, tick)

	close(done)
	wg.Wait()
	require.NoError(torn)
}
