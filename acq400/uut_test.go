package acq400

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/internal/fakeuut"
	"github.com/arloliu/go-acq400/logger"
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
	testState   = "0 1000 4000 0 5"
	testSamples = 5000
	waitFor     = 2 * time.Second
	tick        = 5 * time.Millisecond
)

func channelPayload(ch, samples, wordSize int) []byte {
	buf := make([]byte, samples*wordSize)
	for i := range samples {
		v := ch*1000 + i%1000
		if wordSize == 2 {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(v)) //nolint:gosec
		} else {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(v)) //nolint:gosec
		}
	}

	return buf
}

func testAppliance() fakeuut.Options {
	channels := make(map[int][]byte)
	for ch := 1; ch <= 4; ch++ {
		channels[ch] = channelPayload(ch, testSamples, 2)
	}

	return fakeuut.Options{
		Sites: map[int]map[string]string{
			0: {
				"MODEL":    "acq2106",
				"SITELIST": "2,1=ACQ480,2=AO424",
				"state":    testState,
				"NCHAN":    "4",
				"set_arm":  "0",
			},
			1: {
				"MODEL":           "ACQ480",
				"SIG:CLK_MB:FREQ": "50012464",
				"shot":            "348",
			},
			2: {
				"MODEL": "AO424",
			},
		},
		Channels:       channels,
		Status:         testState,
		StatusInterval: 20 * time.Millisecond,
	}
}

func serverOptions(srv *fakeuut.Server, opts ...Option) []Option {
	return append([]Option{
		WithSiteBasePort(srv.SiteBase()),
		WithStatusPort(srv.StatusPort()),
		WithDataBasePort(srv.DataBase()),
		WithSegmentPorts(srv.SegmentWritePort(), srv.SegmentReadPort()),
		WithConnectTimeout(200 * time.Millisecond),
		WithReadTimeout(500 * time.Millisecond),
		WithDataTimeout(2 * time.Second),
		WithLogger(logger.NopLogger{}),
	}, opts...)
}

func newTestUUT(t *testing.T, fake fakeuut.Options, opts ...Option) (*UUT, *fakeuut.Server) {
	t.Helper()

	srv := fakeuut.Start(t, fake)
	uut, err := New(context.Background(), srv.Host(), serverOptions(srv, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = uut.Close() })

	return uut, srv
}

func TestNew_ProbesSites(t *testing.T) {
	require := require.New(t)

	uut, srv := newTestUUT(t, testAppliance())

	require.Equal([]int{0, 1, 2}, uut.Sites())
	require.Equal(2, uut.ModCount())
	require.Empty(uut.AttachErrors())
	require.Equal(srv.Host(), uut.Host())

	for _, idx := range uut.Sites() {
		conn, err := uut.Site(idx)
		require.NoError(err)
		require.True(conn.Discovered(), "site %d", idx)
		require.EqualValues(1, srv.Site(idx).ListCount())
	}

	_, err := uut.Site(3)
	require.ErrorIs(err, acq.ErrNoSite)

	require.NotNil(uut.Monitor())
	snap, ok := uut.Status()
	require.True(ok)
	require.EqualValues(5, snap.Shot)
	require.EqualValues(testSamples, snap.Samples())
}

func TestNew_ChassisMandatory(t *testing.T) {
	require := require.New(t)

	fake := testAppliance()
	delete(fake.Sites, 0)
	srv := fakeuut.Start(t, fake)

	uut, err := New(context.Background(), srv.Host(), serverOptions(srv)...)
	require.ErrorIs(err, acq.ErrConnection)
	require.Nil(uut)
}

func TestNew_SiteFailureDoesNotAbort(t *testing.T) {
	require := require.New(t)

	fake := testAppliance()
	fake.Sites[3] = map[string]string{"MODEL": "DIO432"}
	srv := fakeuut.Start(t, fake)
	srv.Site(2).SetMute(true)

	uut, err := New(context.Background(), srv.Host(), serverOptions(srv, WithMonitor(false))...)
	require.NoError(err)
	defer uut.Close()

	require.Equal([]int{0, 1, 3}, uut.Sites())
	require.Equal(2, uut.ModCount())

	attachErrs := uut.AttachErrors()
	require.Len(attachErrs, 1)
	require.Equal(2, attachErrs[0].Site)
	require.ErrorIs(attachErrs[0], acq.ErrTimeout)
}

func TestNew_SiteList(t *testing.T) {
	require := require.New(t)

	fake := testAppliance()
	fake.Sites[0]["SITELIST"] = "3,1=ACQ480,2=AO424,4=ACQ424"
	fake.Sites[5] = map[string]string{"MODEL": "not listed"}

	uut, _ := newTestUUT(t, fake, WithSiteList(), WithMonitor(false))

	require.Equal([]int{0, 1, 2}, uut.Sites())

	attachErrs := uut.AttachErrors()
	require.Len(attachErrs, 1)
	require.Equal(4, attachErrs[0].Site)
	require.ErrorIs(attachErrs[0], acq.ErrConnection)

	var attachErr *AttachError
	require.True(errors.As(attachErrs[0], &attachErr))
}

func TestNew_DeferredDiscovery(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	uut, srv := newTestUUT(t, testAppliance(), WithDeferredDiscovery(), WithMonitor(false))

	require.Equal([]int{0, 1, 2}, uut.Sites())
	require.Nil(uut.Monitor())
	for _, idx := range uut.Sites() {
		require.EqualValues(0, srv.Site(idx).ListCount())
	}

	_, ok := uut.Status()
	require.False(ok)

	reply, err := uut.Get(ctx, "s1.MODEL")
	require.NoError(err)
	require.Equal("MODEL ACQ480", reply)
	require.EqualValues(1, srv.Site(1).ListCount())
	require.EqualValues(0, srv.Site(2).ListCount())
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"word size", WithWordSize(3)},
		{"max sites", WithMaxSites(0)},
		{"site port", WithSiteBasePort(70000)},
		{"status port", WithStatusPort(0)},
		{"data port", WithDataBasePort(-1)},
		{"segment port", WithSegmentPorts(4250, 0)},
		{"fault threshold", WithFaultThreshold(0)},
		{"connect timeout", WithConnectTimeout(time.Hour)},
		{"read timeout", WithReadTimeout(time.Millisecond)},
		{"data timeout", WithDataTimeout(time.Hour)},
		{"logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uut, err := New(context.Background(), "127.0.0.1", tt.opt)
			require.Error(t, err)
			require.Nil(t, uut)
		})
	}
}

func TestUUT_KnobRouting(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	uut, srv := newTestUUT(t, testAppliance(), WithMonitor(false))

	reply, err := uut.Get(ctx, "s1.SIG_CLK_MB_FREQ")
	require.NoError(err)
	require.Equal("SIG:CLK_MB:FREQ 50012464", reply)

	reply, err = uut.Get(ctx, "s1.SIG:CLK_MB:FREQ")
	require.NoError(err)
	require.Equal("SIG:CLK_MB:FREQ 50012464", reply)

	reply, err = uut.Get(ctx, "MODEL")
	require.NoError(err)
	require.Equal("MODEL acq2106", reply)

	_, err = uut.Get(ctx, "s7.MODEL")
	require.ErrorIs(err, acq.ErrNoSite)

	before := srv.Site(1).BytesIn()
	_, err = uut.Get(ctx, "s1.NO_SUCH_KNOB")
	require.ErrorIs(err, acq.ErrUnknownKnob)
	require.Equal(before, srv.Site(1).BytesIn())

	require.NoError(uut.Set(ctx, "s0.set_arm", "1"))
	require.Eventually(func() bool {
		return slices.Contains(srv.Site(0).Lines(), "set_arm 1")
	}, waitFor, tick)

	knob, err := uut.Knob(ctx, "s1.shot")
	require.NoError(err)
	value, err := knob.Value(ctx)
	require.NoError(err)
	require.Equal("348", value)
}

func TestUUT_ReadChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("samples from monitor", func(t *testing.T) {
		require := require.New(t)

		dir := t.TempDir()
		uut, srv := newTestUUT(t, testAppliance(), WithSaveData(dir))

		data, err := uut.ReadChannel(ctx, 1)
		require.NoError(err)
		require.Equal(channelPayload(1, testSamples, 2), data)
		require.EqualValues(1, srv.DataConnections())

		saved, err := os.ReadFile(filepath.Join(dir, srv.Host()+"_CH01"))
		require.NoError(err)
		require.Equal(data, saved)
	})

	t.Run("samples from state knob", func(t *testing.T) {
		require := require.New(t)

		uut, _ := newTestUUT(t, testAppliance(), WithMonitor(false))

		data, err := uut.ReadChannel(ctx, 2)
		require.NoError(err)
		require.Equal(channelPayload(2, testSamples, 2), data)

		samples, err := uut.Samples(ctx)
		require.NoError(err)
		require.EqualValues(testSamples, samples)
	})

	t.Run("32 bit words", func(t *testing.T) {
		require := require.New(t)

		fake := testAppliance()
		fake.Sites[0]["state"] = "0 100 150 0 1"
		fake.Status = "0 100 150 0 1"
		fake.Channels[3] = channelPayload(3, 250, 4)

		uut, _ := newTestUUT(t, fake, WithWordSize(4), WithMonitor(false))

		data, err := uut.ReadChannel(ctx, 3)
		require.NoError(err)
		require.Len(data, 1000)
		require.Equal(fake.Channels[3], data)
	})

	t.Run("samples after monitor fault", func(t *testing.T) {
		require := require.New(t)

		uut, srv := newTestUUT(t, testAppliance(), WithFaultThreshold(1))
		mon := uut.Monitor()
		require.Eventually(func() bool { return mon.Snapshot().Seq > 0 }, waitFor, tick)

		srv.CloseStatus()
		require.Eventually(func() bool { return mon.State() == acq.MonitorFaulted }, waitFor, tick)

		// the next shot is larger than the one in the stale snapshot
		srv.Site(0).SetKnob("state", "0 2000 8000 0 6")
		srv.SetChannelData(1, channelPayload(1, 10000, 2))

		snap, ok := uut.Status()
		require.True(ok)
		require.True(snap.Stale)
		require.EqualValues(testSamples, snap.Samples())

		samples, err := uut.Samples(ctx)
		require.NoError(err)
		require.EqualValues(10000, samples)

		data, err := uut.ReadChannel(ctx, 1)
		require.NoError(err)
		require.Len(data, 20000)
		require.Equal(channelPayload(1, 10000, 2), data)
	})

	t.Run("short transfer", func(t *testing.T) {
		require := require.New(t)

		uut, srv := newTestUUT(t, testAppliance(), WithMonitor(false))
		srv.TruncateChannel(4, 100)

		data, err := uut.ReadChannel(ctx, 4)
		require.ErrorIs(err, acq.ErrTransport)
		require.Nil(data)
	})

	t.Run("invalid channel", func(t *testing.T) {
		uut, _ := newTestUUT(t, testAppliance(), WithMonitor(false))

		_, err := uut.ReadChannel(ctx, 0)
		require.Error(t, err)
	})
}

func TestUUT_ReadChannels(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	uut, srv := newTestUUT(t, testAppliance(), WithMonitor(false))

	n, err := uut.NChan(ctx)
	require.NoError(err)
	require.Equal(4, n)

	all, err := uut.ReadChannels(ctx)
	require.NoError(err)
	require.Len(all, 4)
	for i, data := range all {
		require.Equal(channelPayload(i+1, testSamples, 2), data)
	}

	some, err := uut.ReadChannels(ctx, 3, 1)
	require.NoError(err)
	require.Equal(channelPayload(3, testSamples, 2), some[0])
	require.Equal(channelPayload(1, testSamples, 2), some[1])
	require.EqualValues(6, srv.DataConnections())
}

func TestUUT_Segments(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	uut, srv := newTestUUT(t, testAppliance(), WithMonitor(false))

	segs := []string{"A=1,0,0,0", "B=0,1,0,0"}
	require.NoError(uut.LoadSegments(ctx, segs))
	require.Eventually(func() bool {
		return slices.Equal(segs, srv.Segments())
	}, waitFor, tick)

	shown, err := uut.ShowSegments(ctx)
	require.NoError(err)
	require.Equal(segs, shown)
}

func TestUUT_Close(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	uut, _ := newTestUUT(t, testAppliance())
	mon := uut.Monitor()
	require.Eventually(func() bool { return mon.State().IsActive() }, waitFor, tick)

	require.NoError(uut.Close())
	require.Equal(acq.MonitorStopped, mon.State())
	require.Equal(acq.Disconnected, uut.Chassis().Transport().State())

	// a closed site reconnects on demand
	_, err := uut.Get(ctx, "MODEL")
	require.NoError(err)
}

func TestParseSiteList(t *testing.T) {
	tests := []struct {
		value   string
		want    []int
		wantErr bool
	}{
		{value: "2,1=ACQ480,2=AO424", want: []int{1, 2}},
		{value: "3,6=DIO432,1=ACQ480,3=ACQ424", want: []int{1, 3, 6}},
		{value: "0", want: []int{}},
		{value: "1,1=ACQ480,", want: []int{1}},
		{value: "1,x=ACQ480", wantErr: true},
		{value: "1,0=chassis", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseSiteList(tt.value)
			if tt.wantErr {
				require.ErrorIs(t, err, acq.ErrProtocol)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
