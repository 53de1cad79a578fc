package acq400

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	uut, srv := newTestUUT(t, testAppliance())

	reg := prometheus.NewPedanticRegistry()
	require.NoError(RegisterMetrics(reg, uut))

	n, err := testutil.GatherAndCount(reg, "acq400_site_connects_total")
	require.NoError(err)
	require.Equal(3, n)

	n, err = testutil.GatherAndCount(reg, "acq400_channel_transfers_total")
	require.NoError(err)
	require.Zero(n)

	_, err = uut.ReadChannel(ctx, 2)
	require.NoError(err)

	expected := `
# HELP acq400_channel_transfers_total Completed channel transfers.
# TYPE acq400_channel_transfers_total counter
acq400_channel_transfers_total{channel="2",uut="` + srv.Host() + `"} 1
`
	require.NoError(testutil.GatherAndCompare(reg, strings.NewReader(expected), "acq400_channel_transfers_total"))

	n, err = testutil.GatherAndCount(reg, "acq400_monitor_shot")
	require.NoError(err)
	require.Equal(1, n)

	// registering the same UUT twice reports every duplicate
	require.Error(RegisterMetrics(reg, uut))
}

func TestRegisterMetrics_NoMonitor(t *testing.T) {
	require := require.New(t)

	uut, _ := newTestUUT(t, testAppliance(), WithMonitor(false))

	reg := prometheus.NewRegistry()
	require.NoError(RegisterMetrics(reg, uut))

	n, err := testutil.GatherAndCount(reg, "acq400_monitor_state")
	require.NoError(err)
	require.Zero(n)

	n, err = testutil.GatherAndCount(reg, "acq400_site_lines_sent_total")
	require.NoError(err)
	require.Equal(3, n)
}
