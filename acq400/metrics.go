package acq400

import (
	"errors"
	"strconv"

	"github.com/arloliu/go-acq400/datachan"
	"github.com/arloliu/go-acq400/netclient"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "acq400"

// RegisterMetrics registers the counters of every site transport, the status monitor
// and the data channels of u with reg. Every series carries the const label uut.
//
// Data channels are created on first read; they appear in the channel series from then on.
func RegisterMetrics(reg prometheus.Registerer, u *UUT) error {
	var errs []error
	register := func(c prometheus.Collector) {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}

	for _, idx := range u.Sites() {
		conn, _ := u.Site(idx)
		labels := prometheus.Labels{"uut": u.host, "site": strconv.Itoa(idx)}
		for _, c := range transportCounters(conn.Transport().Metrics(), "site", labels) {
			register(c)
		}
	}

	if mon := u.monitor; mon != nil {
		labels := prometheus.Labels{"uut": u.host}
		register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "monitor",
			Name:        "state",
			Help:        "Status monitor state: 0 idle, 1 polling, 2 snapshot ready, 3 faulted, 4 stopped.",
			ConstLabels: labels,
		}, func() float64 { return float64(mon.State()) }))
		register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "monitor",
			Name:        "shot",
			Help:        "Shot counter of the latest status snapshot.",
			ConstLabels: labels,
		}, func() float64 { return float64(mon.Snapshot().Shot) }))
		register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "monitor",
			Name:        "device_state",
			Help:        "Device state of the latest status snapshot.",
			ConstLabels: labels,
		}, func() float64 { return float64(mon.Snapshot().State) }))
		register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "monitor",
			Name:        "stale",
			Help:        "1 when the latest status snapshot is stale after a monitor fault.",
			ConstLabels: labels,
		}, func() float64 {
			if mon.Snapshot().Stale {
				return 1
			}
			return 0
		}))
	}

	register(newChannelCollector(u))

	return errors.Join(errs...)
}

func transportCounters(m *netclient.Metrics, subsystem string, labels prometheus.Labels) []prometheus.Collector {
	counter := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, f)
	}

	return []prometheus.Collector{
		counter("lines_sent_total", "Request lines written.", func() float64 { return float64(m.LinesSent.Load()) }),
		counter("lines_received_total", "Reply lines received.", func() float64 { return float64(m.LinesRecv.Load()) }),
		counter("bytes_sent_total", "Bytes written.", func() float64 { return float64(m.BytesSent.Load()) }),
		counter("bytes_received_total", "Bytes received.", func() float64 { return float64(m.BytesRecv.Load()) }),
		counter("timeouts_total", "Receive deadlines that expired.", func() float64 { return float64(m.Timeouts.Load()) }),
		counter("errors_total", "Socket failures other than timeouts.", func() float64 { return float64(m.Errors.Load()) }),
		counter("connects_total", "Successful dials.", func() float64 { return float64(m.Connects.Load()) }),
		counter("connect_errors_total", "Failed dials.", func() float64 { return float64(m.ConnectErrors.Load()) }),
	}
}

// channelCollector exports the transfer counters of the data channels created so far.
type channelCollector struct {
	u         *UUT
	transfers *prometheus.Desc
	failures  *prometheus.Desc
	bytes     *prometheus.Desc
}

func newChannelCollector(u *UUT) *channelCollector {
	labels := prometheus.Labels{"uut": u.host}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "channel", name), help, []string{"channel"}, labels)
	}

	return &channelCollector{
		u:         u,
		transfers: desc("transfers_total", "Completed channel transfers."),
		failures:  desc("failures_total", "Failed channel transfers."),
		bytes:     desc("bytes_total", "Payload bytes of completed channel transfers."),
	}
}

func (c *channelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.transfers
	ch <- c.failures
	ch <- c.bytes
}

func (c *channelCollector) Collect(ch chan<- prometheus.Metric) {
	c.u.channels.Range(func(num int, dc *datachan.Channel) bool {
		label := strconv.Itoa(num)
		m := dc.Metrics()
		ch <- prometheus.MustNewConstMetric(c.transfers, prometheus.CounterValue, float64(m.Transfers.Load()), label)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(m.Failures.Load()), label)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(m.Bytes.Load()), label)

		return true
	})
}
