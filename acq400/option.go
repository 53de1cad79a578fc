package acq400

import (
	"errors"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/logger"
)

// options holds the configuration of a UUT.
type options struct {
	// siteBasePort is the command port of site 0, site N listens on siteBasePort+N.
	siteBasePort int
	// statusPort is the status stream port.
	statusPort int
	// dataBasePort is the bulk data base port, channel N is served on dataBasePort+N.
	dataBasePort int
	// segmentWritePort and segmentReadPort are the segment loader and dump ports.
	segmentWritePort int
	segmentReadPort  int

	// maxSites is the highest site index probed. Defaults to 6.
	maxSites int
	// siteList attaches the sites named by the chassis SITELIST knob instead of probing.
	siteList bool
	// deferredDiscovery skips the eager knob discovery of every attached site.
	deferredDiscovery bool

	// monitor enables the status monitor. Defaults to true.
	monitor bool
	// faultThreshold is the number of consecutive status failures before the monitor faults.
	faultThreshold int

	// wordSize is the size in bytes of one raw sample, 2 or 4. Defaults to 2.
	wordSize int
	// saveDir receives a copy of every channel read when set.
	saveDir string

	connectTimeout time.Duration
	readTimeout    time.Duration
	dataTimeout    time.Duration

	logger logger.Logger
}

func defaultOptions() *options {
	return &options{
		siteBasePort:     acq.SiteBasePort,
		statusPort:       acq.StatusPort,
		dataBasePort:     acq.DataBasePort,
		segmentWritePort: acq.SegmentWritePort,
		segmentReadPort:  acq.SegmentReadPort,
		maxSites:         6,
		monitor:          true,
		faultThreshold:   3,
		wordSize:         2,
		connectTimeout:   3 * time.Second,
		readTimeout:      5 * time.Second,
		dataTimeout:      60 * time.Second,
		logger:           logger.GetLogger(),
	}
}

// Option configures a UUT.
type Option interface {
	apply(*options) error
}

type optFunc struct {
	name      string
	applyFunc func(*options) error
}

func (o *optFunc) apply(opts *options) error {
	if opts == nil {
		return acq.ErrConfigNil
	}

	return o.applyFunc(opts)
}

func newOptFunc(name string, f func(*options) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

func validPort(port int) bool { return port >= 1 && port <= 65535 }

// WithSiteBasePort sets the command port of site 0.
//
// The default value is 4220.
func WithSiteBasePort(port int) Option {
	return newOptFunc("WithSiteBasePort", func(opts *options) error {
		if !validPort(port) {
			return errors.New("site base port is out of range [1, 65535]")
		}
		opts.siteBasePort = port

		return nil
	})
}

// WithStatusPort sets the status stream port.
//
// The default value is 2235.
func WithStatusPort(port int) Option {
	return newOptFunc("WithStatusPort", func(opts *options) error {
		if !validPort(port) {
			return errors.New("status port is out of range [1, 65535]")
		}
		opts.statusPort = port

		return nil
	})
}

// WithDataBasePort sets the bulk data base port.
//
// The default value is 53000.
func WithDataBasePort(port int) Option {
	return newOptFunc("WithDataBasePort", func(opts *options) error {
		if !validPort(port) {
			return errors.New("data base port is out of range [1, 65535]")
		}
		opts.dataBasePort = port

		return nil
	})
}

// WithSegmentPorts sets the segment loader and segment dump ports.
//
// The default values are 4250 and 4251.
func WithSegmentPorts(write, read int) Option {
	return newOptFunc("WithSegmentPorts", func(opts *options) error {
		if !validPort(write) || !validPort(read) {
			return errors.New("segment port is out of range [1, 65535]")
		}
		opts.segmentWritePort = write
		opts.segmentReadPort = read

		return nil
	})
}

// WithMaxSites sets the highest site index probed. It should be between 1 and 32.
//
// The default value is 6.
func WithMaxSites(n int) Option {
	return newOptFunc("WithMaxSites", func(opts *options) error {
		if n < 1 || n > 32 {
			return errors.New("max sites out of range [1, 32]")
		}
		opts.maxSites = n

		return nil
	})
}

// WithSiteList attaches exactly the sites reported by the chassis SITELIST knob instead of probing
// every site port. A listed site that cannot be attached is reported by AttachErrors.
func WithSiteList() Option {
	return newOptFunc("WithSiteList", func(opts *options) error {
		opts.siteList = true
		return nil
	})
}

// WithDeferredDiscovery defers the knob discovery of every site to its first use.
func WithDeferredDiscovery() Option {
	return newOptFunc("WithDeferredDiscovery", func(opts *options) error {
		opts.deferredDiscovery = true
		return nil
	})
}

// WithMonitor enables or disables the status monitor.
//
// The default value is true.
func WithMonitor(enabled bool) Option {
	return newOptFunc("WithMonitor", func(opts *options) error {
		opts.monitor = enabled
		return nil
	})
}

// WithFaultThreshold sets the number of consecutive status failures after which the monitor faults.
// It should be between 1 and 100.
//
// The default value is 3.
func WithFaultThreshold(n int) Option {
	return newOptFunc("WithFaultThreshold", func(opts *options) error {
		if n < 1 || n > 100 {
			return errors.New("fault threshold out of range [1, 100]")
		}
		opts.faultThreshold = n

		return nil
	})
}

// WithWordSize sets the size in bytes of one raw sample, 2 for 16 bit and 4 for 32 bit channels.
//
// The default value is 2.
func WithWordSize(n int) Option {
	return newOptFunc("WithWordSize", func(opts *options) error {
		if n != 2 && n != 4 {
			return errors.New("word size must be 2 or 4")
		}
		opts.wordSize = n

		return nil
	})
}

// WithSaveData stores a copy of every channel read as <dir>/<host>_CHnn. An empty dir disables it.
func WithSaveData(dir string) Option {
	return newOptFunc("WithSaveData", func(opts *options) error {
		opts.saveDir = dir
		return nil
	})
}

// WithConnectTimeout sets the dial timeout of every connection. It should be between 10ms and 60s.
//
// The default value is 3 seconds.
func WithConnectTimeout(d time.Duration) Option {
	return newOptFunc("WithConnectTimeout", func(opts *options) error {
		if d < 10*time.Millisecond || d > 60*time.Second {
			return errors.New("connect timeout out of range [10ms, 60s]")
		}
		opts.connectTimeout = d

		return nil
	})
}

// WithReadTimeout sets the receive deadline of knob replies and status lines. It should be between 10ms and 10m.
//
// The default value is 5 seconds.
func WithReadTimeout(d time.Duration) Option {
	return newOptFunc("WithReadTimeout", func(opts *options) error {
		if d < 10*time.Millisecond || d > 10*time.Minute {
			return errors.New("read timeout out of range [10ms, 10m]")
		}
		opts.readTimeout = d

		return nil
	})
}

// WithDataTimeout sets the deadline of one channel transfer. It should be between 10ms and 10m.
//
// The default value is 60 seconds.
func WithDataTimeout(d time.Duration) Option {
	return newOptFunc("WithDataTimeout", func(opts *options) error {
		if d < 10*time.Millisecond || d > 10*time.Minute {
			return errors.New("data timeout out of range [10ms, 10m]")
		}
		opts.dataTimeout = d

		return nil
	})
}

// WithLogger sets the logger of the UUT and every connection it owns.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(opts *options) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		opts.logger = l

		return nil
	})
}
