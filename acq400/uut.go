package acq400

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/datachan"
	"github.com/arloliu/go-acq400/logger"
	"github.com/arloliu/go-acq400/netclient"
	"github.com/arloliu/go-acq400/site"
	"github.com/arloliu/go-acq400/statmon"
	"github.com/puzpuzpuz/xsync/v3"
)

// segmentDumpLimit bounds the reply of the segment dump port.
const segmentDumpLimit = 1 << 20

// AttachError reports a site that could not be attached while the UUT was built.
type AttachError struct {
	Site int
	Err  error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("site %d: %v", e.Site, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// UUT is the handle of one appliance: the chassis controller, every attached
// site, the optional status monitor and on-demand data channels.
//
// The set of attached sites is fixed when New returns.
type UUT struct {
	host   string
	opts   *options
	logger logger.Logger

	sites      map[int]*site.Conn
	attachErrs []*AttachError
	monitor    *statmon.Monitor
	channels   *xsync.MapOf[int, *datachan.Channel]
}

// New builds the handle of the appliance at host.
//
// Site 0 is mandatory: if it cannot be attached New fails with acq.ErrConnection.
// The other site ports are probed in ascending order, or taken from the chassis
// SITELIST knob with WithSiteList. A site that fails to attach never aborts the
// others; it is logged and reported by AttachErrors. In probe mode a refused port
// means the site is not populated and is not an error.
//
// Each attached site discovers its knobs unless WithDeferredDiscovery is given.
// The status monitor, when enabled, is seeded from the chassis state knob and keeps
// running until Close; ctx only bounds the construction.
func New(ctx context.Context, host string, opts ...Option) (*UUT, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	u := &UUT{
		host:     host,
		opts:     o,
		logger:   o.logger.With("uut", host),
		sites:    make(map[int]*site.Conn),
		channels: xsync.NewMapOf[int, *datachan.Channel](),
	}

	chassis, err := u.attach(ctx, acq.Chassis)
	if err != nil {
		if errors.Is(err, acq.ErrConnection) {
			return nil, fmt.Errorf("attach chassis: %w", err)
		}
		return nil, fmt.Errorf("%w: attach chassis: %w", acq.ErrConnection, err)
	}
	u.sites[acq.Chassis] = chassis

	if o.siteList {
		err = u.attachListed(ctx)
	} else {
		u.probe(ctx)
	}
	if err != nil {
		_ = u.closeSites()
		return nil, err
	}

	if o.monitor {
		if err := u.startMonitor(ctx); err != nil {
			_ = u.closeSites()
			return nil, err
		}
	}

	u.logger.Info("uut attached",
		"sites", u.Sites(),
		"attach_errors", len(u.attachErrs),
		"monitor", o.monitor,
	)

	return u, nil
}

func (u *UUT) newConfig(port int, extra ...netclient.ConnOption) (*netclient.Config, error) {
	connOpts := []netclient.ConnOption{
		netclient.WithConnectTimeout(u.opts.connectTimeout),
		netclient.WithReadTimeout(u.opts.readTimeout),
		netclient.WithLogger(u.opts.logger),
	}

	return netclient.NewConfig(u.host, port, append(connOpts, extra...)...)
}

// attach connects site idx and runs its discovery unless deferred.
func (u *UUT) attach(ctx context.Context, idx int) (*site.Conn, error) {
	cfg, err := u.newConfig(u.opts.siteBasePort + idx)
	if err != nil {
		return nil, err
	}

	conn := site.New(idx, netclient.NewTransport(cfg), site.WithLogger(u.logger))
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	if !u.opts.deferredDiscovery {
		if err := conn.Discover(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

func (u *UUT) probe(ctx context.Context) {
	for idx := 1; idx <= u.opts.maxSites; idx++ {
		if ctx.Err() != nil {
			u.addAttachError(idx, ctx.Err())
			continue
		}

		conn, err := u.attach(ctx, idx)
		if err != nil {
			if errors.Is(err, syscall.ECONNREFUSED) {
				u.logger.Debug("site not populated", "site", idx)
				continue
			}
			u.addAttachError(idx, err)

			continue
		}
		u.sites[idx] = conn
	}
}

func (u *UUT) attachListed(ctx context.Context) error {
	reply, err := u.Chassis().Get(ctx, acq.KnobSiteList)
	if err != nil {
		return fmt.Errorf("read %s: %w", acq.KnobSiteList, err)
	}

	listed, err := ParseSiteList(acq.KnobValue(reply))
	if err != nil {
		return err
	}

	for _, idx := range listed {
		conn, err := u.attach(ctx, idx)
		if err != nil {
			u.addAttachError(idx, err)
			continue
		}
		u.sites[idx] = conn
	}

	return nil
}

func (u *UUT) addAttachError(idx int, err error) {
	u.logger.Warn("failed to attach site", "site", idx, "error", err)
	u.attachErrs = append(u.attachErrs, &AttachError{Site: idx, Err: err})
}

func (u *UUT) startMonitor(ctx context.Context) error {
	cfg, err := u.newConfig(u.opts.statusPort)
	if err != nil {
		return err
	}

	u.monitor = statmon.New(netclient.NewTransport(cfg),
		statmon.WithLogger(u.logger),
		statmon.WithFaultThreshold(u.opts.faultThreshold),
	)

	if snap, err := u.readState(ctx); err == nil {
		u.monitor.Seed(snap)
	} else {
		u.logger.Warn("cannot seed status monitor", "error", err)
	}

	return u.monitor.Start(context.WithoutCancel(ctx))
}

// readState reads the chassis state knob, which carries a status line.
func (u *UUT) readState(ctx context.Context) (acq.StatusSnapshot, error) {
	reply, err := u.Chassis().Get(ctx, acq.KnobState)
	if err != nil {
		return acq.StatusSnapshot{}, err
	}

	return acq.ParseStatusLine(acq.KnobValue(reply))
}

// ParseSiteList parses a SITELIST value, "<count>,<site>=<model>,...", and returns the site indexes.
func ParseSiteList(value string) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(value), ",")

	sites := make([]int, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		idxStr, _, _ := strings.Cut(part, "=")
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx <= acq.Chassis {
			return nil, &acq.ProtocolError{Line: value, Reason: "invalid site list entry " + strconv.Quote(part)}
		}
		sites = append(sites, idx)
	}
	slices.Sort(sites)

	return slices.Compact(sites), nil
}

// Host returns the appliance address.
func (u *UUT) Host() string { return u.host }

// Chassis returns the connection of site 0.
func (u *UUT) Chassis() *site.Conn { return u.sites[acq.Chassis] }

// Site returns the connection of site idx.
func (u *UUT) Site(idx int) (*site.Conn, error) {
	conn, ok := u.sites[idx]
	if !ok {
		return nil, fmt.Errorf("%w: %d", acq.ErrNoSite, idx)
	}

	return conn, nil
}

// Sites returns the attached site indexes in ascending order, 0 included.
func (u *UUT) Sites() []int {
	return slices.Sorted(maps.Keys(u.sites))
}

// ModCount returns the number of attached sites, the chassis excluded.
func (u *UUT) ModCount() int { return len(u.sites) - 1 }

// AttachErrors returns the sites that failed to attach.
func (u *UUT) AttachErrors() []*AttachError {
	return slices.Clone(u.attachErrs)
}

// Monitor returns the status monitor, nil when it is disabled.
func (u *UUT) Monitor() *statmon.Monitor { return u.monitor }

// Status returns the latest status snapshot. It reports false when the monitor is
// disabled or has not published anything yet.
func (u *UUT) Status() (acq.StatusSnapshot, bool) {
	if u.monitor == nil {
		return acq.StatusSnapshot{Demux: -1}, false
	}

	return u.monitor.Latest()
}

// Knob resolves a knob path. "sN.<ident>" addresses site N, a bare identifier addresses the chassis.
func (u *UUT) Knob(ctx context.Context, path string) (*site.Knob, error) {
	conn, ident := u.Chassis(), path
	if prefix, rest, ok := strings.Cut(path, "."); ok && strings.HasPrefix(prefix, "s") {
		idx, err := strconv.Atoi(prefix[1:])
		if err != nil {
			return nil, &acq.KnobError{Site: acq.Chassis, Name: path}
		}
		if conn, err = u.Site(idx); err != nil {
			return nil, err
		}
		ident = rest
	}

	return conn.Knob(ctx, ident)
}

// Get reads the knob at path, see Knob for the path syntax.
func (u *UUT) Get(ctx context.Context, path string) (string, error) {
	knob, err := u.Knob(ctx, path)
	if err != nil {
		return "", err
	}

	return knob.Get(ctx)
}

// Set writes the knob at path without waiting for a reply.
func (u *UUT) Set(ctx context.Context, path string, value string) error {
	knob, err := u.Knob(ctx, path)
	if err != nil {
		return err
	}

	return knob.Set(ctx, value)
}

// NChan returns the channel count reported by the chassis.
func (u *UUT) NChan(ctx context.Context) (int, error) {
	reply, err := u.Chassis().Get(ctx, acq.KnobNChan)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(acq.KnobValue(reply)))
	if err != nil {
		return 0, &acq.ProtocolError{Line: reply, Reason: "non numeric channel count"}
	}

	return n, nil
}

// Samples returns the number of samples of the last shot, pre plus post trigger.
// It uses the monitor snapshot when a live one exists. Without a monitor, before its
// first snapshot or once it faulted, it reads the chassis state knob.
func (u *UUT) Samples(ctx context.Context) (int64, error) {
	if snap, ok := u.Status(); ok && !snap.Stale {
		return snap.Samples(), nil
	}

	snap, err := u.readState(ctx)
	if err != nil {
		return 0, err
	}

	return snap.Samples(), nil
}

// channel returns the transfer counters holder of ch. It keeps no socket, every Read dials its own.
func (u *UUT) channel(ch int) (*datachan.Channel, error) {
	if c, ok := u.channels.Load(ch); ok {
		return c, nil
	}

	cfg, err := u.newConfig(u.opts.dataBasePort+ch, netclient.WithReadTimeout(u.opts.dataTimeout))
	if err != nil {
		return nil, err
	}
	c, _ := u.channels.LoadOrStore(ch, datachan.New(cfg))

	return c, nil
}

// ReadChannel transfers the raw samples of channel ch captured by the last shot.
//
// The payload is samples times the word size bytes. With WithSaveData a copy is
// written to <dir>/<host>_CHnn.
func (u *UUT) ReadChannel(ctx context.Context, ch int) ([]byte, error) {
	if ch < 1 {
		return nil, fmt.Errorf("invalid channel %d", ch)
	}

	samples, err := u.Samples(ctx)
	if err != nil {
		return nil, err
	}

	c, err := u.channel(ch)
	if err != nil {
		return nil, err
	}

	data, err := c.Read(ctx, datachan.FixedSize(int(samples)*u.opts.wordSize))
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", ch, err)
	}

	if u.opts.saveDir != "" {
		if err := u.save(ch, data); err != nil {
			return nil, err
		}
	}

	return data, nil
}

// ReadChannels reads the given channels in order, every channel 1..NCHAN when none is given.
func (u *UUT) ReadChannels(ctx context.Context, chans ...int) ([][]byte, error) {
	if len(chans) == 0 {
		n, err := u.NChan(ctx)
		if err != nil {
			return nil, err
		}
		for ch := 1; ch <= n; ch++ {
			chans = append(chans, ch)
		}
	}

	out := make([][]byte, 0, len(chans))
	for _, ch := range chans {
		data, err := u.ReadChannel(ctx, ch)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}

	return out, nil
}

func (u *UUT) save(ch int, data []byte) error {
	if err := os.MkdirAll(u.opts.saveDir, 0o755); err != nil {
		return fmt.Errorf("save channel %d: %w", ch, err)
	}

	name := filepath.Join(u.opts.saveDir, fmt.Sprintf("%s_CH%02d", u.host, ch))
	if err := os.WriteFile(name, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("save channel %d: %w", ch, err)
	}

	return nil
}

// LoadSegments writes segment definitions, one per line, to the segment loader port.
func (u *UUT) LoadSegments(ctx context.Context, segs []string) error {
	cfg, err := u.newConfig(u.opts.segmentWritePort)
	if err != nil {
		return err
	}

	tr := netclient.NewTransport(cfg)
	if err := tr.Connect(ctx); err != nil {
		return err
	}
	defer tr.Close()

	for _, seg := range segs {
		if err := tr.SendLine(seg); err != nil {
			return fmt.Errorf("load segment %q: %w", seg, err)
		}
	}

	return nil
}

// ShowSegments returns the segment definitions dumped by the segment read port.
func (u *UUT) ShowSegments(ctx context.Context) ([]string, error) {
	cfg, err := u.newConfig(u.opts.segmentReadPort)
	if err != nil {
		return nil, err
	}

	data, err := datachan.New(cfg).Read(ctx, datachan.UntilClose(segmentDumpLimit))
	if err != nil {
		return nil, err
	}

	return strings.FieldsFunc(string(data), func(r rune) bool { return r == '\n' || r == '\r' }), nil
}

// Close stops the monitor and closes every site connection.
func (u *UUT) Close() error {
	if u.monitor != nil {
		u.monitor.Stop()
	}

	return u.closeSites()
}

func (u *UUT) closeSites() error {
	var errs []error
	for _, idx := range u.Sites() {
		if err := u.sites[idx].Close(); err != nil {
			errs = append(errs, fmt.Errorf("site %d: %w", idx, err))
		}
	}

	return errors.Join(errs...)
}
