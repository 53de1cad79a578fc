// Package fakeuut runs an in-process fake appliance for tests: knob servers on contiguous
// site ports, a status stream, bulk data ports and the segment ports.
package fakeuut

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Port offsets from the random base chosen at start.
const (
	statusOffset   = 20
	segWriteOffset = 30
	segReadOffset  = 31
	dataOffset     = 40
	maxChannels    = 64
)

// ListCommand is the knob listing request served by every site.
const ListCommand = "help"

// Options describes the fake appliance.
type Options struct {
	// Sites maps a site index to its knobs and initial values. Site 0 is the chassis.
	Sites map[int]map[string]string
	// Channels maps a channel number (1..64) to the bytes served on its data port.
	Channels map[int][]byte
	// Status is the status line sent to each new status client.
	Status string
	// StatusInterval repeats the latest status line at this period. Zero sends lines only on PushStatus.
	StatusInterval time.Duration
}

// Server is a running fake appliance.
type Server struct {
	base   int
	sites  map[int]*Site
	status *statusServer

	mu         sync.Mutex
	channels   map[int][]byte
	truncate   map[int]int
	segments   []string
	listeners  []net.Listener
	conns      map[net.Conn]struct{}
	dataServed atomic.Int64
}

// Start starts the fake appliance and registers its shutdown with tb.Cleanup.
func Start(tb testing.TB, opts Options) *Server {
	tb.Helper()

	for range 50 {
		srv := &Server{
			base:     20000 + rand.IntN(40000), //nolint:gosec
			sites:    make(map[int]*Site),
			channels: make(map[int][]byte),
			truncate: make(map[int]int),
			conns:    make(map[net.Conn]struct{}),
		}
		for ch, data := range opts.Channels {
			srv.channels[ch] = data
		}
		if err := srv.listen(opts); err != nil {
			srv.Close()
			continue
		}
		tb.Cleanup(srv.Close)

		return srv
	}

	tb.Fatalf("fakeuut: no free port range")

	return nil
}

func (s *Server) listen(opts Options) error {
	for idx, knobs := range opts.Sites {
		site := newSite(idx, knobs)
		ln, err := s.listenPort(s.base + idx)
		if err != nil {
			return err
		}
		s.sites[idx] = site
		go s.acceptLoop(ln, site.serve)
	}

	ln, err := s.listenPort(s.base + statusOffset)
	if err != nil {
		return err
	}
	s.status = newStatusServer(ln, opts.Status, opts.StatusInterval)
	go s.acceptLoop(ln, s.status.serve)

	if ln, err = s.listenPort(s.base + segWriteOffset); err != nil {
		return err
	}
	go s.acceptLoop(ln, s.serveSegmentWrite)

	if ln, err = s.listenPort(s.base + segReadOffset); err != nil {
		return err
	}
	go s.acceptLoop(ln, s.serveSegmentRead)

	for ch := 1; ch <= maxChannels; ch++ {
		if _, ok := opts.Channels[ch]; !ok {
			continue
		}
		if ln, err = s.listenPort(s.base + dataOffset + ch); err != nil {
			return err
		}
		go s.acceptLoop(ln, s.dataHandler(ch))
	}

	return nil
}

func (s *Server) listenPort(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	return ln, nil
}

func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go func() {
			defer func() {
				_ = conn.Close()
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			handle(conn)
		}()
	}
}

// Close stops every listener and drops every connection.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.listeners = nil
	for conn := range s.conns {
		_ = conn.Close()
	}
	if s.status != nil {
		s.status.closeAll()
	}
}

// Host returns the address the fake listens on.
func (s *Server) Host() string { return "127.0.0.1" }

// SiteBase returns the command port of site 0.
func (s *Server) SiteBase() int { return s.base }

// StatusPort returns the status stream port.
func (s *Server) StatusPort() int { return s.base + statusOffset }

// DataBase returns the data port base; channel N is served on DataBase()+N.
func (s *Server) DataBase() int { return s.base + dataOffset }

// SegmentWritePort returns the segment loader port.
func (s *Server) SegmentWritePort() int { return s.base + segWriteOffset }

// SegmentReadPort returns the segment dump port.
func (s *Server) SegmentReadPort() int { return s.base + segReadOffset }

// Site returns the fake site with index idx, nil if it is not populated.
func (s *Server) Site(idx int) *Site { return s.sites[idx] }

// PushStatus sends line to every connected status client and makes it the line sent on connect.
func (s *Server) PushStatus(line string) { s.status.push(line) }

// StatusClients returns the number of connected status clients.
func (s *Server) StatusClients() int { return s.status.clients() }

// DropStatusClients closes every status connection, the listener stays up.
func (s *Server) DropStatusClients() { s.status.closeAll() }

// CloseStatus closes the status listener and every status connection; later connects are refused.
func (s *Server) CloseStatus() {
	_ = s.status.ln.Close()
	s.status.closeAll()
}

// SetChannelData replaces the payload of channel ch. The data port must have been declared in Options.
func (s *Server) SetChannelData(ch int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch] = data
}

// TruncateChannel makes channel ch close after sending n bytes. n < 0 restores full transfers.
func (s *Server) TruncateChannel(ch int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		delete(s.truncate, ch)
		return
	}
	s.truncate[ch] = n
}

// DataConnections returns the number of data transfers served so far.
func (s *Server) DataConnections() int64 { return s.dataServed.Load() }

// Segments returns the segment lines loaded so far.
func (s *Server) Segments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.segments)
}

func (s *Server) dataHandler(ch int) func(net.Conn) {
	return func(conn net.Conn) {
		s.dataServed.Add(1)

		s.mu.Lock()
		data := s.channels[ch]
		if n, ok := s.truncate[ch]; ok && n < len(data) {
			data = data[:n]
		}
		s.mu.Unlock()

		_, _ = conn.Write(data)
	}
}

func (s *Server) serveSegmentWrite(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		s.mu.Lock()
		s.segments = append(s.segments, sc.Text())
		s.mu.Unlock()
	}
}

func (s *Server) serveSegmentRead(conn net.Conn) {
	for _, seg := range s.Segments() {
		_, _ = io.WriteString(conn, seg+"\n")
	}
}

// Site is one fake knob server.
type Site struct {
	index int

	mu      sync.Mutex
	values  map[string]string
	funcs   map[string]func() string
	lines   []string
	silent  bool
	mute    bool
	ackSets bool
	bytesIn atomic.Int64
	lists   atomic.Int64
}

func newSite(idx int, knobs map[string]string) *Site {
	values := make(map[string]string, len(knobs))
	for k, v := range knobs {
		values[k] = v
	}

	return &Site{index: idx, values: values, funcs: make(map[string]func() string)}
}

// SetKnob sets the value returned for name, adding the knob if needed.
func (s *Site) SetKnob(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// SetKnobFunc makes every read of name call f.
func (s *Site) SetKnobFunc(name string, f func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = ""
	s.funcs[name] = f
}

// Knob returns the current value of name.
func (s *Site) Knob(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.funcs[name]; ok {
		return f()
	}
	return s.values[name]
}

// SetSilent makes the site swallow knob reads without replying.
func (s *Site) SetSilent(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = v
}

// SetMute makes the site swallow every request, the knob list included.
func (s *Site) SetMute(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = v
}

// SetAckSets makes the site answer every set with an empty line.
func (s *Site) SetAckSets(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackSets = v
}

// Lines returns every request line received so far.
func (s *Site) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines)
}

// BytesIn returns the number of request bytes received so far.
func (s *Site) BytesIn() int64 { return s.bytesIn.Load() }

// ListCount returns how many times the knob list was requested.
func (s *Site) ListCount() int64 { return s.lists.Load() }

func (s *Site) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		s.bytesIn.Add(int64(len(line)))
		line = strings.TrimRight(line, "\r\n")

		reply, ok := s.handle(line)
		if !ok {
			continue
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (s *Site) handle(line string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = append(s.lines, line)
	if s.mute {
		return "", false
	}

	if line == ListCommand {
		s.lists.Add(1)
		names := make([]string, 0, len(s.values))
		for name := range s.values {
			names = append(names, name)
		}
		slices.Sort(names)

		return strings.Join(names, "\n") + "\n\n", true
	}

	name, value, isSet := strings.Cut(line, " ")
	if isSet {
		s.values[name] = value
		delete(s.funcs, name)

		return "\n", s.ackSets
	}
	if s.silent {
		return "", false
	}

	v, ok := s.values[name]
	if !ok {
		return fmt.Sprintf("ERROR: %s not found\n", name), true
	}
	if f, ok := s.funcs[name]; ok {
		v = f()
	}

	return name + " " + v + "\n", true
}

type statusServer struct {
	ln       net.Listener
	interval time.Duration
	mu       sync.Mutex
	last     string
	conns    map[net.Conn]chan string
}

func newStatusServer(ln net.Listener, initial string, interval time.Duration) *statusServer {
	return &statusServer{ln: ln, interval: interval, last: initial, conns: make(map[net.Conn]chan string)}
}

func (st *statusServer) serve(conn net.Conn) {
	ch := make(chan string, 64)

	st.mu.Lock()
	st.conns[conn] = ch
	if st.last != "" {
		ch <- st.last
	}
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		delete(st.conns, conn)
		st.mu.Unlock()
	}()

	var tick <-chan time.Time
	if st.interval > 0 {
		ticker := time.NewTicker(st.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		var line string
		select {
		case l, ok := <-ch:
			if !ok {
				return
			}
			line = l
		case <-tick:
			if len(ch) > 0 {
				continue
			}
			st.mu.Lock()
			line = st.last
			st.mu.Unlock()
			if line == "" {
				continue
			}
		}

		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			return
		}
	}
}

func (st *statusServer) push(line string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.last = line
	for _, ch := range st.conns {
		select {
		case ch <- line:
		default:
		}
	}
}

func (st *statusServer) clients() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.conns)
}

func (st *statusServer) closeAll() {
	st.mu.Lock()
	defer st.mu.Unlock()

	for conn, ch := range st.conns {
		_ = conn.Close()
		close(ch)
	}
	clear(st.conns)
}
