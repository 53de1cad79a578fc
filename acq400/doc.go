// Package acq400 provides the UUT, the client handle of one ACQ400-class appliance.
//
// New attaches the chassis controller (site 0) and every populated site, runs knob
// discovery on each of them and starts the status monitor:
//
//	uut, err := acq400.New(ctx, "acq2106_001")
//	if err != nil {
//	    // errors.Is(err, acq.ErrConnection) when the chassis is unreachable
//	}
//	defer uut.Close()
//
//	for _, e := range uut.AttachErrors() {
//	    log.Printf("site %d not attached: %v", e.Site, e.Err)
//	}
//
//	reply, err := uut.Get(ctx, "s1.SIG_CLK_MB_FREQ") // "SIG:CLK_MB:FREQ 50012464"
//	err = uut.Set(ctx, "set_arm", "1")               // chassis knob
//
//	if err := uut.Monitor().WaitStopped(ctx); err == nil {
//	    chans, err := uut.ReadChannels(ctx) // 1..NCHAN
//	}
//
// RegisterMetrics exposes the transport, monitor and channel counters to prometheus.
package acq400
