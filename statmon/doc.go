// Package statmon implements the status monitor of an appliance.
//
// The chassis streams one status line per update on its status port:
//
//	state pre post elapsed shot [demux ...]
//
// A Monitor reads that stream in a single background task and publishes every
// parsed line as an immutable acq.StatusSnapshot through an atomic pointer, so
// readers never block and never see fields from two different lines.
//
// Malformed lines are logged and skipped. Transport failures are retried with
// exponential backoff; after the configured number of consecutive failures the
// monitor faults, publishes a copy of the last snapshot flagged Stale and stops.
//
//	mon := statmon.New(tr, statmon.WithFaultThreshold(5))
//	if err := mon.Start(ctx); err != nil {
//	    // ...
//	}
//	defer mon.Stop()
//
//	if err := mon.WaitStopped(ctx); err == nil {
//	    snap := mon.Snapshot()
//	    fmt.Println(snap.Shot, snap.Samples())
//	}
package statmon
