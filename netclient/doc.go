// Package netclient provides the Transport used by every go-acq400 component: a single TCP
// stream to one (host, port) pair with blocking line and byte primitives.
//
// Usage:
//
//	cfg, err := netclient.NewConfig("acq2106_001", acq.SiteBasePort+1,
//	    netclient.WithReadTimeout(2*time.Second),
//	)
//	// ... handle error ...
//	tr := netclient.NewTransport(cfg)
//	if err := tr.Connect(ctx); err != nil {
//	    // errors.Is(err, acq.ErrConnection)
//	}
//	defer tr.Close()
//
//	_ = tr.SendLine("MODEL")
//	line, err := tr.RecvLine(0)
//
// Errors follow the acq taxonomy: dial failures wrap acq.ErrConnection, an expired receive
// deadline wraps acq.ErrTimeout, and a remote close or reset wraps acq.ErrTransport. The last two
// leave the transport Faulted until it is reconnected.
package netclient
