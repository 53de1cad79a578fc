// Package datachan retrieves captured samples from the bulk data ports of an appliance.
//
// Channel N is served on its own port (acq.DataBasePort+N). A transfer connects,
// reads one payload and disconnects. The shape of the payload is isolated behind
// the Framing interface:
//
//	FixedSize(n)            exactly n bytes, the appliance default
//	LengthPrefixed(order)   a uint32 length header, then the payload
//	UntilClose(limit)       everything until the remote closes
//
// Example:
//
//	cfg, _ := netclient.NewConfig(host, acq.DataBasePort+1)
//	ch := datachan.New(cfg)
//	raw, err := ch.Read(ctx, datachan.FixedSize(samples*2))
//	if err != nil {
//	    // errors.Is(err, acq.ErrTransport) on a short transfer
//	}
//	values, err := datachan.DecodeInt16(raw)
package datachan
