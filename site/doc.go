// Package site implements the knob protocol of one appliance site.
//
// A Conn wraps one netclient.Transport bound to a site command port. The knob
// namespace is discovered from the server with the listing command, cached for
// the lifetime of the Conn and replaced only by an explicit Discover.
//
// Knob names use colons between hierarchical parts (SIG:CLK_MB:FREQ). Every
// discovered knob is also reachable by its identifier, the same name with the
// colons replaced by underscores (SIG_CLK_MB_FREQ):
//
//	conn := site.New(1, tr)
//	reply, err := conn.Get(ctx, "SIG:CLK_MB:FREQ") // "SIG:CLK_MB:FREQ 50012464"
//	reply, err = conn.GetAttr(ctx, "SIG_CLK_MB_FREQ") // same request
//	err = conn.Set(ctx, "set_arm", "1")               // no reply is awaited
//
//	names, err := conn.Help(ctx, "SIG:.*")
//	for name := range names {
//	    fmt.Println(name)
//	}
//
// Requests on one Conn are serialized: the protocol has no request identifiers,
// so at most one request/response pair is in flight per transport.
package site
