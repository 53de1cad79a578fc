// Package acq holds the types shared by the go-acq400 connection packages.
//
// It defines:
//   - The error taxonomy: ErrConnection, ErrTimeout, ErrTransport, ErrUnknownKnob and ErrProtocol.
//     Callers test for them with errors.Is; KnobError and ProtocolError carry details.
//   - Transport and status monitor state enums.
//   - The knob name mapping between canonical protocol names (SIG:CLK_MB:FREQ) and
//     derived identifiers (SIG_CLK_MB_FREQ).
//   - The status line layout and StatusSnapshot record.
//   - Well known server ports of the appliance.
//   - TaskManager, which owns the lifecycle of background goroutines.
//
// The packages built on top of it are:
//   - netclient: one TCP stream to one (host, port), line and byte primitives.
//   - site: the knob protocol of one site command server.
//   - statmon: the background status monitor.
//   - datachan: bulk data retrieval of one channel.
//   - acq400: the UUT handle aggregating all of the above.
package acq
