package capture

import "github.com/sentrywire/sentrywire/internal/pkg/applayer"

// NoopReassembler is the applayer.Reassembler collaborator this
// pipeline wires in. The force-drain operation it backs needs
// to re-read bytes the reassembly engine already delivered for the
// opposing half-stream before the current chunk arrived; tcpassembly's
// push-only Reassembled callback has no such read-back API, and
// retrofitting one (a per-half-stream ring buffer mirroring
// tcpassembly's own page pool) is out of scope here — see DESIGN.md.
// In practice the force-drain path is only reachable in the narrow
// window between a direction's first bytes arriving and protocol
// detection completing on the other side, so a no-op leaves detection
// correctness intact; it only means those few parked bytes are never
// replayed into the newly-committed parser.
type NoopReassembler struct{}

// ReassembleAppLayer implements applayer.Reassembler.
func (NoopReassembler) ReassembleAppLayer(*applayer.Packet, *applayer.TcpSession, *applayer.HalfStream) error {
	return nil
}

// ReassembleInlineAppLayer implements applayer.Reassembler.
func (NoopReassembler) ReassembleInlineAppLayer(*applayer.Packet, *applayer.TcpSession, *applayer.HalfStream) error {
	return nil
}
