// Package applayer implements the application-layer protocol dispatch
// core: given reassembled TCP byte streams or raw UDP datagrams for a
// tracked flow, it decides when to run protocol detection, when to hand
// bytes to a parser, and when to give up on a flow entirely.
//
// The detector, the individual L7 parsers, the TCP reassembly engine
// and the flow table are all external collaborators, consumed here only
// through the Detector, Parser and Reassembler interfaces.
package applayer

// ProtoID is a compact integer identifying an application-layer
// protocol. The zero value, ProtoUnknown, is the sentinel for
// "not yet detected".
type ProtoID uint16

// ProtoUnknown is the sentinel "no protocol identified" value.
const ProtoUnknown ProtoID = 0

// L4Proto identifies the transport carrying application data.
type L4Proto uint8

const (
	L4TCP L4Proto = iota
	L4UDP
)

func (p L4Proto) String() string {
	if p == L4UDP {
		return "UDP"
	}
	return "TCP"
}

// Direction identifies one half of a bidirectional flow.
type Direction uint8

const (
	DirToServer Direction = 1 << iota
	DirToClient
)

func (d Direction) String() string {
	switch d {
	case DirToServer:
		return "toserver"
	case DirToClient:
		return "toclient"
	default:
		return "none"
	}
}

// Flags carries the direction plus stream-start/gap markers the
// reassembler attaches to a chunk of data, mirroring the flag bits a
// caller passes into HandleTCPData.
type Flags uint8

const (
	ToServer Flags = Flags(1 << iota) // == Flags(DirToServer)
	ToClient                          // == Flags(DirToClient)
	Start
	Gap
)

// Direction extracts the direction bits from a Flags value.
func (f Flags) Direction() Direction { return Direction(f & (ToServer | ToClient)) }

// Has reports whether all bits of mask are set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Opposite returns the other direction — used when the dispatcher has
// to address the opposing half-stream.
func (d Direction) Opposite() Direction {
	if d == DirToServer {
		return DirToClient
	}
	return DirToServer
}

// dirIndex maps a direction to the index used by Flow.DataAlSoFar.
func dirIndex(d Direction) int {
	if d == DirToServer {
		return 0
	}
	return 1
}

// dataFirstSeenKind is the tag of the DataFirstSeenDir variant.
type dataFirstSeenKind uint8

const (
	seenNone dataFirstSeenKind = iota
	seenOne
	seenBoth
	// seenCommitted corresponds to the source's sentinel value
	// "any value outside {TOSERVER, TOCLIENT, BOTH}" — it means
	// detection has already committed bytes to a parser, and is not
	// itself a direction.
	seenCommitted
)

// DataFirstSeenDir records which half-stream produced payload bytes
// first, transitioning monotonically through
// None -> One(dir) -> Both -> Committed and never backwards.
//
// This is a tagged variant rather than an overloaded bitfield per the
// direction bit flipping design note: Committed is a state, not a
// direction, and conflating the two in a single bitfield is exactly
// what made the original source's sentinel handling easy to misread.
type DataFirstSeenDir struct {
	kind dataFirstSeenKind
	dir  Direction
}

// Observe records that bytes arrived in dir. Called by the reassembler
// (out of scope for this package) as segments arrive; this dispatch
// core only reads and commits the result.
func (d *DataFirstSeenDir) Observe(dir Direction) {
	switch d.kind {
	case seenNone:
		d.kind = seenOne
		d.dir = dir
	case seenOne:
		if d.dir != dir {
			d.kind = seenBoth
		}
	default:
		// Both and Committed are terminal with respect to Observe.
	}
}

// Commit transitions to the terminal "already sent to app layer" state.
func (d *DataFirstSeenDir) Commit() { d.kind = seenCommitted }

// IsCommitted reports whether bytes have already been forwarded to a
// parser for this session (the ALREADY_SENT_TO_APP_LAYER sentinel).
func (d DataFirstSeenDir) IsCommitted() bool { return d.kind == seenCommitted }

// OneDirection returns the single direction first-seen, if exactly one
// direction has produced bytes so far.
func (d DataFirstSeenDir) OneDirection() (Direction, bool) {
	if d.kind == seenOne {
		return d.dir, true
	}
	return 0, false
}

// AsFlags renders the variant as a direction bitmask: empty for None,
// one bit for One, both bits for Both, and empty for Committed
// (Committed has no directional meaning, so it reports both bits clear
// — callers that care about Committed must check IsCommitted first).
func (d DataFirstSeenDir) AsFlags() Flags {
	switch d.kind {
	case seenOne:
		return Flags(d.dir)
	case seenBoth:
		return ToServer | ToClient
	default:
		return 0
	}
}
