package applayer

import "sync"

// FlowFlag is a bitset of per-flow latches and sticky markers.
type FlowFlag uint16

const (
	// FlowNoAppLayerInspection is the give-up sticky bit: once set, all
	// further payload bytes for the flow bypass detection and parsing.
	FlowNoAppLayerInspection FlowFlag = 1 << iota
	// FlowAlprotoDetectDone is the UDP-only latch: detection has
	// already been attempted once for this flow, win or lose.
	FlowAlprotoDetectDone
	// Per-direction pattern-match/probe-parser exhaustion latches.
	FlowToServerPMDone
	FlowToServerPPDone
	FlowToClientPMDone
	FlowToClientPPDone
)

// Flow is the per-connection record this core reads and mutates.
// It is owned by the flow table in a full system; here it is a plain
// value passed in by the caller, which must hold Flow's lock across a
// TCP entry point call (UDP entry points lock it themselves via Lock).
type Flow struct {
	mu sync.Mutex

	Proto L4Proto

	// Alproto is the finalized L7 protocol once committed, else
	// ProtoUnknown.
	Alproto ProtoID

	// AlprotoTS / AlprotoTC are the per-direction tentative protocol
	// ids before commitment.
	AlprotoTS ProtoID
	AlprotoTC ProtoID

	flags FlowFlag

	// DataAlSoFar[0] is the to-server count, DataAlSoFar[1] the
	// to-client count: bytes already buffered for the parser but not
	// yet committed, parked while detection is deferred within a chunk.
	DataAlSoFar [2]uint32

	// Events is the anomaly-event sink for this flow.
	Events EventSink
}

// NewFlow constructs a Flow for the given transport. A nil EventSink is
// replaced with a no-op sink.
func NewFlow(proto L4Proto, events EventSink) *Flow {
	if events == nil {
		events = NoopEventSink{}
	}
	return &Flow{Proto: proto, Events: events}
}

// Lock acquires the flow's write lock. TCP entry points assume the
// caller already holds it; UDP entry points call Lock/Unlock
// themselves.
func (f *Flow) Lock() { f.mu.Lock() }

// Unlock releases the flow's write lock.
func (f *Flow) Unlock() { f.mu.Unlock() }

// NoAppLayerInspection reports the give-up sticky bit.
func (f *Flow) NoAppLayerInspection() bool { return f.flags&FlowNoAppLayerInspection != 0 }

// SetNoAppLayerInspection sets the give-up sticky bit. Monotonic: there
// is no corresponding clear, short of the explicit flow reset path.
func (f *Flow) SetNoAppLayerInspection() { f.flags |= FlowNoAppLayerInspection }

// AlprotoDetectDone reports the UDP-only "detection already attempted"
// latch.
func (f *Flow) AlprotoDetectDone() bool { return f.flags&FlowAlprotoDetectDone != 0 }

// SetAlprotoDetectDone latches the UDP-only detection-attempted bit.
func (f *Flow) SetAlprotoDetectDone() { f.flags |= FlowAlprotoDetectDone }

func pmFlag(dir Direction) FlowFlag {
	if dir == DirToServer {
		return FlowToServerPMDone
	}
	return FlowToClientPMDone
}

func ppFlag(dir Direction) FlowFlag {
	if dir == DirToServer {
		return FlowToServerPPDone
	}
	return FlowToClientPPDone
}

// IsPMDone reports whether the pattern-matcher family has exhausted
// its chances for dir.
func (f *Flow) IsPMDone(dir Direction) bool { return f.flags&pmFlag(dir) != 0 }

// IsPPDone reports whether the probe-parser family has exhausted its
// chances for dir.
func (f *Flow) IsPPDone(dir Direction) bool { return f.flags&ppFlag(dir) != 0 }

// SetPMDone latches the pattern-matcher exhaustion bit for dir. Called
// by the detector (external to this core) as it exhausts signatures;
// exposed here for test fixtures that need to simulate that state.
func (f *Flow) SetPMDone(dir Direction) { f.flags |= pmFlag(dir) }

// SetPPDone latches the probe-parser exhaustion bit for dir.
func (f *Flow) SetPPDone(dir Direction) { f.flags |= ppFlag(dir) }

// ResetPMDone clears the pattern-matcher latch for every direction
// named in flags. Used only by the soft-rollback path.
func (f *Flow) ResetPMDone(flags Flags) {
	if flags.Has(ToServer) {
		f.flags &^= FlowToServerPMDone
	}
	if flags.Has(ToClient) {
		f.flags &^= FlowToClientPMDone
	}
}

// ResetPPDone clears the probe-parser latch for every direction named
// in flags.
func (f *Flow) ResetPPDone(flags Flags) {
	if flags.Has(ToServer) {
		f.flags &^= FlowToServerPPDone
	}
	if flags.Has(ToClient) {
		f.flags &^= FlowToClientPPDone
	}
}

// CleanupAppLayer releases any app-layer parser state attached to the
// flow. This core holds no parser state of its own; this is the hook
// the parser table (external collaborator) would use to free it on the
// soft-rollback path.
func (f *Flow) CleanupAppLayer() {}

// HalfStream is one direction of a TCP flow.
type HalfStream struct {
	// DetectionCompleted latches once this direction has finished
	// contributing to protocol detection (success, failure, or
	// give-up) — enforces "detect runs at most once per half-stream".
	DetectionCompleted bool

	// NoReassembly is set when a gap at stream start makes detection
	// impossible and the session is told to stop reassembling this
	// direction.
	NoReassembly bool
}

// SetDetectionCompleted latches DetectionCompleted.
func (s *HalfStream) SetDetectionCompleted() { s.DetectionCompleted = true }

// ResetDetectionCompleted clears DetectionCompleted — used only by the
// soft-rollback path in HandleTCPData.
func (s *HalfStream) ResetDetectionCompleted() { s.DetectionCompleted = false }

// TcpSession is the per-flow transport-layer session owning the two
// half-streams and the queues of reassembled stream messages awaiting
// detection-engine consumption.
type TcpSession struct {
	Client, Server HalfStream

	// DataFirstSeenDir records which half-stream produced payload
	// bytes first.
	DataFirstSeenDir DataFirstSeenDir

	// ToServerMsgs / ToClientMsgs are ordered queues of reassembled
	// stream messages. An owned, slice-backed queue is used here
	// instead of the original's intrusive doubly-linked StreamMsg
	// list: the pointer-chase design was incidental to the source's
	// manual memory management, not a property the dispatch logic
	// depends on.
	ToServerMsgs []*StreamMsg
	ToClientMsgs []*StreamMsg
}

// StreamFor returns the half-stream for dir.
func (s *TcpSession) StreamFor(dir Direction) *HalfStream {
	if dir == DirToServer {
		return &s.Client
	}
	return &s.Server
}

// Opposing returns the half-stream on the other side of stream.
func (s *TcpSession) Opposing(stream *HalfStream) *HalfStream {
	if stream == &s.Client {
		return &s.Server
	}
	return &s.Client
}

// DirectionOf reports which direction stream corresponds to.
func (s *TcpSession) DirectionOf(stream *HalfStream) Direction {
	if stream == &s.Client {
		return DirToServer
	}
	return DirToClient
}

// StreamMsg is a reassembled, contiguous byte run tagged with
// direction and a back-reference to its flow.
type StreamMsg struct {
	Flow *Flow
	Dir  Direction
	Data []byte
}
