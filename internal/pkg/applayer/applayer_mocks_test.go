package applayer_test

import (
	"testing"

	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fakeDetector lets each test script the protocol Detect should return
// for a given call without needing a real signature table.
type fakeDetector struct {
	fn    func(data []byte, l4 applayer.L4Proto, flags applayer.Flags) applayer.ProtoID
	calls int
}

func (f *fakeDetector) NewThreadContext() (applayer.DetectorThreadContext, error) {
	return nopCloser{}, nil
}

func (f *fakeDetector) Detect(_ applayer.DetectorThreadContext, _ *applayer.Flow, data []byte, l4 applayer.L4Proto, flags applayer.Flags) applayer.ProtoID {
	f.calls++
	if f.fn == nil {
		return applayer.ProtoUnknown
	}
	return f.fn(data, l4, flags)
}

type parseCall struct {
	alproto applayer.ProtoID
	dir     applayer.Direction
	data    []byte
}

// fakeParser records every Parse call and lets tests set a static
// directionality policy per protocol id.
type fakeParser struct {
	firstDataDir map[applayer.ProtoID]applayer.Direction
	parseErr     error
	parseCalls   []parseCall
	names        map[applayer.ProtoID]string
}

func (f *fakeParser) NewThreadContext() (applayer.ParserThreadContext, error) {
	return nopCloser{}, nil
}

func (f *fakeParser) Parse(_ applayer.ParserThreadContext, _ *applayer.Flow, alproto applayer.ProtoID, flags applayer.Flags, data []byte) error {
	f.parseCalls = append(f.parseCalls, parseCall{alproto: alproto, dir: flags.Direction(), data: append([]byte(nil), data...)})
	return f.parseErr
}

func (f *fakeParser) FirstDataDir(_ applayer.L4Proto, alproto applayer.ProtoID) applayer.Direction {
	return f.firstDataDir[alproto]
}

func (f *fakeParser) ProtoByName(name string) applayer.ProtoID {
	for id, n := range f.names {
		if n == name {
			return id
		}
	}
	return applayer.ProtoUnknown
}

func (f *fakeParser) ProtoToString(id applayer.ProtoID) string {
	if n, ok := f.names[id]; ok {
		return n
	}
	return "unknown"
}

// fakeReassembler records the direction pkt carried at the moment
// ReassembleAppLayer ran, so tests can confirm withOpposingDirection
// actually flipped it.
type fakeReassembler struct {
	err        error
	calls      int
	seenDir    applayer.Direction
	wasCalled  bool
	inlineErr  error
	inlineHits int
}

func (r *fakeReassembler) ReassembleAppLayer(pkt *applayer.Packet, _ *applayer.TcpSession, _ *applayer.HalfStream) error {
	r.calls++
	r.wasCalled = true
	r.seenDir = pkt.Direction()
	return r.err
}

func (r *fakeReassembler) ReassembleInlineAppLayer(*applayer.Packet, *applayer.TcpSession, *applayer.HalfStream) error {
	r.inlineHits++
	return r.inlineErr
}

// fakeEventSink records every event kind raised against a flow.
type fakeEventSink struct {
	events []applayer.EventKind
}

func (s *fakeEventSink) RaiseEvent(kind applayer.EventKind) {
	s.events = append(s.events, kind)
}

func (s *fakeEventSink) has(kind applayer.EventKind) bool {
	for _, k := range s.events {
		if k == kind {
			return true
		}
	}
	return false
}

func newDispatcher(t *testing.T, det applayer.Detector, parser applayer.Parser, reasm applayer.Reassembler) *applayer.Dispatcher {
	t.Helper()
	d, err := applayer.NewDispatcher(det, parser, reasm, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}
