package applayer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
)

const protoHTTP applayer.ProtoID = 5
const protoOther applayer.ProtoID = 7

func TestHandleTCPData_NoInspectionShortCircuits(t *testing.T) {
	det := &fakeDetector{}
	parser := &fakeParser{}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	flow.SetNoAppLayerInspection()
	ssn := &applayer.TcpSession{}

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("anything"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.NoError(t, err)
	assert.Zero(t, det.calls, "detection must not run once a flow has given up")
	assert.Empty(t, parser.parseCalls)
}

func TestHandleTCPData_GapAtStreamStartStopsReassembly(t *testing.T) {
	det := &fakeDetector{}
	parser := &fakeParser{}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	ssn := &applayer.TcpSession{}

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, nil, applayer.Flags(applayer.DirToServer)|applayer.Gap)

	require.NoError(t, err)
	assert.Zero(t, det.calls)
	assert.True(t, ssn.Client.DetectionCompleted)
	assert.True(t, ssn.Client.NoReassembly)
}

func TestHandleTCPData_FirstBytesDetectedCommitsAndParses(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoHTTP }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	ssn := &applayer.TcpSession{}
	data := []byte("GET / HTTP/1.1\r\n")

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, data, applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.NoError(t, err)
	assert.Equal(t, protoHTTP, flow.Alproto)
	assert.True(t, ssn.Client.DetectionCompleted)
	require.Len(t, parser.parseCalls, 1)
	assert.Equal(t, protoHTTP, parser.parseCalls[0].alproto)
	assert.Equal(t, data, parser.parseCalls[0].data)
	assert.True(t, ssn.DataFirstSeenDir.IsCommitted())
}

func TestHandleTCPData_BytesAfterCommitGoStraightToParser(t *testing.T) {
	det := &fakeDetector{}
	parser := &fakeParser{}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	flow.Alproto = protoHTTP
	flow.AlprotoTS = protoHTTP
	ssn := &applayer.TcpSession{}

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("more bytes"), applayer.Flags(applayer.DirToServer))

	require.NoError(t, err)
	assert.Zero(t, det.calls, "a committed flow never re-runs detection")
	require.Len(t, parser.parseCalls, 1)
}

func TestHandleTCPData_UncommittedFlowDropsBytesSilently(t *testing.T) {
	det := &fakeDetector{}
	parser := &fakeParser{}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	flow.AlprotoTS = protoHTTP // tentative, but flow.Alproto never committed
	ssn := &applayer.TcpSession{}

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("more bytes"), applayer.Flags(applayer.DirToServer))

	require.NoError(t, err)
	assert.Empty(t, parser.parseCalls)
}

func TestHandleTCPData_ConflictReconciliationPrefersServerDirectionWinner(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoHTTP }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	sink := &fakeEventSink{}
	flow := applayer.NewFlow(applayer.L4TCP, sink)
	flow.AlprotoTC = protoOther // the other (toclient) direction already tentatively detected something else
	ssn := &applayer.TcpSession{}

	// dir == DirToServer, so the preserved asymmetric policy makes the
	// already-detected other-direction protocol win.
	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("irrelevant"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.NoError(t, err)
	assert.True(t, sink.has(applayer.EventMismatchProtocolBothDirections))
	assert.Equal(t, protoOther, flow.Alproto)
	assert.Equal(t, protoOther, flow.AlprotoTS)
}

func TestHandleTCPData_ConflictReconciliationClientDirectionDefersToServer(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoOther }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	sink := &fakeEventSink{}
	flow := applayer.NewFlow(applayer.L4TCP, sink)
	flow.AlprotoTS = protoHTTP // the toserver direction already tentatively detected something else
	ssn := &applayer.TcpSession{}

	// dir == DirToClient: the current (toclient) detection wins and
	// overwrites the other side's tentative value.
	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToClient), flow, ssn, []byte("irrelevant"), applayer.Flags(applayer.DirToClient)|applayer.Start)

	require.NoError(t, err)
	assert.True(t, sink.has(applayer.EventMismatchProtocolBothDirections))
	assert.Equal(t, protoOther, flow.Alproto)
	assert.Equal(t, protoOther, flow.AlprotoTS, "the client-side (toserver) tentative slot is overwritten by the server-side (toclient) winner")
}

func TestHandleTCPData_ForceDrainsOpposingDirectionOnCommit(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoHTTP }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{}}
	reasm := &fakeReassembler{}
	d := newDispatcher(t, det, parser, reasm)

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	ssn := &applayer.TcpSession{}
	ssn.DataFirstSeenDir.Observe(applayer.DirToClient) // the other side produced bytes first

	pkt := applayer.NewPacket(applayer.DirToServer)
	err := d.HandleTCPData(pkt, flow, ssn, []byte("data"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.NoError(t, err)
	assert.True(t, reasm.wasCalled)
	assert.Equal(t, applayer.DirToClient, reasm.seenDir, "the reassembler must see the opposing direction while draining")
	assert.Equal(t, applayer.DirToServer, pkt.Direction(), "the packet's direction must be restored once the drain returns")
}

func TestHandleTCPData_ForceDrainFailureMarksNoInspection(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoHTTP }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{}}
	reasm := &fakeReassembler{err: errors.New("drain boom")}
	d := newDispatcher(t, det, parser, reasm)

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	ssn := &applayer.TcpSession{}
	ssn.DataFirstSeenDir.Observe(applayer.DirToClient)

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("data"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, applayer.ErrDrainFailed))
	assert.True(t, flow.NoAppLayerInspection())
	assert.True(t, ssn.Client.DetectionCompleted)
	assert.True(t, ssn.Server.DetectionCompleted)
}

func TestHandleTCPData_WrongDirectionFirstDataWhenDemandedDirectionNeverSeenFirst(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoHTTP }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{protoHTTP: applayer.DirToClient}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	sink := &fakeEventSink{}
	flow := applayer.NewFlow(applayer.L4TCP, sink)
	ssn := &applayer.TcpSession{}
	ssn.DataFirstSeenDir.Observe(applayer.DirToServer) // same as the current call's direction: TOCLIENT was never first-seen

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("data"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, applayer.ErrWrongDirectionFirstData))
	assert.True(t, sink.has(applayer.EventWrongDirectionFirstData))
	assert.True(t, flow.NoAppLayerInspection())
	assert.True(t, ssn.DataFirstSeenDir.IsCommitted())
}

func TestHandleTCPData_SoftRollbackWhenFirstSeenDirectionHasntReachedAppLayerYet(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoHTTP }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{protoHTTP: applayer.DirToClient}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	ssn := &applayer.TcpSession{}
	ssn.DataFirstSeenDir.Observe(applayer.DirToClient) // the demanded direction was first-seen...

	// ...but this call is for DirToServer, so the parser's demanded
	// direction hasn't actually been delivered to the app layer yet.
	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("data"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, applayer.ErrSoftRollback))
	assert.Equal(t, applayer.ProtoUnknown, flow.Alproto)
	assert.Equal(t, applayer.ProtoUnknown, flow.AlprotoTS)
	assert.False(t, ssn.Client.DetectionCompleted, "rollback must undo the premature commit")
	assert.False(t, ssn.DataFirstSeenDir.IsCommitted(), "rollback must not latch first-seen tracking")
}

func TestHandleTCPData_WrongDirectionFirstDataIsFatalOnceOtherSideKnows(t *testing.T) {
	det := &fakeDetector{fn: func([]byte, applayer.L4Proto, applayer.Flags) applayer.ProtoID { return protoHTTP }}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{protoHTTP: applayer.DirToClient}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	sink := &fakeEventSink{}
	flow := applayer.NewFlow(applayer.L4TCP, sink)
	flow.AlprotoTC = protoHTTP // the other direction already agrees on the protocol
	ssn := &applayer.TcpSession{}
	ssn.DataFirstSeenDir.Observe(applayer.DirToServer)

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("data"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, applayer.ErrWrongDirectionFirstData))
	assert.True(t, sink.has(applayer.EventWrongDirectionFirstData))
	assert.True(t, flow.NoAppLayerInspection())
	assert.True(t, ssn.DataFirstSeenDir.IsCommitted())
}

func TestHandleTCPData_DetectionFailedInheritsOtherDirectionProtocol(t *testing.T) {
	det := &fakeDetector{} // fails to detect (ProtoUnknown) on this direction
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{protoOther: applayer.DirToServer}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	flow.AlprotoTC = protoOther // the toclient direction already committed a protocol
	ssn := &applayer.TcpSession{}
	data := []byte("trailing bytes")

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, data, applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.NoError(t, err)
	require.Len(t, parser.parseCalls, 1)
	assert.Equal(t, protoOther, parser.parseCalls[0].alproto)
	assert.Equal(t, data, parser.parseCalls[0].data)
	assert.False(t, ssn.Client.DetectionCompleted, "not done yet: the latches for this direction are not both exhausted")
}

func TestHandleTCPData_DetectionFailedNoInspectionWhenParserWantsOtherDirection(t *testing.T) {
	det := &fakeDetector{}
	parser := &fakeParser{firstDataDir: map[applayer.ProtoID]applayer.Direction{protoOther: applayer.DirToClient}}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	flow.AlprotoTC = protoOther
	ssn := &applayer.TcpSession{}

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("data"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, applayer.ErrNoInspection))
	assert.True(t, flow.NoAppLayerInspection())
	assert.Empty(t, parser.parseCalls)
}

func TestHandleTCPData_GivesUpOnceBothDirectionsExhaustEveryLatch(t *testing.T) {
	det := &fakeDetector{}
	parser := &fakeParser{}
	d := newDispatcher(t, det, parser, &fakeReassembler{})

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	flow.SetPMDone(applayer.DirToServer)
	flow.SetPPDone(applayer.DirToServer)
	flow.SetPMDone(applayer.DirToClient)
	flow.SetPPDone(applayer.DirToClient)
	ssn := &applayer.TcpSession{}

	err := d.HandleTCPData(applayer.NewPacket(applayer.DirToServer), flow, ssn, []byte("data"), applayer.Flags(applayer.DirToServer)|applayer.Start)

	require.NoError(t, err)
	assert.True(t, flow.NoAppLayerInspection())
	assert.True(t, ssn.Client.DetectionCompleted)
	assert.True(t, ssn.Server.DetectionCompleted)
	assert.True(t, ssn.DataFirstSeenDir.IsCommitted())
}
