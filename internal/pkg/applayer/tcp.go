package applayer

import (
	"fmt"

	"github.com/sentrywire/sentrywire/internal/pkg/logger"
)

// HandleTCPData is the TCP entry point. The caller must already
// hold flow's write lock; session and stream are reached exclusively
// through it. flags carries the direction plus any of Start/Gap for
// this chunk.
//
// Returns nil on success, non-nil on failure. Failure is never fatal to
// the process. A drain failure, a wrong-direction failure and an
// inherited-protocol direction failure mark the flow no-inspection and
// short-circuit every later call on this flow; ErrSoftRollback and
// errors returned by the parser leave the flow inspectable.
func (d *Dispatcher) HandleTCPData(pkt *Packet, flow *Flow, ssn *TcpSession, data []byte, flags Flags) error {
	timer := d.profiler.StartDetect(L4TCP)
	defer timer.Stop()

	dir := flags.Direction()
	otherDir := dir.Opposite()
	stream := ssn.StreamFor(dir)
	otherStream := ssn.Opposing(stream)

	dirAlproto, otherAlproto := d.alprotoSlots(flow, dir)

	// 1. Inspection disabled.
	if flow.NoAppLayerInspection() {
		return nil
	}

	// 2. Gap at stream start on unknown protocol.
	if *dirAlproto == ProtoUnknown && flags.Has(Gap) {
		stream.SetDetectionCompleted()
		stream.NoReassembly = true
		return nil
	}

	// 3. First bytes of a stream on unknown protocol.
	if *dirAlproto == ProtoUnknown && flags.Has(Start) {
		return d.handleFirstBytes(pkt, flow, ssn, stream, otherStream, dir, otherDir, dirAlproto, otherAlproto, data, flags)
	}

	// 4. Bytes after commit.
	if flow.Alproto == ProtoUnknown {
		logger.Debug("applayer: dropping bytes, flow has no committed protocol", "dir", dir.String())
		return nil
	}
	return d.parser.Parse(d.tctx.Parser, flow, flow.Alproto, flags, data)
}

// alprotoSlots returns pointers to the tentative-protocol fields for
// dir and its opposite.
func (d *Dispatcher) alprotoSlots(flow *Flow, dir Direction) (dirAlproto, otherAlproto *ProtoID) {
	if dir == DirToServer {
		return &flow.AlprotoTS, &flow.AlprotoTC
	}
	return &flow.AlprotoTC, &flow.AlprotoTS
}

func (d *Dispatcher) handleFirstBytes(
	pkt *Packet,
	flow *Flow,
	ssn *TcpSession,
	stream, otherStream *HalfStream,
	dir, otherDir Direction,
	dirAlproto, otherAlproto *ProtoID,
	data []byte,
	flags Flags,
) error {
	n := len(data)
	already := uint32(0)
	if n != 0 {
		already = flow.DataAlSoFar[dirIndex(dir)]
	}

	detected := d.detector.Detect(d.tctx.Detector, flow, data, L4TCP, flags)
	*dirAlproto = detected

	if detected != ProtoUnknown {
		return d.commitDetected(pkt, flow, ssn, stream, otherStream, dir, otherDir, dirAlproto, otherAlproto, data, flags, already)
	}
	return d.handleDetectionFailed(flow, ssn, stream, otherStream, dir, otherDir, otherAlproto, data, flags, already)
}

// commitDetected runs the conflict-reconciliation, commit,
// force-drain and directionality-policy steps for the case where
// detection succeeded on this direction.
func (d *Dispatcher) commitDetected(
	pkt *Packet,
	flow *Flow,
	ssn *TcpSession,
	stream, otherStream *HalfStream,
	dir, otherDir Direction,
	dirAlproto, otherAlproto *ProtoID,
	data []byte,
	flags Flags,
	already uint32,
) error {
	// a. Conflict reconciliation.
	if *otherAlproto != ProtoUnknown && *otherAlproto != *dirAlproto {
		flow.Events.RaiseEvent(EventMismatchProtocolBothDirections)
		switch {
		case ssn.DataFirstSeenDir.IsCommitted():
			flow.Alproto = *otherAlproto
			*dirAlproto = *otherAlproto
		case dir == DirToClient:
			*otherAlproto = *dirAlproto
		default: // dir == DirToServer
			*dirAlproto = *otherAlproto
		}
	}

	// b. Commit.
	flow.Alproto = *dirAlproto
	stream.SetDetectionCompleted()

	// c. Force-drain of opposing direction.
	firstSeen, hasOne := ssn.DataFirstSeenDir.OneDirection()
	if hasOne && firstSeen == otherDir {
		if err := withOpposingDirection(pkt, otherDir, func() error {
			return d.reassembler.ReassembleAppLayer(pkt, ssn, otherStream)
		}); err != nil {
			flow.SetNoAppLayerInspection()
			stream.SetDetectionCompleted()
			otherStream.SetDetectionCompleted()
			return fmt.Errorf("%w: %v", ErrDrainFailed, err)
		}
	}

	// d. Directionality policy / e. rollback for deferred detection.
	// Both checks only apply while first-seen tracking is still live;
	// once committed (seenCommitted), this call has already cleared them.
	if !ssn.DataFirstSeenDir.IsCommitted() {
		firstDataDir := d.parser.FirstDataDir(flow.Proto, flow.Alproto)
		firstSeenFlags := ssn.DataFirstSeenDir.AsFlags()

		if firstDataDir != 0 && firstDataDir&firstSeenFlags == 0 {
			// d. The direction the parser demands to see first was
			// never the direction this session actually saw data from
			// first: a genuine directionality violation.
			flow.Events.RaiseEvent(EventWrongDirectionFirstData)
			flow.SetNoAppLayerInspection()
			stream.SetDetectionCompleted()
			otherStream.SetDetectionCompleted()
			ssn.DataFirstSeenDir.Commit()
			return errWrongDirectionFirstData
		}

		if firstDataDir != 0 && firstDataDir&Flags(dir) == 0 {
			// e. The demanded direction was first-seen, but this call
			// isn't for that direction, and its bytes haven't reached
			// the app layer yet (the force-drain above didn't commit
			// first-seen tracking). The decision on this side was
			// premature: soft rollback so the caller re-presents these
			// bytes once the demanded direction's data has landed.
			if *otherAlproto != ProtoUnknown {
				logger.Error("applayer: soft rollback invariant violated, other direction already has a protocol", "dir", dir.String(), "otherAlproto", *otherAlproto)
			}
			flow.CleanupAppLayer()
			flow.Alproto = ProtoUnknown
			*dirAlproto = ProtoUnknown
			stream.ResetDetectionCompleted()
			flow.ResetPMDone(Flags(dir))
			flow.ResetPPDone(Flags(dir))
			return errSoftRollback
		}
	}

	// f. Commit and feed the parser.
	ssn.DataFirstSeenDir.Commit()
	timer := d.profiler.StartParse(flow.Alproto)
	defer timer.Stop()
	err := d.parser.Parse(d.tctx.Parser, flow, flow.Alproto, flags, sliceFrom(data, already))
	flow.DataAlSoFar[dirIndex(dir)] = 0
	return err
}

// handleDetectionFailed runs the "detection failed on this direction"
// branch: feed the other direction's already-detected parser if there
// is one, otherwise give up once both directions have exhausted every
// detection chance.
func (d *Dispatcher) handleDetectionFailed(
	flow *Flow,
	ssn *TcpSession,
	stream, otherStream *HalfStream,
	dir, otherDir Direction,
	otherAlproto *ProtoID,
	data []byte,
	flags Flags,
	already uint32,
) error {
	if *otherAlproto != ProtoUnknown {
		firstDataDir := d.parser.FirstDataDir(flow.Proto, *otherAlproto)
		if !ssn.DataFirstSeenDir.IsCommitted() && firstDataDir != 0 && firstDataDir&Flags(dir) == 0 {
			flow.SetNoAppLayerInspection()
			stream.SetDetectionCompleted()
			otherStream.SetDetectionCompleted()
			return errNoInspection
		}

		if len(data) != 0 {
			timer := d.profiler.StartParse(*otherAlproto)
			err := d.parser.Parse(d.tctx.Parser, flow, *otherAlproto, flags, sliceFrom(data, already))
			timer.Stop()
			if err != nil {
				return err
			}
		}

		if flow.IsPMDone(dir) && flow.IsPPDone(dir) {
			flow.Events.RaiseEvent(EventDetectProtocolOnlyOneDirection)
			stream.SetDetectionCompleted()
			flow.DataAlSoFar[dirIndex(dir)] = 0
		} else {
			flow.DataAlSoFar[dirIndex(dir)] = uint32(len(data))
		}
		return nil
	}

	if flow.IsPMDone(dir) && flow.IsPPDone(dir) && flow.IsPMDone(otherDir) && flow.IsPPDone(otherDir) {
		flow.SetNoAppLayerInspection()
		stream.SetDetectionCompleted()
		otherStream.SetDetectionCompleted()
		ssn.DataFirstSeenDir.Commit()
	}
	return nil
}

func sliceFrom(data []byte, already uint32) []byte {
	if int(already) >= len(data) {
		return nil
	}
	return data[already:]
}
