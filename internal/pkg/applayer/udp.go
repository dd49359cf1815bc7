package applayer

// HandleUDPData is the UDP entry point. Unlike HandleTCPData it
// locks the flow itself: UDP has no session/half-stream structure to
// serialize through, so the flow lock is acquired and released around
// the whole call.
//
// Detection is attempted at most once per UDP flow: once
// AlprotoDetectDone latches, win or lose, every later datagram skips
// straight to the parse-or-drop branch.
func (d *Dispatcher) HandleUDPData(pkt *Packet, flow *Flow, data []byte, flags Flags) error {
	flow.Lock()
	defer flow.Unlock()

	timer := d.profiler.StartDetect(L4UDP)
	defer timer.Stop()

	if flow.Alproto == ProtoUnknown && !flow.AlprotoDetectDone() {
		detected := d.detector.Detect(d.tctx.Detector, flow, data, L4UDP, flags)
		flow.SetAlprotoDetectDone()
		if detected == ProtoUnknown {
			return nil
		}
		flow.Alproto = detected
		return d.parser.Parse(d.tctx.Parser, flow, flow.Alproto, flags, data)
	}

	if flow.Alproto != ProtoUnknown {
		return d.parser.Parse(d.tctx.Parser, flow, flow.Alproto, flags, data)
	}
	return nil
}
