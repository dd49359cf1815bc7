package detector

import (
	"context"

	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
	"github.com/sentrywire/sentrywire/internal/pkg/detector/signatures"
)

// applayerThreadContext is the detector's per-thread handle required
// by applayer.Detector. The signature table and registry are already
// safe for concurrent reads, so there is nothing to initialize.
type applayerThreadContext struct{}

func (applayerThreadContext) Close() error { return nil }

// ApplayerAdapter wires the signature-based Detector into the
// dispatch core's Detector collaborator interface, matching raw
// payload prefixes rather than full gopacket.Packet captures — this
// core sees only reassembled bytes, never the packet they arrived in.
type ApplayerAdapter struct {
	det *Detector
	reg *ProtoRegistry
}

// NewApplayerAdapter wraps det, assigning protocol ids out of reg.
func NewApplayerAdapter(det *Detector, reg *ProtoRegistry) *ApplayerAdapter {
	return &ApplayerAdapter{det: det, reg: reg}
}

// NewThreadContext implements applayer.Detector.
func (a *ApplayerAdapter) NewThreadContext() (applayer.DetectorThreadContext, error) {
	return applayerThreadContext{}, nil
}

// Detect implements applayer.Detector. It walks the registered
// signatures in priority order — the same order Detector.Detect
// uses for its non-port-hint fallback path, since the dispatch core
// has no 5-tuple to offer a port hint — and returns the first result
// at or above ConfidenceHigh.
func (a *ApplayerAdapter) Detect(_ applayer.DetectorThreadContext, _ *applayer.Flow, data []byte, l4 applayer.L4Proto, _ applayer.Flags) applayer.ProtoID {
	ctx := &signatures.DetectionContext{
		Payload:   data,
		Transport: l4.String(),
		Context:   context.Background(),
	}

	for _, sig := range a.det.GetSignatures() {
		result := sig.Detect(ctx)
		if result == nil || result.Confidence < signatures.ConfidenceHigh {
			continue
		}
		return applayer.ProtoID(a.reg.IDFor(result.Protocol))
	}
	return applayer.ProtoUnknown
}
