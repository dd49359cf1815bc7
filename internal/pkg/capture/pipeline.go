package capture

import (
	"fmt"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"

	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
	"github.com/sentrywire/sentrywire/internal/pkg/events"
	"github.com/sentrywire/sentrywire/internal/pkg/logger"
)

// flowState is the per-connection record the pipeline keeps behind its
// own lock: the Flow is the only object TCP entry points assume is
// already locked by the caller.
type flowState struct {
	flow  *applayer.Flow
	sess  *applayer.TcpSession
	proto applayer.L4Proto
}

// FlowTable tracks one flowState per 5-tuple for the lifetime of a
// capture run. Unlike the detector's own flow tracker (which exists to
// correlate protocol hints), this table exists purely to give the
// dispatch core a Flow/TcpSession pair to mutate across calls.
type FlowTable struct {
	mu    sync.Mutex
	flows map[string]*flowState
}

// NewFlowTable constructs an empty table.
func NewFlowTable() *FlowTable {
	return &FlowTable{flows: make(map[string]*flowState)}
}

func (t *FlowTable) getOrCreate(key string, proto applayer.L4Proto) *flowState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fs, ok := t.flows[key]; ok {
		return fs
	}
	fs := &flowState{
		flow:  applayer.NewFlow(proto, events.NewLoggingEventSink(key)),
		proto: proto,
	}
	if proto == applayer.L4TCP {
		fs.sess = &applayer.TcpSession{}
	}
	t.flows[key] = fs
	return fs
}

// Pipeline wires the gopacket capture loop into the application
// dispatch core: one Dispatcher per pipeline, one flowState per
// 5-tuple, and a tcpassembly.Assembler whose per-direction Streams
// call the dispatcher synchronously from Reassembled — no
// goroutine-per-stream, keeping to a single-threaded cooperative model.
type Pipeline struct {
	dispatcher *applayer.Dispatcher
	flows      *FlowTable
	defrag     *IPv4Defragmenter
}

// NewPipeline constructs a Pipeline around an already-built Dispatcher.
// The dispatcher's own Reassembler collaborator is used to force-drain
// an opposing half-stream once detection commits; see reassembler.go.
func NewPipeline(dispatcher *applayer.Dispatcher) *Pipeline {
	return &Pipeline{
		dispatcher: dispatcher,
		flows:      NewFlowTable(),
		defrag:     NewIPv4Defragmenter(),
	}
}

// Assembler builds a tcpassembly.Assembler whose stream factory routes
// every reassembled chunk through p synchronously.
func (p *Pipeline) Assembler() *tcpassembly.Assembler {
	pool := tcpassembly.NewStreamPool(&appLayerStreamFactory{pipeline: p})
	return tcpassembly.NewAssembler(pool)
}

// HandlePacket feeds one captured packet into the pipeline: IPv4
// fragments are reassembled first, TCP segments go to the assembler
// (which calls back into p synchronously from Reassembled), and UDP
// datagrams are dispatched directly.
func (p *Pipeline) HandlePacket(packet gopacket.Packet, assembler *tcpassembly.Assembler) {
	if ip4, ok := packet.NetworkLayer().(*layers.IPv4); ok && isFragment(ip4) {
		ts := packet.Metadata().Timestamp
		whole, err := p.defrag.DefragIPv4WithTimestamp(ip4, ts)
		if err != nil {
			logger.Debug("applayer: dropping fragment", "error", err)
			return
		}
		if whole == nil {
			return // not all fragments seen yet
		}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, whole, gopacket.Payload(whole.Payload)); err != nil {
			logger.Debug("applayer: dropping reassembled datagram", "error", err)
			return
		}
		packet = gopacket.NewPacket(buf.Bytes(), layers.LayerTypeIPv4, gopacket.Default)
		packet.Metadata().Timestamp = ts
	}

	switch transport := packet.TransportLayer().(type) {
	case *layers.TCP:
		assembler.AssembleWithTimestamp(packet.NetworkLayer().NetworkFlow(), transport, packet.Metadata().Timestamp)
	case *layers.UDP:
		p.handleUDP(packet, transport)
	}
}

func (p *Pipeline) handleUDP(packet gopacket.Packet, udp *layers.UDP) {
	key := udpFlowKey(packet.NetworkLayer().NetworkFlow(), udp.SrcPort, udp.DstPort)
	fs := p.flows.getOrCreate(key, applayer.L4UDP)

	dir := directionOf(uint16(udp.SrcPort), uint16(udp.DstPort))
	pkt := applayer.NewPacket(dir)
	flags := applayer.Flags(dir)

	if err := p.dispatcher.HandleUDPData(pkt, fs.flow, udp.Payload, flags); err != nil {
		logger.Debug("applayer: udp dispatch failed", "flow", key, "error", err)
	}
}

// udpFlowKey builds a direction-independent 5-tuple key so both
// directions of a connection share one flowState.
func udpFlowKey(net gopacket.Flow, srcPort, dstPort layers.UDPPort) string {
	a, b := net.Endpoints()
	p1, p2 := srcPort, dstPort
	if p1 > p2 {
		p1, p2 = p2, p1
	}
	lo, hi := a.String(), b.String()
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%s:%s/udp:%d:%d", lo, hi, p1, p2)
}

// directionOf applies the fixed convention this system uses to assign
// TOSERVER/TOCLIENT without a dedicated connection-state table: the
// numerically lower port is assumed to be the server's. This matches
// how most well-known services are provisioned, and is a deliberate
// simplification — a production flow table would instead remember
// which side sent the opening SYN.
func directionOf(srcPort, dstPort uint16) applayer.Direction {
	if srcPort < dstPort {
		return applayer.DirToClient
	}
	return applayer.DirToServer
}

// isFragment reports whether ip4 is a non-final fragment, or any
// fragment past the first, of a datagram split below the link MTU.
func isFragment(ip4 *layers.IPv4) bool {
	return ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0
}

// appLayerStreamFactory builds one appLayerStream per direction of
// each TCP connection tcpassembly observes, sharing a single flowState
// between the two.
type appLayerStreamFactory struct {
	pipeline *Pipeline
}

func (f *appLayerStreamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	srcPort := portFromEndpoint(transport.Src())
	dstPort := portFromEndpoint(transport.Dst())

	key := tcpFlowKey(net, srcPort, dstPort)
	fs := f.pipeline.flows.getOrCreate(key, applayer.L4TCP)

	return &appLayerStream{
		pipeline: f.pipeline,
		fs:       fs,
		dir:      directionOf(srcPort, dstPort),
	}
}

// appLayerStream is one direction of a TCP connection. It calls
// HandleTCPData synchronously from Reassembled, in place of a
// reader-plus-goroutine pattern that would hand each direction its own
// goroutine and break the single-threaded, cooperative dispatch model
// the rest of this package assumes.
type appLayerStream struct {
	pipeline *Pipeline
	fs       *flowState
	dir      applayer.Direction
}

// Reassembled implements tcpassembly.Stream.
func (s *appLayerStream) Reassembled(reassemblies []tcpassembly.Reassembly) {
	s.fs.flow.Lock()
	defer s.fs.flow.Unlock()

	pkt := applayer.NewPacket(s.dir)
	for _, r := range reassemblies {
		flags := applayer.Flags(s.dir)
		if r.Start {
			flags |= applayer.Start
		}
		if r.Skip < 0 {
			flags |= applayer.Gap
		}
		if len(r.Bytes) > 0 {
			s.fs.sess.DataFirstSeenDir.Observe(s.dir)
		}
		if err := s.pipeline.dispatcher.HandleTCPData(pkt, s.fs.flow, s.fs.sess, r.Bytes, flags); err != nil {
			logger.Debug("applayer: tcp dispatch failed", "dir", s.dir.String(), "error", err)
		}
	}
}

// ReassemblyComplete implements tcpassembly.Stream.
func (s *appLayerStream) ReassemblyComplete() {}

// portFromEndpoint extracts the big-endian 16-bit port carried by a
// TCP/UDP gopacket.Endpoint.
func portFromEndpoint(e gopacket.Endpoint) uint16 {
	raw := e.Raw()
	if len(raw) != 2 {
		return 0
	}
	return uint16(raw[0])<<8 | uint16(raw[1])
}

// tcpFlowKey builds a direction-independent 5-tuple key so both
// directions of a TCP connection share one flowState.
func tcpFlowKey(net gopacket.Flow, srcPort, dstPort uint16) string {
	srcIP, dstIP := net.Endpoints()
	a := fmt.Sprintf("%s:%d", srcIP.String(), srcPort)
	b := fmt.Sprintf("%s:%d", dstIP.String(), dstPort)
	if a > b {
		a, b = b, a
	}
	return a + "<->" + b + "/tcp"
}
