package applayer

import "fmt"

// Dispatcher is the application-layer protocol dispatch core. One
// Dispatcher is constructed per worker, wrapping that worker's
// per-thread detector/parser contexts plus the shared, stateless
// collaborators (the detector and parser tables, the reassembler, and
// an optional profiler).
type Dispatcher struct {
	tctx        *ThreadContext
	detector    Detector
	parser      Parser
	reassembler Reassembler
	profiler    Profiler
}

// NewDispatcher constructs a worker-local Dispatcher. It builds the
// per-thread context eagerly; callers must call Close when
// the worker exits.
func NewDispatcher(detector Detector, parser Parser, reassembler Reassembler, profiler Profiler) (*Dispatcher, error) {
	tctx, err := NewThreadContext(detector, parser)
	if err != nil {
		return nil, fmt.Errorf("applayer: new dispatcher: %w", err)
	}
	if profiler == nil {
		profiler = NoopProfiler{}
	}
	return &Dispatcher{
		tctx:        tctx,
		detector:    detector,
		parser:      parser,
		reassembler: reassembler,
		profiler:    profiler,
	}, nil
}

// Close releases the worker's per-thread context.
func (d *Dispatcher) Close() error {
	d.tctx.Destroy()
	return nil
}

// ProtoByName and ProtoToString are a thin pass-through to the parser
// table's protocol name registry.
func (d *Dispatcher) ProtoByName(name string) ProtoID { return d.parser.ProtoByName(name) }

func (d *Dispatcher) ProtoToString(id ProtoID) string { return d.parser.ProtoToString(id) }
