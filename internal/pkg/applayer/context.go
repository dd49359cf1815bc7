package applayer

import "fmt"

// ThreadContext holds the per-worker handles to the detector's and
// parser's thread-local state. One is created on worker start and
// destroyed on worker exit; it is never shared across workers.
type ThreadContext struct {
	Detector DetectorThreadContext
	Parser   ParserThreadContext
}

// NewThreadContext constructs a ThreadContext, asking the detector and
// parser collaborators for their own per-thread state in turn. If
// either fails, any partially created child is released before the
// outer call returns its error.
func NewThreadContext(detector Detector, parser Parser) (*ThreadContext, error) {
	dtx, err := detector.NewThreadContext()
	if err != nil {
		return nil, fmt.Errorf("applayer: detector thread context: %w", err)
	}

	ptx, err := parser.NewThreadContext()
	if err != nil {
		_ = dtx.Close()
		return nil, fmt.Errorf("applayer: parser thread context: %w", err)
	}

	return &ThreadContext{Detector: dtx, Parser: ptx}, nil
}

// Destroy releases both child contexts. Order between the two does not
// matter; both are released unconditionally.
func (tc *ThreadContext) Destroy() {
	if tc == nil {
		return
	}
	if tc.Detector != nil {
		_ = tc.Detector.Close()
	}
	if tc.Parser != nil {
		_ = tc.Parser.Close()
	}
}
