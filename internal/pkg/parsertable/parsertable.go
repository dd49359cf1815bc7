// Package parsertable is the application dispatch core's Parser
// collaborator: the static directionality policy for each protocol
// plus the proto_by_name/proto_to_string registry adapters, backed by
// the same ProtoRegistry the detector assigns ids out of.
//
// It does not implement any individual L7 parser's state machine —
// those are out of scope for this system (see DESIGN.md) — so Parse
// only logs and returns success, a stand-in a real parser table would
// replace one protocol at a time.
package parsertable

import (
	"io"

	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
	"github.com/sentrywire/sentrywire/internal/pkg/detector"
	"github.com/sentrywire/sentrywire/internal/pkg/logger"
)

type threadContext struct{}

func (threadContext) Close() error { return nil }

// ProtoRegistry is the subset of detector.ProtoRegistry the table
// needs; declared here so the table can be constructed without an
// import cycle back to detector for tests that fake the registry.
type ProtoRegistry interface {
	Lookup(name string) (uint16, bool)
	Name(id uint16) string
}

// Table is the default Parser implementation.
type Table struct {
	reg ProtoRegistry
	// firstDataDir maps a protocol name to the direction its parser
	// insists on seeing first; absent entries mean "no preference".
	firstDataDir map[string]applayer.Direction
}

var _ ProtoRegistry = (*detector.ProtoRegistry)(nil)

// New constructs a Table backed by reg, seeded with the directionality
// policy for every protocol signature this system ships.
func New(reg ProtoRegistry) *Table {
	return &Table{
		reg: reg,
		firstDataDir: map[string]applayer.Direction{
			// Request/response protocols: the client's request always
			// has to arrive before a server reply makes sense of it.
			"HTTP":       applayer.DirToServer,
			"SIP":        applayer.DirToServer,
			"FTP":        applayer.DirToServer,
			"SMTP":       applayer.DirToServer,
			"POP3":       applayer.DirToServer,
			"IMAP":       applayer.DirToServer,
			"MySQL":      applayer.DirToServer,
			"PostgreSQL": applayer.DirToServer,
			"Redis":      applayer.DirToServer,
			"MongoDB":    applayer.DirToServer,
			"Telnet":     applayer.DirToServer,
			"gRPC":       applayer.DirToServer,
			// Server-speaks-first protocols.
			"SSH": applayer.DirToClient,
			// No directional preference: either side may legitimately
			// produce the first detectable bytes.
			"TLS/SSL":   0,
			"DNS":       0,
			"WebSocket": 0,
		},
	}
}

// NewThreadContext implements applayer.Parser.
func (t *Table) NewThreadContext() (applayer.ParserThreadContext, error) {
	return threadContext{}, nil
}

// Parse implements applayer.Parser. No per-protocol state machine is
// wired in; bytes are logged and accepted.
func (t *Table) Parse(_ applayer.ParserThreadContext, flow *applayer.Flow, alproto applayer.ProtoID, flags applayer.Flags, data []byte) error {
	logger.Debug("applayer: parse",
		"protocol", t.ProtoToString(alproto),
		"direction", flags.Direction().String(),
		"bytes", len(data))
	return nil
}

// FirstDataDir implements applayer.Parser.
func (t *Table) FirstDataDir(_ applayer.L4Proto, alproto applayer.ProtoID) applayer.Direction {
	name := t.ProtoToString(alproto)
	return t.firstDataDir[name]
}

// ProtoByName implements applayer.Parser.
func (t *Table) ProtoByName(name string) applayer.ProtoID {
	id, ok := t.reg.Lookup(name)
	if !ok {
		return applayer.ProtoUnknown
	}
	return applayer.ProtoID(id)
}

// ProtoToString implements applayer.Parser.
func (t *Table) ProtoToString(id applayer.ProtoID) string {
	return t.reg.Name(uint16(id))
}

var _ io.Closer = threadContext{}
