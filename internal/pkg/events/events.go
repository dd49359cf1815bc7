// Package events adapts the dispatch core's anomaly-event taxonomy
// (applayer.EventSink) onto structured logging: internal signals
// become log lines rather than feeding a dedicated alerting pipeline.
package events

import (
	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
	"github.com/sentrywire/sentrywire/internal/pkg/logger"
)

// LoggingEventSink logs every raised event at warn level, tagged with
// the flow it came from.
type LoggingEventSink struct {
	FlowID string
}

// NewLoggingEventSink constructs a sink scoped to flowID, used only to
// annotate log lines.
func NewLoggingEventSink(flowID string) *LoggingEventSink {
	return &LoggingEventSink{FlowID: flowID}
}

// RaiseEvent implements applayer.EventSink.
func (s *LoggingEventSink) RaiseEvent(kind applayer.EventKind) {
	logger.Warn("applayer event", "flow", s.FlowID, "event", kind.String())
}
