package applayer

import (
	"fmt"

	"github.com/sentrywire/sentrywire/internal/pkg/logger"
)

// StreamMsgPool releases a StreamMsg back to its owning pool once the
// dispatch core is done with it (or never needed it, because the flow
// had no transport context). An arena/sync.Pool-backed implementation
// is expected in production; tests may use a no-op.
type StreamMsgPool interface {
	Put(msg *StreamMsg)
}

// NoopStreamMsgPool discards messages instead of recycling them.
type NoopStreamMsgPool struct{}

// Put implements StreamMsgPool.
func (NoopStreamMsgPool) Put(*StreamMsg) {}

// EnqueueStreamMsg appends a reassembled stream message onto the
// owning session's per-direction queue for later consumption by the
// detection engine. If the flow has no transport context (ssn == nil),
// the message is released back to pool instead.
//
// msg.Flow must be non-nil; callers that construct a StreamMsg without
// a flow back-reference get a returned error rather than a panic, since
// this core never aborts the process on a malformed precondition. In
// both the with-session and no-session branches the message's flow
// back-reference is cleared exactly once.
func EnqueueStreamMsg(ssn *TcpSession, msg *StreamMsg, pool StreamMsgPool) error {
	if msg.Flow == nil {
		return fmt.Errorf("applayer: stream message enqueued with nil flow back-reference")
	}

	if ssn == nil {
		msg.Flow = nil
		pool.Put(msg)
		logger.Debug("stream message dropped, flow has no transport context")
		return nil
	}

	switch msg.Dir {
	case DirToServer:
		ssn.ToServerMsgs = append(ssn.ToServerMsgs, msg)
	case DirToClient:
		ssn.ToClientMsgs = append(ssn.ToClientMsgs, msg)
	default:
		msg.Flow = nil
		return fmt.Errorf("applayer: stream message has no direction set")
	}

	msg.Flow = nil
	return nil
}
