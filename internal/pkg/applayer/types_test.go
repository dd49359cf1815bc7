package applayer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
)

func TestDataFirstSeenDir_ZeroValue(t *testing.T) {
	var d applayer.DataFirstSeenDir

	_, ok := d.OneDirection()
	assert.False(t, ok)
	assert.Equal(t, applayer.Flags(0), d.AsFlags())
	assert.False(t, d.IsCommitted())
}

func TestDataFirstSeenDir_OneDirectionThenSameDirectionIsIdempotent(t *testing.T) {
	var d applayer.DataFirstSeenDir

	d.Observe(applayer.DirToServer)
	dir, ok := d.OneDirection()
	assert.True(t, ok)
	assert.Equal(t, applayer.DirToServer, dir)
	assert.Equal(t, applayer.Flags(applayer.DirToServer), d.AsFlags())

	d.Observe(applayer.DirToServer) // repeat: must not flip to Both
	dir, ok = d.OneDirection()
	assert.True(t, ok)
	assert.Equal(t, applayer.DirToServer, dir)
}

func TestDataFirstSeenDir_BothDirectionsClearsOneDirection(t *testing.T) {
	var d applayer.DataFirstSeenDir

	d.Observe(applayer.DirToServer)
	d.Observe(applayer.DirToClient)

	_, ok := d.OneDirection()
	assert.False(t, ok, "once both sides have produced bytes there is no single first direction")
	assert.Equal(t, applayer.ToServer|applayer.ToClient, d.AsFlags())
	assert.False(t, d.IsCommitted())
}

func TestDataFirstSeenDir_CommitIsTerminal(t *testing.T) {
	var d applayer.DataFirstSeenDir

	d.Observe(applayer.DirToServer)
	d.Commit()

	assert.True(t, d.IsCommitted())
	assert.Equal(t, applayer.Flags(0), d.AsFlags(), "Committed carries no directional meaning")

	d.Observe(applayer.DirToClient) // must not un-commit
	assert.True(t, d.IsCommitted())
}

func TestEnqueueStreamMsg_NilFlowIsAnError(t *testing.T) {
	msg := &applayer.StreamMsg{Dir: applayer.DirToServer}
	err := applayer.EnqueueStreamMsg(&applayer.TcpSession{}, msg, applayer.NoopStreamMsgPool{})
	assert.Error(t, err)
}

func TestEnqueueStreamMsg_NilSessionReleasesToPool(t *testing.T) {
	flow := applayer.NewFlow(applayer.L4TCP, nil)
	pool := &countingPool{}
	msg := &applayer.StreamMsg{Flow: flow, Dir: applayer.DirToServer, Data: []byte("x")}

	err := applayer.EnqueueStreamMsg(nil, msg, pool)

	assert.NoError(t, err)
	assert.Equal(t, 1, pool.puts)
	assert.Nil(t, msg.Flow, "the flow back-reference must always be cleared")
}

func TestEnqueueStreamMsg_AppendsToOwningDirectionQueue(t *testing.T) {
	flow := applayer.NewFlow(applayer.L4TCP, nil)
	ssn := &applayer.TcpSession{}
	msg := &applayer.StreamMsg{Flow: flow, Dir: applayer.DirToClient, Data: []byte("reply")}

	err := applayer.EnqueueStreamMsg(ssn, msg, applayer.NoopStreamMsgPool{})

	assert.NoError(t, err)
	assert.Len(t, ssn.ToClientMsgs, 1)
	assert.Empty(t, ssn.ToServerMsgs)
	assert.Nil(t, msg.Flow)
}

func TestEnqueueStreamMsg_NoDirectionIsAnError(t *testing.T) {
	flow := applayer.NewFlow(applayer.L4TCP, nil)
	ssn := &applayer.TcpSession{}
	msg := &applayer.StreamMsg{Flow: flow, Data: []byte("x")}

	err := applayer.EnqueueStreamMsg(ssn, msg, applayer.NoopStreamMsgPool{})

	assert.Error(t, err)
	assert.Nil(t, msg.Flow)
}

type countingPool struct{ puts int }

func (p *countingPool) Put(*applayer.StreamMsg) { p.puts++ }
