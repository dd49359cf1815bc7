package parsertable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentrywire/sentrywire/internal/pkg/applayer"
	"github.com/sentrywire/sentrywire/internal/pkg/detector"
)

func TestTable_FirstDataDirHonorsSeededPolicy(t *testing.T) {
	reg := detector.NewProtoRegistry()
	table := New(reg)

	httpID := applayer.ProtoID(reg.IDFor("HTTP"))
	sshID := applayer.ProtoID(reg.IDFor("SSH"))
	dnsID := applayer.ProtoID(reg.IDFor("DNS"))

	assert.Equal(t, applayer.DirToServer, table.FirstDataDir(applayer.L4TCP, httpID))
	assert.Equal(t, applayer.DirToClient, table.FirstDataDir(applayer.L4TCP, sshID))
	assert.Equal(t, applayer.Direction(0), table.FirstDataDir(applayer.L4TCP, dnsID))
}

func TestTable_FirstDataDirUnregisteredProtocolHasNoPreference(t *testing.T) {
	reg := detector.NewProtoRegistry()
	table := New(reg)

	assert.Equal(t, applayer.Direction(0), table.FirstDataDir(applayer.L4TCP, applayer.ProtoID(1234)))
}

func TestTable_ProtoByNameAndProtoToStringRoundTrip(t *testing.T) {
	reg := detector.NewProtoRegistry()
	table := New(reg)

	id := reg.IDFor("MySQL")

	assert.Equal(t, applayer.ProtoID(id), table.ProtoByName("MySQL"))
	assert.Equal(t, "MySQL", table.ProtoToString(applayer.ProtoID(id)))
	assert.Equal(t, applayer.ProtoUnknown, table.ProtoByName("never-registered"))
}

func TestTable_ParseNeverFails(t *testing.T) {
	reg := detector.NewProtoRegistry()
	table := New(reg)
	tctx, err := table.NewThreadContext()
	assert.NoError(t, err)

	flow := applayer.NewFlow(applayer.L4TCP, nil)
	err = table.Parse(tctx, flow, applayer.ProtoUnknown, applayer.Flags(applayer.DirToServer), []byte("payload"))
	assert.NoError(t, err)
}
