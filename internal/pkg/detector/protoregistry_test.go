package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtoRegistry_IDForAssignsStableSequentialIDs(t *testing.T) {
	reg := NewProtoRegistry()

	httpID := reg.IDFor("HTTP")
	dnsID := reg.IDFor("DNS")
	httpAgain := reg.IDFor("HTTP")

	assert.NotEqual(t, uint16(0), httpID, "id 0 is reserved for the unknown placeholder")
	assert.NotEqual(t, httpID, dnsID)
	assert.Equal(t, httpID, httpAgain, "the same name must always resolve to the same id")
}

func TestProtoRegistry_LookupDoesNotAssign(t *testing.T) {
	reg := NewProtoRegistry()

	_, ok := reg.Lookup("HTTP")
	assert.False(t, ok)

	id := reg.IDFor("HTTP")
	got, ok := reg.Lookup("HTTP")
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestProtoRegistry_NameRoundTripsAndFallsBackToUnknown(t *testing.T) {
	reg := NewProtoRegistry()
	id := reg.IDFor("TLS/SSL")

	assert.Equal(t, "TLS/SSL", reg.Name(id))
	assert.Equal(t, "unknown", reg.Name(0))
	assert.Equal(t, "unknown", reg.Name(9999))
}
