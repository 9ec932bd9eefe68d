package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvnet/swimring/internal/cluster"
)

var testSecret = []byte("unit-test-shared-secret")

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	data, err := Encode(p, testSecret)
	require.NoError(t, err)
	got, err := Decode(data, testSecret)
	require.NoError(t, err)
	return got
}

func TestPingRoundTrip(t *testing.T) {
	p := Ping{Src: Source{Name: "a", Validity: cluster.Validity{1, 2, 3}}}
	got := roundTrip(t, p)
	assert.Equal(t, p, got)
}

func TestPingReqRoundTrip(t *testing.T) {
	p := PingReq{Src: Source{Name: "a"}, Target: "b"}
	got := roundTrip(t, p)
	assert.Equal(t, p, got)
}

func TestAckRoundTrip(t *testing.T) {
	p := Ack{Src: Source{Name: "a"}}
	got := roundTrip(t, p)
	assert.Equal(t, p, got)
}

func TestGossipRoundTripKnownMetadata(t *testing.T) {
	p := Gossip{
		Src:      Source{Name: "a"},
		Name:     "b",
		Clock:    42,
		Status:   cluster.SUSPECT,
		Metadata: cluster.Metadata{"region": []byte("us-east")},
	}
	got := roundTrip(t, p)
	assert.Equal(t, p, got)
}

func TestGossipRoundTripUnknownMetadata(t *testing.T) {
	p := Gossip{
		Src:    Source{Name: "a"},
		Name:   "b",
		Clock:  1,
		Status: cluster.OFFLINE,
	}
	got := roundTrip(t, p)
	gossip, ok := got.(Gossip)
	require.True(t, ok)
	assert.False(t, gossip.Metadata.Known())
}

func TestGossipAckRoundTrip(t *testing.T) {
	p := GossipAck{Src: Source{Name: "a"}, Name: "b", Clock: 7}
	got := roundTrip(t, p)
	assert.Equal(t, p, got)
}

func TestStatusWireEncoding(t *testing.T) {
	// Spec-mandated wire values: ONLINE=1, SUSPECT=2, OFFLINE=4.
	assert.Equal(t, uint8(1), uint8(cluster.ONLINE))
	assert.Equal(t, uint8(2), uint8(cluster.SUSPECT))
	assert.Equal(t, uint8(4), uint8(cluster.OFFLINE))
}

func TestDecodeRejectsBadMAC(t *testing.T) {
	p := Ping{Src: Source{Name: "a"}}
	data, err := Encode(p, testSecret)
	require.NoError(t, err)

	_, err = Decode(data, []byte("wrong-secret"))
	assert.ErrorIs(t, err, ErrInvalidMAC)
}

func TestDecodeRejectsTamperedPayload(t *testing.T) {
	p := Ping{Src: Source{Name: "a"}}
	data, err := Encode(p, testSecret)
	require.NoError(t, err)
	data[0] ^= 0xFF

	_, err = Decode(data, testSecret)
	assert.Error(t, err)
}

func TestDecodeRejectsShortInput(t *testing.T) {
	_, err := Decode([]byte("short"), testSecret)
	assert.Error(t, err)
}
