package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeerInfoRejectsPrivateIP(t *testing.T) {
	_, err := NewPeerInfo(NodeID{}, true, net.ParseIP("192.168.1.1"), 4444, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewPeerInfoAllowsLocalhostWithOption(t *testing.T) {
	p, err := NewPeerInfo(NodeID{}, true, net.ParseIP("127.0.0.1"), 4444, 0, AllowLocalhost())
	require.NoError(t, err)
	assert.Equal(t, 4444, p.UDPPort)
}

func TestNewPeerInfoRejectsOutOfRangePort(t *testing.T) {
	_, err := NewPeerInfo(NodeID{}, true, net.ParseIP("127.0.0.1"), 80, 0, AllowLocalhost())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPeerEqualityIsByTriple(t *testing.T) {
	var id1, id2 NodeID
	id1[0] = 1
	id2[0] = 2
	p1, _ := NewPeerInfo(id1, true, net.ParseIP("127.0.0.1"), 4444, 3333, AllowLocalhost())
	p2 := p1
	p2.TCPPort = 9999 // tcp_port must not participate in equality
	assert.True(t, p1.Equal(p2))

	p3, _ := NewPeerInfo(id2, true, net.ParseIP("127.0.0.1"), 4444, 3333, AllowLocalhost())
	assert.False(t, p1.Equal(p3))
}

func TestCompactUDPRoundTrip(t *testing.T) {
	var id NodeID
	id[0] = 0xAB
	p, err := NewPeerInfo(id, true, net.ParseIP("1.2.3.4"), 5000, 0)
	require.NoError(t, err)

	enc, err := EncodeCompactUDP(p)
	require.NoError(t, err)
	assert.Len(t, enc, compactUDPLen)

	got, err := DecodeCompactUDP(enc)
	require.NoError(t, err)
	assert.True(t, p.Equal(got))
	assert.Equal(t, p.NodeID, got.NodeID)
}

func TestEncodeCompactUDPRequiresNodeID(t *testing.T) {
	p, err := NewPeerInfo(NodeID{}, false, net.ParseIP("1.2.3.4"), 5000, 0)
	require.NoError(t, err)
	_, err = EncodeCompactUDP(p)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBlobPeerAddrCompactTCPRoundTrip(t *testing.T) {
	addr, err := NewBlobPeerAddr(net.ParseIP("8.8.8.8"), 3333)
	require.NoError(t, err)

	raw := addr.EncodeCompactTCP()
	ip, port, err := DecodeCompactTCP(raw)
	require.NoError(t, err)
	assert.Equal(t, addr.IP().String(), ip.String())
	assert.Equal(t, 3333, port)
}

func TestInferTCPPortNoopWhenAlreadySet(t *testing.T) {
	p, err := NewPeerInfo(NodeID{}, true, net.ParseIP("1.2.3.4"), 4444, 3333)
	require.NoError(t, err)
	inferred := p.InferTCPPort(LegacyPortHeuristic)
	assert.Equal(t, 3333, inferred.TCPPort)
}

func TestInferTCPPortNoopWithoutHeuristic(t *testing.T) {
	p, err := NewPeerInfo(NodeID{}, true, net.ParseIP("1.2.3.4"), 4444, 0)
	require.NoError(t, err)
	inferred := p.InferTCPPort(nil)
	assert.Zero(t, inferred.TCPPort)
}
