package dht

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterativeNodeFinderTerminatesOnKeyFound(t *testing.T) {
	var self, key NodeID
	self[0] = 0xFF
	key[0] = 0x42

	rt := NewRoutingTable(self, SystemClock{})
	seed := newTestPeer(t, 1)
	rt.AddPeer(seed)

	target, err := NewPeerInfo(key, true, net.ParseIP("127.0.0.1"), 4999, 0, AllowLocalhost())
	require.NoError(t, err)

	pm, err := NewPeerManager(SystemClock{}, 64)
	require.NoError(t, err)

	probe := func(ctx context.Context, peer PeerInfo, k NodeID, page int) (findReply, error) {
		if peer.Equal(seed) {
			return findReply{Contacts: []PeerInfo{target}}, nil
		}
		return findReply{}, nil
	}

	finder := NewIterativeNodeFinder(self, key, rt, pm, EndpointKey{}, probe, K)
	active := finder.Run(context.Background())

	require.Len(t, active, 1)
	assert.True(t, active[0].Equal(seed))
}

func TestIterativeNodeFinderExhaustsWithoutMatch(t *testing.T) {
	var self, key NodeID
	self[0] = 0xFF
	key[0] = 0x42

	rt := NewRoutingTable(self, SystemClock{})
	seed := newTestPeer(t, 1)
	rt.AddPeer(seed)

	pm, err := NewPeerManager(SystemClock{}, 64)
	require.NoError(t, err)

	calls := 0
	probe := func(ctx context.Context, peer PeerInfo, k NodeID, page int) (findReply, error) {
		calls++
		return findReply{}, nil
	}

	finder := NewIterativeNodeFinder(self, key, rt, pm, EndpointKey{}, probe, K)
	active := finder.Run(context.Background())

	assert.Equal(t, 1, calls)
	require.Len(t, active, 1)
	assert.True(t, active[0].Equal(seed))
}

func TestIterativeNodeFinderDropsFailedPeer(t *testing.T) {
	var self, key NodeID
	self[0] = 0xFF
	key[0] = 0x42

	rt := NewRoutingTable(self, SystemClock{})
	seed := newTestPeer(t, 1)
	rt.AddPeer(seed)

	pm, err := NewPeerManager(SystemClock{}, 64)
	require.NoError(t, err)

	probe := func(ctx context.Context, peer PeerInfo, k NodeID, page int) (findReply, error) {
		return findReply{}, ErrRPCTimeout
	}

	finder := NewIterativeNodeFinder(self, key, rt, pm, EndpointKey{}, probe, K)
	active := finder.Run(context.Background())
	assert.Empty(t, active)
}
