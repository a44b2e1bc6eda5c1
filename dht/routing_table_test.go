package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRTPeer(t *testing.T, idByte byte) PeerInfo {
	t.Helper()
	var id NodeID
	id[0] = idByte
	p, err := NewPeerInfo(id, true, net.ParseIP("127.0.0.1"), 4444+int(idByte), 0, AllowLocalhost())
	require.NoError(t, err)
	return p
}

func TestRoutingTableAddAndFindClosePeers(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, SystemClock{})

	for i := 1; i <= 5; i++ {
		assert.True(t, rt.AddPeer(newRTPeer(t, byte(i))))
	}
	assert.Equal(t, 5, rt.Len())

	var key NodeID
	key[0] = 3
	close := rt.FindClosePeers(key, 2, nil)
	require.Len(t, close, 2)
	assert.Equal(t, byte(3), close[0].NodeID[0])
}

func TestRoutingTableSplitsBelowSplitUnderIndex(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, SystemClock{})

	for i := 1; i <= K+1; i++ {
		rt.AddPeer(newRTPeer(t, byte(i)))
	}
	assert.Greater(t, rt.BucketCount(), 1, "splitting below SplitBucketsUnderIndex should grow the bucket slice")
}

func TestRoutingTableRejectsSelf(t *testing.T) {
	var self NodeID
	self[0] = 9
	rt := NewRoutingTable(self, SystemClock{})
	assert.False(t, rt.AddPeer(newRTPeer(t, 9)))
	assert.Equal(t, 0, rt.Len())
}

func TestRoutingTableJoinEmptyBucketsReducesCount(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, SystemClock{})
	for i := 1; i <= K+1; i++ {
		rt.AddPeer(newRTPeer(t, byte(i)))
	}
	before := rt.BucketCount()
	require.Greater(t, before, 1)

	for _, p := range rt.AllPeers() {
		rt.RemovePeer(p)
	}
	rt.JoinEmptyBuckets()
	assert.Equal(t, 1, rt.BucketCount())
}

func TestRoutingTableRemovePeer(t *testing.T) {
	var self NodeID
	rt := NewRoutingTable(self, SystemClock{})
	p := newRTPeer(t, 1)
	rt.AddPeer(p)
	assert.True(t, rt.RemovePeer(p))
	assert.Equal(t, 0, rt.Len())
	assert.False(t, rt.RemovePeer(p))
}
