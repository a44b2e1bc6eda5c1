package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finderPeer(t *testing.T, idByte byte) PeerInfo {
	t.Helper()
	var id NodeID
	id[0] = idByte
	p, err := NewPeerInfo(id, true, net.ParseIP("127.0.0.1"), 4444+int(idByte), 0, AllowLocalhost())
	require.NoError(t, err)
	return p
}

func TestInsertShortlistStaysSortedByDistance(t *testing.T) {
	var key NodeID
	var list []shortlistEntry
	for _, idByte := range []byte{5, 1, 9, 3} {
		list = insertShortlist(list, finderPeer(t, idByte), key, 10)
	}
	require.Len(t, list, 4)
	for i := 1; i < len(list); i++ {
		assert.True(t, Less(list[i-1].distance, list[i].distance) || list[i-1].distance == list[i].distance)
	}
}

func TestInsertShortlistDedupes(t *testing.T) {
	var key NodeID
	p := finderPeer(t, 1)
	list := insertShortlist(nil, p, key, 10)
	list = insertShortlist(list, p, key, 10)
	assert.Len(t, list, 1)
}

func TestInsertShortlistTruncatesToMaxResults(t *testing.T) {
	var key NodeID
	var list []shortlistEntry
	for i := byte(1); i <= 20; i++ {
		list = insertShortlist(list, finderPeer(t, i), key, 5)
	}
	assert.Len(t, list, 5)
}

func TestEffectiveMaxResults(t *testing.T) {
	assert.Equal(t, K, effectiveMaxResults(1))
	assert.Equal(t, K*2, effectiveMaxResults(K*2))
}

func TestProbeSlotsSkipsContactedAndSelf(t *testing.T) {
	var key, self NodeID
	self[0] = 1
	p1 := finderPeer(t, 1) // same node_id as self
	p2 := finderPeer(t, 2)
	p3 := finderPeer(t, 3)
	list := insertShortlist(nil, p1, key, 10)
	list = insertShortlist(list, p2, key, 10)
	list = insertShortlist(list, p3, key, 10)

	contacted := map[Key]bool{p2.TripleKey(): true}
	out := probeSlots(list, contacted, 0, Alpha, K, self, EndpointKey{})

	for _, p := range out {
		assert.NotEqual(t, self, p.NodeID)
		assert.NotEqual(t, p2.TripleKey(), p.TripleKey())
	}
}

func TestContainsKey(t *testing.T) {
	var key NodeID
	key[0] = 42
	contacts := []PeerInfo{finderPeer(t, 1)}
	assert.False(t, containsKey(contacts, key))

	target := finderPeer(t, 42)
	contacts = append(contacts, target)
	assert.True(t, containsKey(contacts, key))
}
