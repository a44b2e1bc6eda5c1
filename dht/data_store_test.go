package dht

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dsPeer(t *testing.T, idByte byte) PeerInfo {
	t.Helper()
	var id NodeID
	id[0] = idByte
	p, err := NewPeerInfo(id, true, net.ParseIP("127.0.0.1"), 4444+int(idByte), 3333, AllowLocalhost())
	require.NoError(t, err)
	return p
}

func TestDataStoreAddAndGet(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm, err := NewPeerManager(clock, 16)
	require.NoError(t, err)
	ds := NewDataStore(clock, pm)

	var key NodeID
	key[0] = 1
	ds.AddPeerToBlob(key, dsPeer(t, 1))
	ds.AddPeerToBlob(key, dsPeer(t, 2))

	peers := ds.GetPeersForBlob(key)
	assert.Len(t, peers, 2)
	assert.Equal(t, 2, ds.Count(key))
}

func TestDataStoreUpsertDoesNotDuplicate(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm, err := NewPeerManager(clock, 16)
	require.NoError(t, err)
	ds := NewDataStore(clock, pm)

	var key NodeID
	p := dsPeer(t, 1)
	ds.AddPeerToBlob(key, p)
	ds.AddPeerToBlob(key, p)
	assert.Equal(t, 1, ds.Count(key))
}

func TestDataStoreExpiresEntries(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm, err := NewPeerManager(clock, 16)
	require.NoError(t, err)
	ds := NewDataStore(clock, pm)

	var key NodeID
	ds.AddPeerToBlob(key, dsPeer(t, 1))
	clock.Advance(DataExpiration * 2)

	assert.Equal(t, 0, ds.Count(key))
	ds.RemoveExpiredPeers()
	assert.Empty(t, ds.Keys())
}

func TestDataStorePeersPage(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm, err := NewPeerManager(clock, 256)
	require.NoError(t, err)
	ds := NewDataStore(clock, pm)

	var key NodeID
	for i := 1; i <= 20; i++ {
		ds.AddPeerToBlob(key, dsPeer(t, byte(i)))
	}

	page := ds.PeersPage(key, 0, K)
	assert.Len(t, page, K)
	page2 := ds.PeersPage(key, K, K)
	assert.Len(t, page2, K)
	assert.NotEqual(t, page[0].NodeID, page2[0].NodeID)

	beyond := ds.PeersPage(key, 1000, K)
	assert.Empty(t, beyond)
}
