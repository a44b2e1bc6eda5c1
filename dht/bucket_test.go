package dht

import (
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T, idByte byte) PeerInfo {
	t.Helper()
	var id NodeID
	id[0] = idByte
	p, err := NewPeerInfo(id, true, net.ParseIP("127.0.0.1"), 4444+int(idByte), 0, AllowLocalhost())
	require.NoError(t, err)
	return p
}

func TestKBucketAddPeerFillsThenReportsFull(t *testing.T) {
	b := newKBucket(big.NewInt(0), big.NewInt(1<<32), time.Now())
	for i := 0; i < K; i++ {
		outcome := b.addPeer(newTestPeer(t, byte(i+1)), K, time.Now())
		assert.Equal(t, addedNew, outcome)
	}
	outcome := b.addPeer(newTestPeer(t, byte(200)), K, time.Now())
	assert.Equal(t, addedFull, outcome)
}

func TestKBucketAddPeerBumpsExisting(t *testing.T) {
	b := newKBucket(big.NewInt(0), big.NewInt(1<<32), time.Now())
	p := newTestPeer(t, 1)
	b.addPeer(p, K, time.Now())
	b.addPeer(newTestPeer(t, 2), K, time.Now())

	outcome := b.addPeer(p, K, time.Now())
	assert.Equal(t, addedBumped, outcome)
	assert.True(t, b.peers[len(b.peers)-1].Equal(p), "bumped peer should move to the tail")
}

func TestKBucketReplacementsAreBounded(t *testing.T) {
	b := newKBucket(big.NewInt(0), big.NewInt(1<<32), time.Now())
	for i := 0; i < ReplacementCacheSize+5; i++ {
		b.addReplacement(newTestPeer(t, byte(i+1)), ReplacementCacheSize)
	}
	assert.Len(t, b.replacements, ReplacementCacheSize)
}

func TestMidSplitsRangeInHalf(t *testing.T) {
	lo := big.NewInt(0)
	hi := big.NewInt(100)
	m := mid(lo, hi)
	assert.Equal(t, int64(50), m.Int64())
}
