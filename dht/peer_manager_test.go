package dht

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPM(t *testing.T, clock Clock) *PeerManager {
	t.Helper()
	pm, err := NewPeerManager(clock, 64)
	require.NoError(t, err)
	return pm
}

func samplePeer(t *testing.T) PeerInfo {
	t.Helper()
	var id NodeID
	id[0] = 7
	p, err := NewPeerInfo(id, true, net.ParseIP("127.0.0.1"), 4444, 0, AllowLocalhost())
	require.NoError(t, err)
	return p
}

func TestPeerIsGoodUnknownWithoutNodeID(t *testing.T) {
	pm := newPM(t, SystemClock{})
	p, _ := NewPeerInfo(NodeID{}, false, net.ParseIP("127.0.0.1"), 4444, 0, AllowLocalhost())
	assert.Equal(t, Unknown, pm.PeerIsGood(p))
}

func TestPeerIsGoodAfterRecentReply(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm := newPM(t, clock)
	p := samplePeer(t)

	pm.ReportLastReplied(p.Endpoint())
	assert.Equal(t, Good, pm.PeerIsGood(p))
}

func TestPeerIsGoodStaleReplyIsUnknown(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm := newPM(t, clock)
	p := samplePeer(t)

	pm.ReportLastReplied(p.Endpoint())
	clock.Advance(CheckRefreshInterval * 2)
	assert.Equal(t, Unknown, pm.PeerIsGood(p))
}

// TestPeerIsGoodTwoConsecutiveFailuresIsBad exercises spec.md's S5-adjacent
// decision table branch: two failures with no intervening reply and the
// latest within the check window demotes a peer to Bad.
func TestPeerIsGoodTwoConsecutiveFailuresIsBad(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm := newPM(t, clock)
	p := samplePeer(t)

	pm.ReportFailure(p.Endpoint())
	clock.Advance(time.Second)
	pm.ReportFailure(p.Endpoint())
	assert.Equal(t, Bad, pm.PeerIsGood(p))
}

// TestPeerIsGoodReplyAfterRequestBecomesGood models spec.md's S5 scenario: a
// peer with only an outstanding request (no reply yet) is Unknown; once it
// replies, it becomes Good.
func TestPeerIsGoodReplyAfterRequestBecomesGood(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm := newPM(t, clock)
	p := samplePeer(t)

	pm.ReportLastRequested(p.Endpoint())
	assert.Equal(t, Unknown, pm.PeerIsGood(p))

	clock.Advance(time.Second)
	pm.ReportLastReplied(p.Endpoint())
	assert.Equal(t, Good, pm.PeerIsGood(p))
}

func TestBijectionUpdateEvictsStaleHalves(t *testing.T) {
	pm := newPM(t, SystemClock{})
	var idA, idB NodeID
	idA[0], idB[0] = 1, 2
	epX := EndpointKey{Address: [4]byte{1, 1, 1, 1}, UDPPort: 4444}
	epY := EndpointKey{Address: [4]byte{2, 2, 2, 2}, UDPPort: 4444}

	pm.UpdateContactTriple(idA, epX)
	got, ok := pm.EndpointFor(idA)
	require.True(t, ok)
	assert.Equal(t, epX, got)

	// idA moves to epY: the old epX->idA half must be evicted.
	pm.UpdateContactTriple(idA, epY)
	_, ok = pm.NodeIDFor(epX)
	assert.False(t, ok, "stale endpoint->id half should be evicted")
	gotID, ok := pm.NodeIDFor(epY)
	require.True(t, ok)
	assert.Equal(t, idA, gotID)

	// idB claims epY: the old idA<->epY pairing must be evicted both ways.
	pm.UpdateContactTriple(idB, epY)
	_, ok = pm.EndpointFor(idA)
	assert.False(t, ok, "stale id->endpoint half should be evicted")
}

func TestNodeTokenExpires(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	pm := newPM(t, clock)
	var id NodeID
	id[0] = 1

	pm.SetNodeToken(id, []byte("tok"))
	tok, ok := pm.GetNodeToken(id)
	require.True(t, ok)
	assert.Equal(t, []byte("tok"), tok)

	clock.Advance(TokenSecretRefreshInterval * 2)
	_, ok = pm.GetNodeToken(id)
	assert.False(t, ok)
}
