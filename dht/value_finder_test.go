package dht

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterativeValueFinderYieldsFreshPeers(t *testing.T) {
	var self, key NodeID
	self[0] = 0xFF
	key[0] = 0x42

	rt := NewRoutingTable(self, SystemClock{})
	seed := newTestPeer(t, 1)
	rt.AddPeer(seed)

	pm, err := NewPeerManager(SystemClock{}, 64)
	require.NoError(t, err)

	blobAddr, err := NewBlobPeerAddr(net.ParseIP("8.8.8.8"), 3333)
	require.NoError(t, err)
	raw := blobAddr.EncodeCompactTCP()

	probe := func(ctx context.Context, peer PeerInfo, k NodeID, page int) (findReply, error) {
		if peer.Equal(seed) && page == 0 {
			return findReply{HasValue: true, RawTCPPeers: [][]byte{raw}, TotalPages: 1}, nil
		}
		return findReply{}, nil
	}

	finder := NewIterativeValueFinder(self, key, rt, pm, EndpointKey{}, probe, K)
	out, done := finder.Run(context.Background())

	var found []ValueFound
loop:
	for {
		select {
		case v, ok := <-out:
			if !ok {
				break loop
			}
			found = append(found, v)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for value finder")
		}
	}
	<-done

	require.Len(t, found, 1)
	require.Len(t, found[0].Peers, 1)
	assert.Equal(t, blobAddr.TCPPort, found[0].Peers[0].TCPPort)
}

func TestIterativeValueFinderDiscardsMalformedPage(t *testing.T) {
	var self, key NodeID
	self[0] = 0xFF
	key[0] = 0x42

	rt := NewRoutingTable(self, SystemClock{})
	seed := newTestPeer(t, 1)
	rt.AddPeer(seed)

	pm, err := NewPeerManager(SystemClock{}, 64)
	require.NoError(t, err)

	probe := func(ctx context.Context, peer PeerInfo, k NodeID, page int) (findReply, error) {
		if peer.Equal(seed) && page == 0 {
			return findReply{HasValue: true, RawTCPPeers: [][]byte{{1, 2, 3}}, TotalPages: 1}, nil
		}
		return findReply{}, nil
	}

	finder := NewIterativeValueFinder(self, key, rt, pm, EndpointKey{}, probe, K)
	out, done := finder.Run(context.Background())

	var found []ValueFound
	for v := range out {
		found = append(found, v)
	}
	<-done

	assert.Empty(t, found)
	assert.Equal(t, Bad, pm.PeerIsGood(seed)) // the malformed page's report_failure outranks the reply that carried it
}
