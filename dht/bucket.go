package dht

import (
	"math/big"
	"time"
)

// addOutcome reports what KBucket.AddPeer did.
type addOutcome int

const (
	addedNew addOutcome = iota
	addedBumped
	addedFull
)

// kBucket holds up to K peers whose distance-to-owner falls in the
// half-open range [rangeMin, rangeMax). Peers are ordered
// least-recently-seen first; touching a peer (on any successful contact)
// moves it to the tail (spec.md §3, §4.4). Grounded on the teacher's
// bucket struct in p2p/discover/table.go, generalized from a fixed
// log-distance slot to an explicit, splittable distance range.
type kBucket struct {
	rangeMin, rangeMax *big.Int
	peers              []PeerInfo // least-recently-seen first
	replacements       []PeerInfo
	lastAccessed       time.Time
}

func newKBucket(lo, hi *big.Int, now time.Time) *kBucket {
	return &kBucket{rangeMin: lo, rangeMax: hi, lastAccessed: now}
}

// contains reports whether distance falls in [rangeMin, rangeMax).
func (b *kBucket) contains(distance *big.Int) bool {
	return distance.Cmp(b.rangeMin) >= 0 && distance.Cmp(b.rangeMax) < 0
}

func (b *kBucket) indexOf(p PeerInfo) int {
	for i := range b.peers {
		if b.peers[i].Equal(p) || (p.HasNodeID && b.peers[i].HasNodeID && b.peers[i].NodeID == p.NodeID) {
			return i
		}
	}
	return -1
}

// addPeer implements KBucket.add_peer(p) from spec.md §4.4: if p (by triple
// or by node_id) is already present, it's removed and re-appended at the
// tail (a touch); otherwise it's appended if there's room; otherwise the
// bucket is left unchanged and addedFull is reported so the caller can
// decide whether to split or queue a replacement probe.
func (b *kBucket) addPeer(p PeerInfo, k int, now time.Time) addOutcome {
	b.lastAccessed = now
	if i := b.indexOf(p); i >= 0 {
		b.peers = append(b.peers[:i], b.peers[i+1:]...)
		b.peers = append(b.peers, p)
		return addedBumped
	}
	if len(b.peers) < k {
		b.peers = append(b.peers, p)
		return addedNew
	}
	return addedFull
}

// removePeer drops p from the bucket if present, reporting whether it was
// found.
func (b *kBucket) removePeer(p PeerInfo) bool {
	if i := b.indexOf(p); i >= 0 {
		b.peers = append(b.peers[:i], b.peers[i+1:]...)
		return true
	}
	return false
}

// addReplacement appends p to the bounded replacement list, evicting the
// oldest entry if necessary, unless p is already present.
func (b *kBucket) addReplacement(p PeerInfo, limit int) {
	for _, r := range b.replacements {
		if r.Equal(p) {
			return
		}
	}
	b.replacements = append(b.replacements, p)
	if len(b.replacements) > limit {
		b.replacements = b.replacements[len(b.replacements)-limit:]
	}
}

// popReplacement removes and returns the most recently seen replacement
// candidate, if any.
func (b *kBucket) popReplacement() (PeerInfo, bool) {
	if len(b.replacements) == 0 {
		return PeerInfo{}, false
	}
	p := b.replacements[len(b.replacements)-1]
	b.replacements = b.replacements[:len(b.replacements)-1]
	return p, true
}

// mid computes hi - (hi-lo)/2, the split point spec.md §4.4 specifies.
func mid(lo, hi *big.Int) *big.Int {
	span := new(big.Int).Sub(hi, lo)
	half := new(big.Int).Rsh(span, 1)
	return new(big.Int).Sub(hi, half)
}
