package dht

import (
	"math/big"
	"sort"
	"sync"

	"github.com/lbryio/go-dht/internal/glog"
)

var routingTableLog = glog.New("routing_table")

// RoutingTable is the owning node's partition of the ID space into
// k-buckets (spec.md §3, §4.4). Unlike the teacher's fixed 384-slot array
// (indexed by log-distance, never split or merged), buckets here are a
// dynamically sized, ordered slice of contiguous, disjoint distance ranges
// that split on overflow and can be merged back together — see SPEC_FULL.md
// §R1 for why the teacher's shape doesn't fit this spec's requirements.
type RoutingTable struct {
	self NodeID
	k    int
	splitUnder int
	clock      Clock

	mu      sync.Mutex
	buckets []*kBucket // ordered, contiguous, partition [0, 2^HashLength*8)
}

// NewRoutingTable creates a table owned by self with one bucket spanning
// the whole ID space.
func NewRoutingTable(self NodeID, clock Clock) *RoutingTable {
	rt := &RoutingTable{self: self, k: K, splitUnder: SplitBucketsUnderIndex, clock: clock}
	rt.buckets = []*kBucket{newKBucket(big.NewInt(0), idSpaceSize(), clock.Now())}
	return rt
}

// Self returns the owning node's ID.
func (rt *RoutingTable) Self() NodeID { return rt.self }

// bucketIndex returns i such that buckets[i].contains(distance). The
// buckets slice is small (bounded by HashLength*8+1 in the worst case) and
// kept sorted, so linear scan is simpler than bisecting and just as fast in
// practice.
func (rt *RoutingTable) bucketIndex(distance *big.Int) int {
	for i, b := range rt.buckets {
		if b.contains(distance) {
			return i
		}
	}
	// Should be unreachable: buckets always partition the full space.
	return len(rt.buckets) - 1
}

// AddPeer attempts to insert or touch p in its bucket, splitting the bucket
// first if splitting policy allows it (spec.md §4.4). It returns true if p
// ended up in the table, and false if the bucket was full and unsplittable
// — in which case the caller (typically the RPC endpoint or PingQueue)
// should probe the bucket's least-recently-seen peer before retrying.
func (rt *RoutingTable) AddPeer(p PeerInfo) bool {
	if !p.HasNodeID || p.NodeID == rt.self {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.addPeerLocked(p)
}

func (rt *RoutingTable) addPeerLocked(p PeerInfo) bool {
	now := rt.clock.Now()
	distance := Distance(rt.self, p.NodeID).Int()
	idx := rt.bucketIndex(distance)
	b := rt.buckets[idx]

	switch b.addPeer(p, rt.k, now) {
	case addedNew, addedBumped:
		return true
	}

	if rt.shouldSplit(idx, p.NodeID) {
		rt.splitBucket(idx)
		return rt.addPeerLocked(p)
	}

	b.addReplacement(p, ReplacementCacheSize)
	return false
}

// shouldSplit implements spec.md §4.4's splitting policy. Caller holds rt.mu.
func (rt *RoutingTable) shouldSplit(idx int, candidate NodeID) bool {
	if idx < rt.splitUnder {
		return true
	}
	known := rt.allPeersLocked()
	if len(known) < rt.k {
		return true
	}
	sort.Slice(known, func(i, j int) bool {
		return IsCloser(known[i].NodeID, known[j].NodeID, rt.self)
	})
	kth := known[rt.k-1]
	return IsCloser(candidate, kth.NodeID, rt.self)
}

// splitBucket splits buckets[idx] at its midpoint, inserting the upper half
// as a new bucket immediately after it (spec.md §4.4 "split mechanics").
// Caller holds rt.mu.
func (rt *RoutingTable) splitBucket(idx int) {
	b := rt.buckets[idx]
	midpoint := mid(b.rangeMin, b.rangeMax)
	now := rt.clock.Now()

	lower := newKBucket(b.rangeMin, midpoint, now)
	upper := newKBucket(midpoint, b.rangeMax, now)

	for _, p := range b.peers {
		d := Distance(rt.self, p.NodeID).Int()
		if lower.contains(d) {
			lower.peers = append(lower.peers, p)
		} else {
			upper.peers = append(upper.peers, p)
		}
	}
	for _, p := range b.replacements {
		d := Distance(rt.self, p.NodeID).Int()
		if lower.contains(d) {
			lower.addReplacement(p, ReplacementCacheSize)
		} else {
			upper.addReplacement(p, ReplacementCacheSize)
		}
	}

	rt.buckets[idx] = lower
	rt.buckets = append(rt.buckets, nil)
	copy(rt.buckets[idx+2:], rt.buckets[idx+1:])
	rt.buckets[idx+1] = upper

	routingTableLog.V(glog.Detail).Infof("split bucket %d into %d entries / %d entries", idx, len(lower.peers), len(upper.peers))
}

// JoinEmptyBuckets merges every empty bucket into an adjacent neighbor
// using the midpoint split in reverse (or the full neighbor range if only
// one neighbor exists), repeating until no empty bucket remains (spec.md
// §4.4 "join mechanics"). This keeps the table from accumulating an
// unbounded number of empty ranges after a burst of peer churn.
func (rt *RoutingTable) JoinEmptyBuckets() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for {
		idx := -1
		for i, b := range rt.buckets {
			if len(b.peers) == 0 && len(rt.buckets) > 1 {
				idx = i
				break
			}
		}
		if idx == -1 {
			return
		}
		rt.mergeBucket(idx)
	}
}

func (rt *RoutingTable) mergeBucket(idx int) {
	empty := rt.buckets[idx]
	switch {
	case idx > 0 && idx < len(rt.buckets)-1:
		// Split the empty range at its midpoint: the lower half goes to the
		// left neighbor, the upper half to the right neighbor.
		m := mid(empty.rangeMin, empty.rangeMax)
		rt.buckets[idx-1].rangeMax = m
		rt.buckets[idx+1].rangeMin = m
		rt.removeBucketAt(idx)
	case idx > 0:
		rt.buckets[idx-1].rangeMax = empty.rangeMax
		rt.removeBucketAt(idx)
	case idx < len(rt.buckets)-1:
		rt.buckets[idx+1].rangeMin = empty.rangeMin
		rt.removeBucketAt(idx)
	}
}

func (rt *RoutingTable) removeBucketAt(idx int) {
	rt.buckets = append(rt.buckets[:idx], rt.buckets[idx+1:]...)
}

func (rt *RoutingTable) allPeersLocked() []PeerInfo {
	var out []PeerInfo
	for _, b := range rt.buckets {
		out = append(out, b.peers...)
	}
	return out
}

// AllPeers returns every peer currently held in the table.
func (rt *RoutingTable) AllPeers() []PeerInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.allPeersLocked()
}

// Len returns the total number of peers held across all buckets.
func (rt *RoutingTable) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for _, b := range rt.buckets {
		n += len(b.peers)
	}
	return n
}

// BucketCount returns the current number of buckets, mostly useful for
// tests asserting split/join behavior.
func (rt *RoutingTable) BucketCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.buckets)
}

// RemovePeer deletes p from whichever bucket currently holds it.
func (rt *RoutingTable) RemovePeer(p PeerInfo) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !p.HasNodeID {
		return false
	}
	d := Distance(rt.self, p.NodeID).Int()
	b := rt.buckets[rt.bucketIndex(d)]
	return b.removePeer(p)
}

// FindClosePeers returns up to min(count, K) peers known to the table,
// closest-first to key, excluding the owning node and (if non-nil)
// excludeSender (spec.md §4.4).
func (rt *RoutingTable) FindClosePeers(key NodeID, count int, excludeSender *NodeID) []PeerInfo {
	rt.mu.Lock()
	peers := rt.allPeersLocked()
	rt.mu.Unlock()

	out := peers[:0:0]
	for _, p := range peers {
		if p.NodeID == rt.self {
			continue
		}
		if excludeSender != nil && p.NodeID == *excludeSender {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return IsCloser(out[i].NodeID, out[j].NodeID, key)
	})
	if count > rt.k {
		count = rt.k
	}
	if count > len(out) {
		count = len(out)
	}
	return out[:count]
}

// GetRefreshList returns a synthetic ID at the midpoint of every bucket
// whose last-accessed time is older than RefreshInterval, or every bucket
// if force is true (spec.md §4.4).
func (rt *RoutingTable) GetRefreshList(force bool) []NodeID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	now := rt.clock.Now()
	var ids []NodeID
	for _, b := range rt.buckets {
		if force || now.Sub(b.lastAccessed) > RefreshInterval {
			ids = append(ids, NodeIDFromInt(mid(b.rangeMin, b.rangeMax)))
		}
	}
	return ids
}

// TouchBucket marks the bucket containing distance-to-key as recently
// accessed without modifying its contents. Nothing in this package calls
// it; bucket access times otherwise change only when a peer is added or
// touched there.
func (rt *RoutingTable) TouchBucket(key NodeID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	d := Distance(rt.self, key).Int()
	rt.buckets[rt.bucketIndex(d)].lastAccessed = rt.clock.Now()
}

// ReplacementFor returns the best replacement candidate for the bucket that
// would hold key, if any is queued.
func (rt *RoutingTable) ReplacementFor(key NodeID) (PeerInfo, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	d := Distance(rt.self, key).Int()
	b := rt.buckets[rt.bucketIndex(d)]
	return b.popReplacement()
}
