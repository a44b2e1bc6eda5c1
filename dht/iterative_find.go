package dht

import (
	"context"
	"sort"
)

// shortlistEntry pairs a candidate peer with its precomputed distance to
// the search key, so the shortlist can be kept sorted without recomputing
// XOR distances on every comparison.
type shortlistEntry struct {
	peer     PeerInfo
	distance NodeID
}

// insertShortlist inserts p into a distance-sorted shortlist (ascending,
// closest-to-key first), skipping it if its triple is already present, and
// truncates the list to maxResults entries afterward (spec.md §4.5:
// "shortlist ... bounded by max(K, caller_max)").
func insertShortlist(list []shortlistEntry, p PeerInfo, key NodeID, maxResults int) []shortlistEntry {
	for _, e := range list {
		if e.peer.Equal(p) {
			return list
		}
	}
	d := Distance(p.NodeID, key)
	i := sort.Search(len(list), func(i int) bool { return !Less(list[i].distance, d) })
	list = append(list, shortlistEntry{})
	copy(list[i+1:], list[i:])
	list[i] = shortlistEntry{peer: p, distance: d}
	if len(list) > maxResults {
		list = list[:maxResults]
	}
	return list
}

// effectiveMaxResults computes max(K, callerMax), spec.md §4.5.
func effectiveMaxResults(callerMax int) int {
	if callerMax > K {
		return callerMax
	}
	return K
}

// probeSlots decides which shortlist entries to probe this round, per
// spec.md §4.5's "Round" rule: skip already-contacted or already-running
// peers, the local node, and the search's own external endpoint; stop once
// alpha probes are already running, or once the candidate's shortlist index
// exceeds K + currently-running probes.
func probeSlots(list []shortlistEntry, contacted map[Key]bool, runningCount, alpha, k int, self NodeID, excludeEndpoint EndpointKey) []PeerInfo {
	var out []PeerInfo
	running := runningCount
	for i, e := range list {
		if running >= alpha {
			break
		}
		if i > k+running {
			break
		}
		if e.peer.NodeID == self {
			continue
		}
		if e.peer.Endpoint() == excludeEndpoint {
			continue
		}
		key := e.peer.TripleKey()
		if contacted[key] {
			continue
		}
		out = append(out, e.peer)
		running++
	}
	return out
}

// probeOutcome is what a single background probe reports back to a
// finder's driver loop.
type probeOutcome struct {
	peer PeerInfo
	err  error
}

// finderProbeFunc issues one find_node or find_value RPC to peer for key,
// requesting the given page (ignored by the node finder). It is supplied by
// the RpcEndpoint so the finder itself stays transport-agnostic.
type finderProbeFunc func(ctx context.Context, peer PeerInfo, key NodeID, page int) (findReply, error)

// findReply is the decoded result of one find_node/find_value probe.
// Node-finder probes populate only Contacts; value-finder probes may also
// populate the value-page fields.
type findReply struct {
	Contacts []PeerInfo

	// Value-finder fields, zero for node-finder probes.
	HasValue      bool
	RawTCPPeers   [][]byte // each a 6-byte compact TCP address
	Token         []byte
	TotalPages    int
}

// containsKey reports whether contacts include key itself, the Node
// finder's early-termination signal (spec.md §4.5.1).
func containsKey(contacts []PeerInfo, key NodeID) bool {
	for _, c := range contacts {
		if c.HasNodeID && c.NodeID == key {
			return true
		}
	}
	return false
}
