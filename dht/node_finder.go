package dht

import (
	"context"
	"sync"

	"github.com/lbryio/go-dht/internal/glog"
)

var nodeFinderLog = glog.New("node_finder")

// IterativeNodeFinder drives the iterative find_node lookup spec.md §4.5.1
// describes: repeatedly probe the alpha closest not-yet-contacted peers from
// a shortlist, fold each reply's contacts back into the shortlist, and
// terminate either when the target id itself turns up as a contact or when
// the shortlist is exhausted.
type IterativeNodeFinder struct {
	self     NodeID
	key      NodeID
	rt       *RoutingTable
	pm       *PeerManager
	probe    finderProbeFunc
	ownEP    EndpointKey
	maxPeers int

	results chan []PeerInfo
}

// NewIterativeNodeFinder seeds a node finder from rt's current closest peers
// to key and returns it ready to Run.
func NewIterativeNodeFinder(self, key NodeID, rt *RoutingTable, pm *PeerManager, ownEP EndpointKey, probe finderProbeFunc, maxResults int) *IterativeNodeFinder {
	return &IterativeNodeFinder{
		self:     self,
		key:      key,
		rt:       rt,
		pm:       pm,
		probe:    probe,
		ownEP:    ownEP,
		maxPeers: effectiveMaxResults(maxResults),
		results:  make(chan []PeerInfo, 1),
	}
}

// Run executes the lookup to completion (or until ctx is canceled) and
// returns the final active set: every contacted peer the caller's
// PeerManager currently classifies as Good, closest-first. Run is meant to
// be called once; it blocks until the search concludes.
func (f *IterativeNodeFinder) Run(ctx context.Context) []PeerInfo {
	key := f.key
	shortlist := insertShortlistAll(nil, f.rt.FindClosePeers(key, f.maxPeers, nil), key, f.maxPeers)

	contacted := make(map[Key]bool)
	var mu sync.Mutex
	outcomes := make(chan struct {
		peer  PeerInfo
		reply findReply
		err   error
	})
	running := 0
	terminated := false

	for {
		if terminated {
			break
		}

		mu.Lock()
		toProbe := probeSlots(shortlist, contacted, running, Alpha, f.k(), f.self, f.ownEP)
		for _, p := range toProbe {
			contacted[p.TripleKey()] = true
		}
		mu.Unlock()

		if len(toProbe) == 0 && running == 0 {
			break
		}

		for _, p := range toProbe {
			running++
			go func(p PeerInfo) {
				pctx, cancel := context.WithTimeout(ctx, RPCTimeout)
				defer cancel()
				reply, err := f.probe(pctx, p, key, 0)
				select {
				case outcomes <- struct {
					peer  PeerInfo
					reply findReply
					err   error
				}{p, reply, err}:
				case <-ctx.Done():
				}
			}(p)
		}

		select {
		case <-ctx.Done():
			terminated = true
		case o := <-outcomes:
			running--
			if o.err != nil {
				f.pm.ReportFailure(o.peer.Endpoint())
				nodeFinderLog.V(glog.Detail).Infof("find_node probe of %v failed: %v", o.peer.Endpoint(), o.err)
				break
			}
			f.pm.ReportLastReplied(o.peer.Endpoint())
			for _, c := range o.reply.Contacts {
				shortlist = insertShortlist(shortlist, c, key, f.maxPeers)
			}
			if containsKey(o.reply.Contacts, key) {
				terminated = true
			}
		}
	}

	return f.activeSet(shortlist, contacted)
}

func (f *IterativeNodeFinder) k() int { return K }

// activeSet returns every contacted shortlist entry the PeerManager
// currently classifies as Good, in ascending distance order (already the
// shortlist's order).
func (f *IterativeNodeFinder) activeSet(shortlist []shortlistEntry, contacted map[Key]bool) []PeerInfo {
	var out []PeerInfo
	for _, e := range shortlist {
		if !contacted[e.peer.TripleKey()] {
			continue
		}
		if f.pm.PeerIsGood(e.peer) != Good {
			continue
		}
		out = append(out, e.peer)
	}
	return out
}

// insertShortlistAll folds a batch of peers into a shortlist in one call,
// used for the initial seed from the routing table.
func insertShortlistAll(list []shortlistEntry, peers []PeerInfo, key NodeID, maxResults int) []shortlistEntry {
	for _, p := range peers {
		list = insertShortlist(list, p, key, maxResults)
	}
	return list
}
