package dht

import (
	"context"
	"sync"

	"github.com/lbryio/go-dht/internal/glog"
)

var valueFinderLog = glog.New("value_finder")

// ValueFound is one batch of newly discovered blob-serving peers, delivered
// to the caller as soon as a probe's reply is folded in (spec.md §4.5.2).
type ValueFound struct {
	Peers []BlobPeerAddr
}

// IterativeValueFinder drives the iterative find_value lookup spec.md
// §4.5.2 describes. It behaves like IterativeNodeFinder's contact-discovery
// half (to keep converging on closer nodes) but additionally tracks, per
// peer, which result page to request next, and never terminates early on
// finding a value — a find_value search runs to exhaustion (or
// cancellation) because later, closer peers may hold additional pages or
// additional values.
type IterativeValueFinder struct {
	self  NodeID
	key   NodeID
	rt    *RoutingTable
	pm    *PeerManager
	probe finderProbeFunc
	ownEP EndpointKey
	maxPeers int

	mu       sync.Mutex
	peerPage map[Key]int
	seen     map[[compactTCPLen]byte]bool
}

// NewIterativeValueFinder seeds a value finder from rt's current closest
// peers to key.
func NewIterativeValueFinder(self, key NodeID, rt *RoutingTable, pm *PeerManager, ownEP EndpointKey, probe finderProbeFunc, maxResults int) *IterativeValueFinder {
	return &IterativeValueFinder{
		self:     self,
		key:      key,
		rt:       rt,
		pm:       pm,
		probe:    probe,
		ownEP:    ownEP,
		maxPeers: effectiveMaxResults(maxResults),
		peerPage: make(map[Key]int),
		seen:     make(map[[compactTCPLen]byte]bool),
	}
}

// Run starts the search in the background and returns two channels: the
// first streams each batch of newly discovered blob peers as it's found and
// is closed when the search ends; the second is closed once the search has
// run to exhaustion or cancellation.
func (f *IterativeValueFinder) Run(ctx context.Context) (<-chan ValueFound, <-chan struct{}) {
	out := make(chan ValueFound, 8)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer close(done)
		f.drive(ctx, out)
	}()
	return out, done
}

func (f *IterativeValueFinder) drive(ctx context.Context, out chan<- ValueFound) {
	key := f.key
	shortlist := insertShortlistAll(nil, f.rt.FindClosePeers(key, f.maxPeers, nil), key, f.maxPeers)
	contacted := make(map[Key]bool)

	outcomes := make(chan struct {
		peer  PeerInfo
		reply findReply
		err   error
	})
	running := 0

	for {
		toProbe := probeSlots(shortlist, contacted, running, Alpha, K, f.self, f.ownEP)
		for _, p := range toProbe {
			contacted[p.TripleKey()] = true
		}

		if len(toProbe) == 0 && running == 0 {
			return
		}

		for _, p := range toProbe {
			running++
			go func(p PeerInfo) {
				pctx, cancel := context.WithTimeout(ctx, RPCTimeout)
				defer cancel()
				f.mu.Lock()
				page := f.peerPage[p.TripleKey()]
				f.mu.Unlock()
				reply, err := f.probe(pctx, p, key, page)
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
			return
		case o := <-outcomes:
			running--
			if o.err != nil {
				f.pm.ReportFailure(o.peer.Endpoint())
				valueFinderLog.V(glog.Detail).Infof("find_value probe of %v failed: %v", o.peer.Endpoint(), o.err)
				continue
			}
			f.pm.ReportLastReplied(o.peer.Endpoint())
			for _, c := range o.reply.Contacts {
				shortlist = insertShortlist(shortlist, c, key, f.maxPeers)
			}
			if o.reply.HasValue {
				f.handleValuePage(o.peer, o.reply, contacted, out)
			}
		}
	}
}

// handleValuePage decodes one page of blob-serving peers, skipping
// malformed entries' whole reply (reporting a failure against the sender
// rather than terminating the search) and deduping against previously seen
// addresses, then requeues the peer for its next page if the reply was full
// and the peer claims more pages remain (spec.md §4.5.2).
func (f *IterativeValueFinder) handleValuePage(peer PeerInfo, reply findReply, contacted map[Key]bool, out chan<- ValueFound) {
	var fresh []BlobPeerAddr
	for _, raw := range reply.RawTCPPeers {
		ip, port, err := DecodeCompactTCP(raw)
		if err != nil {
			f.pm.ReportFailure(peer.Endpoint())
			valueFinderLog.V(glog.Detail).Infof("discarding find_value page from %v: %v", peer.Endpoint(), err)
			return
		}
		addr, err := NewBlobPeerAddr(ip, port)
		if err != nil {
			f.pm.ReportFailure(peer.Endpoint())
			valueFinderLog.V(glog.Detail).Infof("discarding find_value page from %v: %v", peer.Endpoint(), err)
			return
		}

		var key [compactTCPLen]byte
		copy(key[:], raw)
		f.mu.Lock()
		dup := f.seen[key]
		if !dup {
			f.seen[key] = true
		}
		f.mu.Unlock()
		if dup {
			valueFinderLog.V(glog.Detail).Infof("skipping duplicate blob peer %v:%d", addr.IP(), addr.TCPPort)
			continue
		}
		fresh = append(fresh, addr)
	}

	if len(fresh) > 0 {
		out <- ValueFound{Peers: fresh}
	}

	f.mu.Lock()
	page := f.peerPage[peer.TripleKey()]
	more := len(reply.RawTCPPeers) >= K && page+1 < reply.TotalPages
	if more {
		f.peerPage[peer.TripleKey()]++
	}
	f.mu.Unlock()
	if more {
		delete(contacted, peer.TripleKey())
	}
}
