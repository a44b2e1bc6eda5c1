package dht

import (
	"context"
	"sync"

	"github.com/lbryio/go-dht/internal/glog"
)

var crawlLog = glog.New("crawl")

// CrawlResult is one discovered peer and whether it answered a direct
// find_node probe, returned by Node.Crawl.
type CrawlResult struct {
	Peer  PeerInfo
	Alive bool
}

// Crawl performs a read-only breadth-first traversal of the network
// starting from the node's own routing table, for diagnostics and network
// health dashboards (supplementing spec.md's core with a feature the
// original lbry-sdk project exposes as a standalone crawler tool operating
// over the same iterative find_node primitive). It never mutates the
// routing table or data store; the only peer-manager change is the
// last-sent timestamp each outgoing find_node request records. maxPeers
// bounds how many distinct peers are visited before the crawl stops.
func (n *Node) Crawl(ctx context.Context, maxPeers int) []CrawlResult {
	visited := make(map[Key]bool)
	var mu sync.Mutex
	var results []CrawlResult

	frontier := n.rt.AllPeers()
	for len(frontier) > 0 && len(visited) < maxPeers {
		var next []PeerInfo
		var wg sync.WaitGroup
		sem := make(chan struct{}, Alpha)

		for _, p := range frontier {
			mu.Lock()
			if visited[p.TripleKey()] || len(visited) >= maxPeers {
				mu.Unlock()
				continue
			}
			visited[p.TripleKey()] = true
			mu.Unlock()

			wg.Add(1)
			sem <- struct{}{}
			go func(p PeerInfo) {
				defer wg.Done()
				defer func() { <-sem }()

				pctx, cancel := context.WithTimeout(ctx, RPCTimeout)
				defer cancel()
				reply, err := n.rpc.FindNode(pctx, p, n.self, 0)

				mu.Lock()
				results = append(results, CrawlResult{Peer: p, Alive: err == nil})
				if err == nil {
					next = append(next, reply.Contacts...)
				}
				mu.Unlock()

				if err != nil {
					crawlLog.V(glog.Detail).Infof("crawl: %v unreachable: %v", p.Endpoint(), err)
				}
			}(p)
		}
		wg.Wait()
		frontier = next
	}

	return results
}
