package dht

import (
	"context"
	"sync"
	"time"

	"github.com/lbryio/go-dht/internal/glog"
)

var pingQueueLog = glog.New("ping_queue")

// Pinger sends a ping RPC to a peer, returning an error on timeout,
// transport failure, or a remote error tuple.
type Pinger func(ctx context.Context, p PeerInfo) error

// PingQueue is the background scheduler that verifies whether a marginal
// peer is reachable before it is trusted enough to enter the routing table
// (spec.md §4.7). Entries are deduplicated by endpoint with a minimum
// spacing of MaybePingDelay between pings to the same endpoint.
type PingQueue struct {
	clock  Clock
	pm     *PeerManager
	pinger Pinger

	mu         sync.Mutex
	lastPinged map[EndpointKey]time.Time

	queue chan PeerInfo
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewPingQueue creates a PingQueue. capacity bounds how many pending probes
// may be queued; once it is reached, Enqueue drops each new probe.
func NewPingQueue(clock Clock, pm *PeerManager, pinger Pinger, capacity int) *PingQueue {
	return &PingQueue{
		clock:      clock,
		pm:         pm,
		pinger:     pinger,
		lastPinged: make(map[EndpointKey]time.Time),
		queue:      make(chan PeerInfo, capacity),
		done:       make(chan struct{}),
	}
}

// Enqueue schedules p for a background ping, unless p's endpoint was pinged
// more recently than MaybePingDelay ago, or the queue is saturated (in
// which case the probe is silently dropped — a future observation of the
// same marginal peer will re-enqueue it).
func (q *PingQueue) Enqueue(p PeerInfo) {
	q.mu.Lock()
	last, seen := q.lastPinged[p.Endpoint()]
	now := q.clock.Now()
	if seen && now.Sub(last) < MaybePingDelay {
		q.mu.Unlock()
		return
	}
	q.lastPinged[p.Endpoint()] = now
	q.mu.Unlock()

	select {
	case q.queue <- p:
	default:
		q.mu.Lock()
		delete(q.lastPinged, p.Endpoint())
		q.mu.Unlock()
		pingQueueLog.V(glog.Detail).Infof("ping queue saturated, dropping probe for %v", p.Endpoint())
	}
}

// Run processes queued probes until ctx is canceled or Stop is called. It
// is meant to be started once in its own goroutine by the owning Node.
func (q *PingQueue) Run(ctx context.Context) {
	q.wg.Add(1)
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case p := <-q.queue:
			q.probe(ctx, p)
		}
	}
}

func (q *PingQueue) probe(ctx context.Context, p PeerInfo) {
	pctx, cancel := context.WithTimeout(ctx, RPCTimeout)
	defer cancel()

	if err := q.pinger(pctx, p); err != nil {
		if p.HasNodeID {
			q.pm.ReportFailure(p.Endpoint())
		}
		pingQueueLog.V(glog.Detail).Infof("marginal peer %v failed ping: %v", p.Endpoint(), err)
		return
	}
	q.pm.ReportLastReplied(p.Endpoint())
	pingQueueLog.V(glog.Detail).Infof("marginal peer %v answered ping", p.Endpoint())
}

// Stop halts Run and waits for it to return.
func (q *PingQueue) Stop() {
	close(q.done)
	q.wg.Wait()
}
