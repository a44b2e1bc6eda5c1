package dht

import (
	"github.com/rcrowley/go-metrics"
)

// Metrics are internal counters/timers exposed for operators to wire into
// whatever reporting system they like (spec.md's Non-goals exclude a
// metrics subsystem of its own, but the ambient instrumentation the
// teacher's codebase carries throughout — see p2p/metrics.go — is kept
// here rather than dropped). Nothing in this package reads them back; they
// exist purely as an observation surface.
type Metrics struct {
	RPCsSent      metrics.Counter
	RPCsTimedOut  metrics.Counter
	RPCsFailed    metrics.Counter
	RPCLatency    metrics.Timer
	PeersAdded    metrics.Counter
	PeersEvicted  metrics.Counter
	BucketSplits  metrics.Counter
	BucketMerges  metrics.Counter
	BlobsStored   metrics.Counter
	FindValueHits metrics.Counter
}

// NewMetrics creates a fresh, unregistered metric set. Callers that want
// these exported (e.g. to an expvar or StatsD sink) register them into
// their own metrics.Registry; this package never touches the global
// DefaultRegistry, matching the teacher's practice of keeping p2p metrics
// registry-scoped to the owning Server.
func NewMetrics() *Metrics {
	return &Metrics{
		RPCsSent:      metrics.NewCounter(),
		RPCsTimedOut:  metrics.NewCounter(),
		RPCsFailed:    metrics.NewCounter(),
		RPCLatency:    metrics.NewTimer(),
		PeersAdded:    metrics.NewCounter(),
		PeersEvicted:  metrics.NewCounter(),
		BucketSplits:  metrics.NewCounter(),
		BucketMerges:  metrics.NewCounter(),
		BlobsStored:   metrics.NewCounter(),
		FindValueHits: metrics.NewCounter(),
	}
}

// Register adds every metric in m to registry under a "dht." prefix.
func (m *Metrics) Register(registry metrics.Registry) {
	registry.Register("dht.rpcs_sent", m.RPCsSent)
	registry.Register("dht.rpcs_timed_out", m.RPCsTimedOut)
	registry.Register("dht.rpcs_failed", m.RPCsFailed)
	registry.Register("dht.rpc_latency", m.RPCLatency)
	registry.Register("dht.peers_added", m.PeersAdded)
	registry.Register("dht.peers_evicted", m.PeersEvicted)
	registry.Register("dht.bucket_splits", m.BucketSplits)
	registry.Register("dht.bucket_merges", m.BucketMerges)
	registry.Register("dht.blobs_stored", m.BlobsStored)
	registry.Register("dht.find_value_hits", m.FindValueHits)
}
