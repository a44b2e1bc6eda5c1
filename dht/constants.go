// Package dht implements the Kademlia-based distributed hash table used to
// locate peers serving content-addressed blobs: a routing table of k-buckets,
// an iterative FIND_NODE/FIND_VALUE lookup engine, an RPC peer-reputation
// tracker, an announce/value datastore, and the bencode wire protocol that
// binds them to UDP. The package follows the shape of the teacher's
// p2p/discover package (a Kademlia node-discovery table over UDP) generalized
// to splittable/joinable buckets and dual-purpose iterative lookups.
package dht

import "time"

// HashLength is the width of a NodeID / blob hash in bytes (SHA-384 output).
// It sizes the NodeID array type and so, unlike the tunables below, cannot be
// a runtime variable.
const HashLength = 48

// Normative protocol constants, spec.md §6.1. These are declared as vars (not
// untyped consts) so tests can override them the way the teacher's table.go
// constants would need to be package vars to be tunable per-Table.
var (
	// K is the maximum number of peers held in one k-bucket, and the
	// default number of results returned by a lookup.
	K = 8

	// Alpha is the maximum number of concurrent RPC probes per iterative
	// lookup.
	Alpha = 5

	// SplitBucketsUnderIndex forces unconditional splitting of buckets
	// below this index, guaranteeing the local neighborhood resolves to
	// single-peer granularity.
	SplitBucketsUnderIndex = 1

	// ReplacementCacheSize bounds the per-bucket replacement list (peers
	// held in reserve when a bucket is full but unsplittable).
	ReplacementCacheSize = 8

	// RPCTimeout is the deadline for an outstanding request/response pair.
	RPCTimeout = 5 * time.Second

	// RPCAttemptsPruningWindow is the retention window for RPC failure
	// records. PeerManager does not consult it: failure records leave its
	// cache only under LRU pressure.
	RPCAttemptsPruningWindow = 600 * time.Second

	// RefreshInterval is the period of the routing-table refresh loop.
	RefreshInterval = time.Hour

	// CheckRefreshInterval is the "recent enough" window used by
	// peer_is_good (REFRESH_INTERVAL/5).
	CheckRefreshInterval = RefreshInterval / 5

	// DataExpiration is the TTL of an announce-store entry.
	DataExpiration = 24 * time.Hour

	// TokenSecretRefreshInterval is the rotation period of the token
	// secret used to authorize store() calls.
	TokenSecretRefreshInterval = 300 * time.Second

	// MaybePingDelay is the minimum spacing between ping-queue probes of
	// the same endpoint.
	MaybePingDelay = 300 * time.Second

	// RPCIDLength is the width in bytes of a request correlation ID.
	RPCIDLength = 20

	// ProtocolVersion is sent in every request's sender_args.
	ProtocolVersion = 1

	// MsgSizeLimit is the maximum size in bytes of one UDP datagram.
	MsgSizeLimit = 1400

	// PeerCacheSize bounds each of PeerManager's LRU caches and the
	// PeerInfo interning cache (spec.md §3: "default 16384 keys each").
	PeerCacheSize = 16384

	// BootstrapRetryInterval is how long to wait before re-resolving a
	// bootstrap hostname that failed to resolve (spec.md §6.3).
	BootstrapRetryInterval = 30 * time.Second
)

// PortHeuristic infers a peer's TCP port from its UDP port when the peer
// has advertised only UDP. spec.md §9 documents a legacy-network heuristic
// and explicitly asks implementers to parameterize rather than bake it in.
type PortHeuristic func(udpPort int) (tcpPort int, ok bool)

// LegacyPortHeuristic implements the documented best-effort rule
// udp_port = tcp_port - 3333 + 4444 (for 3333 < tcp_port < 3400), solved
// for the TCP port: tcp_port = udp_port - 4444 + 3333, valid only for
// 4444 < udp_port < 4511.
func LegacyPortHeuristic(udpPort int) (int, bool) {
	if udpPort > 4444 && udpPort < 4511 {
		return udpPort - 4444 + 3333, true
	}
	return 0, false
}
