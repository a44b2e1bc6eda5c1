package dht

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/lbryio/go-dht/dht/natutil"
	"github.com/lbryio/go-dht/internal/glog"
)

var nodeLog = glog.New("node")

// NodeConfig configures a Node at construction time.
type NodeConfig struct {
	ListenAddr      *net.UDPAddr
	ExternalIP      net.IP // required unless NAT is non-nil
	ExternalTCPPort int
	BootstrapHosts  []BootstrapHost
	SeedStore       SeedStore // optional, spec.md §6.2
	NAT             natutil.Interface
	Clock           Clock // defaults to SystemClock{}
}

// Node is the composition root: it owns the routing table, data store, peer
// manager, RPC endpoint, ping queue, and token authority, and drives the
// join/refresh/announce lifecycle spec.md §4.8 describes. Grounded on the
// teacher's p2p.Server, which plays the identical composition-root role for
// go-ethereum's own discovery table, dial scheduler, and peer set.
type Node struct {
	self  NodeID
	clock Clock

	rt        *RoutingTable
	pm        *PeerManager
	ds        *DataStore
	cache     *PeerCache
	rpc       *RpcEndpoint
	pingQueue *PingQueue
	tokens    *TokenAuthority

	externalIP      net.IP
	externalTCPPort int
	nat             natutil.Interface
	seedStore       SeedStore
	bootstrapHosts  []BootstrapHost
	metrics         *Metrics

	mu     sync.Mutex
	joined bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode constructs a Node with a freshly generated identity and binds its
// UDP socket, but does not yet join the network — call Join for that.
func NewNode(cfg NodeConfig) (*Node, error) {
	self, err := GenerateNodeID()
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	pm, err := NewPeerManager(clock, PeerCacheSize)
	if err != nil {
		return nil, err
	}
	cache, err := NewPeerCache(PeerCacheSize)
	if err != nil {
		return nil, err
	}
	tokens, err := NewTokenAuthority(clock)
	if err != nil {
		return nil, err
	}

	rpc, err := NewRpcEndpoint(cfg.ListenAddr, self, pm, cache, clock)
	if err != nil {
		return nil, err
	}

	externalIP := cfg.ExternalIP
	if externalIP == nil && cfg.NAT != nil {
		if ip, err := cfg.NAT.ExternalIP(); err == nil {
			externalIP = ip
		}
	}
	if externalIP == nil {
		rpc.Close()
		return nil, fmt.Errorf("%w", ErrNoUsableExternalIP)
	}

	n := &Node{
		self:            self,
		clock:           clock,
		rt:              NewRoutingTable(self, clock),
		pm:              pm,
		ds:              NewDataStore(clock, pm),
		cache:           cache,
		rpc:             rpc,
		tokens:          tokens,
		externalIP:      externalIP,
		externalTCPPort: cfg.ExternalTCPPort,
		nat:             cfg.NAT,
		seedStore:       cfg.SeedStore,
		bootstrapHosts:  cfg.BootstrapHosts,
		metrics:         NewMetrics(),
	}
	n.pingQueue = NewPingQueue(clock, pm, n.pingPeer, PeerCacheSize)
	n.registerHandlers()
	return n, nil
}

// ID returns the node's own identifier.
func (n *Node) ID() NodeID { return n.self }

// Metrics returns the node's internal counter set, for operators who want
// to register it into their own reporting registry.
func (n *Node) Metrics() *Metrics { return n.metrics }

// LocalAddr returns the bound UDP address.
func (n *Node) LocalAddr() *net.UDPAddr { return n.rpc.LocalAddr() }

func (n *Node) registerHandlers() {
	n.rpc.Handle(methodPing, n.handlePing)
	n.rpc.Handle(methodStore, n.handleStore)
	n.rpc.Handle(methodFindNode, n.handleFindNode)
	n.rpc.Handle(methodFindValue, n.handleFindValue)
}

// observeSender implements spec.md §4.6's inbound handling rule: add a
// currently-Good sender straight to the routing table; otherwise queue it
// for a verifying ping rather than letting it pollute the table.
func (n *Node) observeSender(sender PeerInfo) {
	if !sender.HasNodeID {
		return
	}
	sender = n.cache.Intern(sender)
	n.pm.UpdateContactTriple(sender.NodeID, sender.Endpoint())
	if n.pm.PeerIsGood(sender) == Good {
		n.rt.AddPeer(sender)
	} else {
		n.pingQueue.Enqueue(sender)
	}
}

func (n *Node) handlePing(from PeerInfo, args []interface{}, senderArgs map[string]interface{}) (interface{}, error) {
	n.observeSender(from)
	return []byte("pong"), nil
}

func (n *Node) handleFindNode(from PeerInfo, args []interface{}, senderArgs map[string]interface{}) (interface{}, error) {
	n.observeSender(from)
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: findNode takes exactly one argument", ErrValidation)
	}
	keyBytes, ok := asBytesValue(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: findNode key is not a byte string", ErrValidation)
	}
	key, err := NodeIDFromBytes(keyBytes)
	if err != nil {
		return nil, err
	}
	var sender *NodeID
	if from.HasNodeID {
		sender = &from.NodeID
	}
	peers := n.rt.FindClosePeers(key, K, sender)
	return encodeCompactUDPList(peers), nil
}

func (n *Node) handleFindValue(from PeerInfo, args []interface{}, senderArgs map[string]interface{}) (interface{}, error) {
	n.observeSender(from)
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("%w: findValue takes one or two arguments", ErrValidation)
	}
	keyBytes, ok := asBytesValue(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: findValue key is not a byte string", ErrValidation)
	}
	key, err := NodeIDFromBytes(keyBytes)
	if err != nil {
		return nil, err
	}
	page := 0
	if len(args) == 2 {
		if p, ok := asIntValue(args[1]); ok {
			page = int(p)
		}
	}

	var sender *NodeID
	if from.HasNodeID {
		sender = &from.NodeID
	}
	result := map[string]interface{}{
		"contacts":        encodeCompactUDPList(n.rt.FindClosePeers(key, K, sender)),
		"token":           n.tokens.Issue(from.Address),
		"protocolVersion": int64(ProtocolVersion),
	}

	count := n.ds.Count(key)
	if count > 0 {
		n.metrics.FindValueHits.Inc(1)
	} else {
		result["p"] = int64(0)
		return result, nil
	}

	// Pagination matches the spec's normative S4 property: p =
	// ceil(count/(K+1))+1, a quirk of the source implementation kept for
	// wire compatibility.
	pages := int(math.Ceil(float64(count)/float64(K+1))) + 1
	result["p"] = int64(pages)
	if page < pages {
		entries := n.ds.PeersPage(key, page*K, K)
		raw := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			if e.TCPPort == 0 {
				continue
			}
			raw = append(raw, EncodeCompactTCPOf(e))
		}
		result[string(key.Bytes())] = raw
	}
	return result, nil
}

func (n *Node) handleStore(from PeerInfo, args []interface{}, senderArgs map[string]interface{}) (interface{}, error) {
	n.observeSender(from)
	if len(args) != 6 {
		return nil, fmt.Errorf("%w: store takes exactly six arguments", ErrValidation)
	}
	blobHashBytes, ok1 := asBytesValue(args[0])
	token, ok2 := asBytesValue(args[1])
	tcpPort, ok3 := asIntValue(args[2])
	publisherBytes, ok4 := asBytesValue(args[3])
	_, ok5 := asIntValue(args[4]) // age, informational only
	_, ok6 := asIntValue(args[5]) // peer_port, informational only
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return nil, fmt.Errorf("%w: malformed store arguments", ErrValidation)
	}

	if !n.tokens.Validate(from.Address, token) {
		return nil, &RemoteError{Class: "InvalidToken", Message: "token is invalid or expired"}
	}

	blobHash, err := NodeIDFromBytes(blobHashBytes)
	if err != nil {
		return nil, err
	}
	publisherID, err := NodeIDFromBytes(publisherBytes)
	if err != nil {
		return nil, err
	}

	storingPeer := from
	storingPeer.TCPPort = int(tcpPort)
	if !storingPeer.HasNodeID {
		storingPeer.NodeID = publisherID
		storingPeer.HasNodeID = true
	}
	n.ds.AddPeerToBlob(blobHash, storingPeer)
	n.metrics.BlobsStored.Inc(1)
	return []byte("OK"), nil
}

func (n *Node) pingPeer(ctx context.Context, p PeerInfo) error {
	return n.rpc.Ping(ctx, p)
}

// Join binds the node into the network (spec.md §4.8): it starts the ping
// queue and refresh loop, seeds a shortlist from the seed store or
// bootstrap hosts, and runs an initial peer_search for its own ID.
func (n *Node) Join(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	if n.nat != nil {
		if err := n.nat.AddMapping("go-dht", n.LocalAddr().Port, 0); err != nil {
			nodeLog.V(glog.Detail).Infof("nat port mapping failed: %v", err)
		}
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.rpc.Serve(ctx)
	}()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.pingQueue.Run(ctx)
	}()

	seeds := n.loadSeeds()
	for _, s := range seeds {
		if s.HasNodeID {
			n.rt.AddPeer(s)
		}
	}

	n.peerSearchSeeded(ctx, n.self, K, 32, seeds)
	n.setJoined(n.rt.Len() > 0)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.refreshLoop(ctx)
	}()
	return nil
}

func (n *Node) loadSeeds() []PeerInfo {
	if n.seedStore != nil {
		if peers, err := n.seedStore.GetPersistedPeers(); err == nil && len(peers) > 0 {
			return peers
		}
	}
	var seeds []PeerInfo
	for _, h := range n.bootstrapHosts {
		resolved, err := h.resolve()
		if err != nil {
			nodeLog.V(glog.Detail).Infof("bootstrap resolution failed, will retry: %v", err)
			n.scheduleBootstrapRetry(h)
			continue
		}
		seeds = append(seeds, resolved...)
	}
	return seeds
}

func (n *Node) scheduleBootstrapRetry(h BootstrapHost) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		time.Sleep(BootstrapRetryInterval)
		if resolved, err := h.resolve(); err == nil {
			for _, s := range resolved {
				n.rt.AddPeer(s)
			}
		}
	}()
}

func (n *Node) setJoined(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joined = v
}

// Joined reports whether the routing table currently holds at least one
// peer (spec.md §4.8's "joined" event).
func (n *Node) Joined() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.joined
}

// PeerSearch implements peer_search(key, count, max_results): run an
// IterativeNodeFinder seeded from the routing table, drain it to
// completion, sort by distance to key, and return the closest count peers.
func (n *Node) PeerSearch(ctx context.Context, key NodeID, count, maxResults int) []PeerInfo {
	return n.peerSearchSeeded(ctx, key, count, maxResults, nil)
}

func (n *Node) peerSearchSeeded(ctx context.Context, key NodeID, count, maxResults int, extraSeeds []PeerInfo) []PeerInfo {
	finder := NewIterativeNodeFinder(n.self, key, n.rt, n.pm, n.ownEndpoint(), n.rpc.FindNode, maxResults)
	for _, s := range extraSeeds {
		if !s.HasNodeID {
			// Bootstrap seeds without a known node_id are probed directly
			// so their node_ids can be learned (spec.md §4.5
			// "Initialization").
			if reply, err := n.rpc.FindNode(ctx, s, key, 0); err == nil {
				_ = reply
			}
		}
	}
	active := finder.Run(ctx)
	sort.Slice(active, func(i, j int) bool {
		return IsCloser(active[i].NodeID, active[j].NodeID, key)
	})
	if count < len(active) {
		active = active[:count]
	}
	return active
}

func (n *Node) ownEndpoint() EndpointKey {
	var addr [4]byte
	if v4 := n.externalIP.To4(); v4 != nil {
		copy(addr[:], v4)
	}
	return EndpointKey{Address: addr, UDPPort: n.LocalAddr().Port}
}

// AnnounceBlob implements announce_blob(blob_hash) (spec.md §4.8): find the
// peers closest to blobHash, acquire a store token from each via findValue,
// then store() our own TCP address against them. It returns the node_ids
// that confirmed storage; an empty result with a nil error is a soft
// failure, matching spec.md §7.
func (n *Node) AnnounceBlob(ctx context.Context, blobHash NodeID) ([]NodeID, error) {
	if n.externalTCPPort == 0 {
		return nil, ErrNoUsableExternalIP
	}
	peers := n.PeerSearch(ctx, blobHash, K, K*2)

	var confirmed []NodeID
	for _, p := range peers {
		token, ok := n.pm.GetNodeToken(p.NodeID)
		if !ok {
			reply, err := n.rpc.FindValue(ctx, p, blobHash, 0)
			if err != nil {
				continue
			}
			if reply.Token == nil {
				continue
			}
			token = reply.Token
			n.pm.SetNodeToken(p.NodeID, token)
		}

		err := n.rpc.Store(ctx, p, blobHash, token, n.externalTCPPort, n.self, 0)
		if err != nil {
			n.pm.ReportFailure(p.Endpoint())
			n.metrics.RPCsFailed.Inc(1)
			continue
		}
		confirmed = append(confirmed, p.NodeID)
	}
	return confirmed, nil
}

// refreshLoop runs the five-step maintenance pass spec.md §4.8 describes,
// once immediately and then every RefreshInterval.
func (n *Node) refreshLoop(ctx context.Context) {
	n.doRefresh(ctx)
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.doRefresh(ctx)
		}
	}
}

func (n *Node) doRefresh(ctx context.Context) {
	n.ds.RemoveExpiredPeers()

	candidates := append([]PeerInfo{}, n.rt.AllPeers()...)
	for _, key := range n.ds.Keys() {
		candidates = append(candidates, n.ds.GetPeersForBlob(key)...)
	}

	for _, mid := range n.rt.GetRefreshList(false) {
		discovered := n.PeerSearch(ctx, mid, K, K*2)
		for _, p := range discovered {
			n.rt.AddPeer(p)
		}
	}
	n.rt.JoinEmptyBuckets()

	seen := make(map[EndpointKey]bool)
	for _, c := range candidates {
		if seen[c.Endpoint()] {
			continue
		}
		seen[c.Endpoint()] = true
		if n.pm.PeerIsGood(c) != Good {
			n.pingQueue.Enqueue(c)
		}
	}

	n.setJoined(n.rt.Len() > 0)

	if n.seedStore != nil {
		if err := n.seedStore.SavePeers(n.rt.AllPeers()); err != nil {
			nodeLog.V(glog.Detail).Infof("persisting routing table: %v", err)
		}
	}
}

// Stop cancels the join/refresh/ping-queue tasks, stops the RPC endpoint,
// and closes the UDP socket (spec.md §4.8).
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.pingQueue.Stop()
	err := n.rpc.Close()
	n.wg.Wait()
	return err
}

func encodeCompactUDPList(peers []PeerInfo) []interface{} {
	out := make([]interface{}, 0, len(peers))
	for _, p := range peers {
		if !p.HasNodeID {
			continue
		}
		enc, err := EncodeCompactUDP(p)
		if err != nil {
			continue
		}
		out = append(out, enc)
	}
	return out
}

// EncodeCompactTCPOf packs p's (address, tcp_port) the same way a
// BlobPeerAddr does, for peers already carrying a PeerInfo shape (the
// DataStore stores PeerInfo, not BlobPeerAddr, since it also needs the
// storing peer's node_id for S3's confirmation check).
func EncodeCompactTCPOf(p PeerInfo) []byte {
	b, _ := EncodeCompactTCP(p)
	return b
}
