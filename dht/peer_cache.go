package dht

import (
	lru "github.com/hashicorp/golang-lru"
)

// PeerCache interns PeerInfo values behind an explicit bounded LRU keyed by
// the (node_id, address, udp_port) triple, so repeated observations of the
// same peer share one stored copy instead of relying on language-level
// identity semantics (spec.md §9). Grounded on the teacher's use of
// hashicorp/golang-lru in core/blockchain.go for the same "bounded, evict the
// coldest" shape.
type PeerCache struct {
	cache *lru.Cache
}

// NewPeerCache creates a PeerCache holding up to size entries.
func NewPeerCache(size int) (*PeerCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &PeerCache{cache: c}, nil
}

// Intern returns the canonical stored copy of p, inserting it if this is the
// first time its triple has been seen.
func (c *PeerCache) Intern(p PeerInfo) PeerInfo {
	key := p.TripleKey()
	if v, ok := c.cache.Get(key); ok {
		return v.(PeerInfo)
	}
	c.cache.Add(key, p)
	return p
}

// Len reports how many distinct peers are currently interned.
func (c *PeerCache) Len() int {
	return c.cache.Len()
}
