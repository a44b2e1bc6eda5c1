package dht

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/syndtr/goleveldb/leveldb"
)

// SeedStore is the optional external peer-persistence interface spec.md
// §6.2 defines: save the routing table's current peers on each refresh pass
// and retrieve them on the next Join. Its absence is non-fatal — Join falls
// back to DNS-resolved bootstrap hosts.
type SeedStore interface {
	SavePeers(peers []PeerInfo) error
	GetPersistedPeers() ([]PeerInfo, error)
}

// LevelDBSeedStore is the default SeedStore, grounded on the teacher's use
// of syndtr/goleveldb as its state database throughout ethdb. Peers are
// stored as a single value under a fixed key, bencode-free and
// dependency-minimal: a count followed by fixed-width compact UDP triples.
type LevelDBSeedStore struct {
	db *leveldb.DB
}

var seedStoreKey = []byte("dht/peers")

// OpenLevelDBSeedStore opens (creating if absent) a LevelDB database at
// path to back a LevelDBSeedStore.
func OpenLevelDBSeedStore(path string) (*LevelDBSeedStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("dht: opening seed store: %w", err)
	}
	return &LevelDBSeedStore{db: db}, nil
}

// SavePeers overwrites the persisted peer set.
func (s *LevelDBSeedStore) SavePeers(peers []PeerInfo) error {
	buf := make([]byte, 0, 4+len(peers)*compactUDPLen)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(peers)))
	buf = append(buf, countBuf[:]...)
	for _, p := range peers {
		enc, err := EncodeCompactUDP(p)
		if err != nil {
			continue // peers without a node_id can't round-trip; skip them
		}
		buf = append(buf, enc...)
	}
	return s.db.Put(seedStoreKey, buf, nil)
}

// GetPersistedPeers returns the last-saved peer set, or an empty slice if
// nothing has been saved yet.
func (s *LevelDBSeedStore) GetPersistedPeers() ([]PeerInfo, error) {
	buf, err := s.db.Get(seedStoreKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dht: reading seed store: %w", err)
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("dht: seed store record truncated")
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	peers := make([]PeerInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < compactUDPLen {
			break
		}
		p, err := DecodeCompactUDP(buf[:compactUDPLen])
		if err != nil {
			buf = buf[compactUDPLen:]
			continue
		}
		peers = append(peers, p)
		buf = buf[compactUDPLen:]
	}
	return peers, nil
}

// Close releases the underlying database handle.
func (s *LevelDBSeedStore) Close() error {
	return s.db.Close()
}

// BootstrapHost is a (host, port) pair supplied at startup, resolved to
// IPv4 on Join (spec.md §6.3).
type BootstrapHost struct {
	Host string
	Port int
}

// resolve turns a bootstrap host into zero or more candidate PeerInfo seeds
// with no known node_id. DNS failures are reported to the caller so Join
// can schedule a BootstrapRetryInterval retry rather than treating them as
// fatal.
func (h BootstrapHost) resolve() ([]PeerInfo, error) {
	ips, err := net.LookupIP(h.Host)
	if err != nil {
		return nil, fmt.Errorf("dht: resolving bootstrap host %s: %w", h.Host, err)
	}
	var out []PeerInfo
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		p, err := NewPeerInfo(NodeID{}, false, v4, h.Port, 0)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dht: bootstrap host %s resolved to no usable IPv4 address", h.Host)
	}
	return out, nil
}
