package dht

import (
	"sync"
	"time"
)

type dataStoreEntry struct {
	peer      PeerInfo
	insertedAt time.Time
}

// DataStore maps blob hashes to the set of peers that have declared
// possession of that blob within a rolling TTL window (spec.md §3, §4.3). A
// peer appears at most once per key; inserting an already-present peer
// refreshes its timestamp rather than duplicating the entry.
type DataStore struct {
	clock Clock
	pm    *PeerManager

	mu      sync.Mutex
	entries map[NodeID][]dataStoreEntry
}

// NewDataStore creates an empty DataStore. pm is consulted so reads can
// exclude peers currently classified Bad (spec.md §4.3).
func NewDataStore(clock Clock, pm *PeerManager) *DataStore {
	return &DataStore{clock: clock, pm: pm, entries: make(map[NodeID][]dataStoreEntry)}
}

// AddPeerToBlob upserts (peer, now) under key, refreshing peer's timestamp
// if it was already present for this key.
func (ds *DataStore) AddPeerToBlob(key NodeID, peer PeerInfo) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	now := ds.clock.Now()
	list := ds.entries[key]
	for i := range list {
		if list[i].peer.Equal(peer) {
			list[i].insertedAt = now
			return
		}
	}
	ds.entries[key] = append(list, dataStoreEntry{peer: peer, insertedAt: now})
}

// GetPeersForBlob returns the peers stored for key whose entry is within
// DataExpiration and who are not currently classified Bad, ordered as
// stored (most-recently-refreshed peers are not reordered to the front).
func (ds *DataStore) GetPeersForBlob(key NodeID) []PeerInfo {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	now := ds.clock.Now()
	var out []PeerInfo
	for _, e := range ds.entries[key] {
		if now.Sub(e.insertedAt) > DataExpiration {
			continue
		}
		if ds.pm != nil && ds.pm.PeerIsGood(e.peer) == Bad {
			continue
		}
		out = append(out, e.peer)
	}
	return out
}

// Count returns the number of live (unexpired) entries stored for key,
// without applying the Bad-peer filter — used by the store-handshake path
// to decide how many pages a findValue response needs (spec.md §4.6, §9).
func (ds *DataStore) Count(key NodeID) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	now := ds.clock.Now()
	n := 0
	for _, e := range ds.entries[key] {
		if now.Sub(e.insertedAt) <= DataExpiration {
			n++
		}
	}
	return n
}

// PeersPage returns up to pageSize peers for key starting at the given
// zero-based offset among the live, non-Bad entries, in insertion order.
// Used to implement findValue's pagination (spec.md §4.6).
func (ds *DataStore) PeersPage(key NodeID, offset, pageSize int) []PeerInfo {
	all := ds.GetPeersForBlob(key)
	if offset >= len(all) {
		return nil
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// RemoveExpiredPeers sweeps every key, dropping expired entries and entries
// for peers currently classified Bad, and deletes keys left with no
// entries (spec.md §4.3).
func (ds *DataStore) RemoveExpiredPeers() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	now := ds.clock.Now()
	for key, list := range ds.entries {
		kept := list[:0]
		for _, e := range list {
			if now.Sub(e.insertedAt) > DataExpiration {
				continue
			}
			if ds.pm != nil && ds.pm.PeerIsGood(e.peer) == Bad {
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(ds.entries, key)
		} else {
			ds.entries[key] = kept
		}
	}
}

// Keys returns every blob hash currently tracked, used by the refresh loop
// to assemble the "peers storing our announced blobs" candidate set
// (spec.md §4.8).
func (ds *DataStore) Keys() []NodeID {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	keys := make([]NodeID, 0, len(ds.entries))
	for k := range ds.entries {
		keys = append(keys, k)
	}
	return keys
}
