package dhtfacade

import (
	"sort"
	"sync"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
)

// bucket is a k-bucket holding up to constants.DHTBucketSize live peers
// plus a replacement cache for peers seen while the bucket was full.
type bucket struct {
	mu           sync.RWMutex
	peers        []*Peer
	replacements []*Peer
	maxSize      int
}

func newBucket() *bucket {
	return &bucket{
		peers:        make([]*Peer, 0, constants.DHTBucketSize),
		replacements: make([]*Peer, 0, constants.DHTBucketSize),
		maxSize:      constants.DHTBucketSize,
	}
}

func (b *bucket) add(p *Peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.peers {
		if existing.ID == p.ID {
			b.peers[i] = p
			b.moveToEnd(i)
			return true
		}
	}
	if len(b.peers) < b.maxSize {
		b.peers = append(b.peers, p)
		return true
	}
	b.addReplacement(p)
	return false
}

func (b *bucket) remove(id PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, p := range b.peers {
		if p.ID == id {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			b.promoteReplacement()
			return true
		}
	}
	return false
}

func (b *bucket) get(id PeerID) *Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.peers {
		if p.ID == id {
			return p.copy()
		}
	}
	return nil
}

func (b *bucket) all() []*Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Peer, len(b.peers))
	for i, p := range b.peers {
		out[i] = p.copy()
	}
	return out
}

func (b *bucket) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

func (b *bucket) removeStale(timeout time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	i := 0
	for i < len(b.peers) {
		if time.Since(b.peers[i].LastSeen) > timeout {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			removed++
		} else {
			i++
		}
	}
	for removed > 0 && len(b.replacements) > 0 {
		b.promoteReplacement()
		removed--
	}
	return removed
}

func (b *bucket) moveToEnd(i int) {
	if i == len(b.peers)-1 {
		return
	}
	p := b.peers[i]
	copy(b.peers[i:], b.peers[i+1:])
	b.peers[len(b.peers)-1] = p
}

func (b *bucket) addReplacement(p *Peer) {
	for i, existing := range b.replacements {
		if existing.ID == p.ID {
			b.replacements[i] = p
			return
		}
	}
	if len(b.replacements) < b.maxSize {
		b.replacements = append(b.replacements, p)
		return
	}
	copy(b.replacements, b.replacements[1:])
	b.replacements[len(b.replacements)-1] = p
}

func (b *bucket) promoteReplacement() {
	if len(b.replacements) == 0 || len(b.peers) >= b.maxSize {
		return
	}
	p := b.replacements[len(b.replacements)-1]
	b.replacements = b.replacements[:len(b.replacements)-1]
	b.peers = append(b.peers, p)
}

// sortByDistance orders peers by XOR distance to target, nearest first.
func sortByDistance(peers []*Peer, target PeerID) []*Peer {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID.Distance(target).Less(peers[j].ID.Distance(target))
	})
	return peers
}
