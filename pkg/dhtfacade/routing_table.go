package dhtfacade

import (
	"sync"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
)

// routingTable is a Kademlia routing table over constants.DHTNodeIDBits
// buckets, one per possible common-prefix length with the local id.
type routingTable struct {
	mu      sync.RWMutex
	localID PeerID
	buckets [constants.DHTNodeIDBits]*bucket
}

func newRoutingTable(localID PeerID) *routingTable {
	rt := &routingTable{localID: localID}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket()
	}
	return rt
}

func (rt *routingTable) bucketIndex(id PeerID) int {
	dist := rt.localID.Distance(id)
	bit := dist.leadingZeroBits()
	if bit >= constants.DHTNodeIDBits {
		return 0
	}
	return constants.DHTNodeIDBits - 1 - bit
}

func (rt *routingTable) add(p *Peer) bool {
	if p.ID == rt.localID {
		return false
	}
	return rt.buckets[rt.bucketIndex(p.ID)].add(p)
}

func (rt *routingTable) remove(id PeerID) bool {
	if id == rt.localID {
		return false
	}
	return rt.buckets[rt.bucketIndex(id)].remove(id)
}

func (rt *routingTable) get(id PeerID) *Peer {
	if id == rt.localID {
		return nil
	}
	return rt.buckets[rt.bucketIndex(id)].get(id)
}

// closest returns up to k peers nearest to target, expanding outward from
// the target's own bucket until enough candidates are collected.
func (rt *routingTable) closest(target PeerID, k int) []*Peer {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := constants.DHTNodeIDBits
	targetBucket := rt.bucketIndex(target)
	collected := make(map[int]bool)
	var candidates []*Peer

	candidates = append(candidates, rt.buckets[targetBucket].all()...)
	collected[targetBucket] = true

	for d := 1; len(candidates) < k && d < n; d++ {
		if targetBucket+d < n && !collected[targetBucket+d] {
			candidates = append(candidates, rt.buckets[targetBucket+d].all()...)
			collected[targetBucket+d] = true
		}
		if targetBucket-d >= 0 && !collected[targetBucket-d] {
			candidates = append(candidates, rt.buckets[targetBucket-d].all()...)
			collected[targetBucket-d] = true
		}
	}
	if len(candidates) < k {
		for i := 0; i < n; i++ {
			if !collected[i] {
				candidates = append(candidates, rt.buckets[i].all()...)
			}
		}
	}

	sortByDistance(candidates, target)
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

func (rt *routingTable) allPeers() []*Peer {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*Peer
	for _, b := range rt.buckets {
		out = append(out, b.all()...)
	}
	return out
}

func (rt *routingTable) size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	total := 0
	for _, b := range rt.buckets {
		total += b.size()
	}
	return total
}

func (rt *routingTable) removeStale(timeout time.Duration) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	total := 0
	for _, b := range rt.buckets {
		total += b.removeStale(timeout)
	}
	return total
}
