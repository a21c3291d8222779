// Package dhtfacade implements the DHT façade (SPEC_FULL.md C7): a
// Kademlia-style routing table over 160-bit peer ids, a bounded-
// concurrency put/get/send/peers surface, retry with backoff, and
// reliability-scored peer ranking.
package dhtfacade

import (
	"fmt"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"lukechampine.com/blake3"
)

// PeerID is a 160-bit Kademlia identifier, matching the truncated BLAKE3
// DHT keys produced by the namespace key service.
type PeerID [constants.DHTNodeIDBytes]byte

// NewPeerID derives a PeerID from an arbitrary identity string (typically
// a four-word address or ML-DSA public key fingerprint) by truncating its
// BLAKE3-256 hash to 160 bits.
func NewPeerID(identity string) PeerID {
	full := blake3.Sum256([]byte(identity))
	var id PeerID
	copy(id[:], full[:constants.DHTNodeIDBytes])
	return id
}

// Distance computes the XOR distance between two peer ids.
func (p PeerID) Distance(other PeerID) PeerID {
	var out PeerID
	for i := range p {
		out[i] = p[i] ^ other[i]
	}
	return out
}

// Less orders peer ids lexicographically, used to compare distances.
func (p PeerID) Less(other PeerID) bool {
	for i := range p {
		if p[i] != other[i] {
			return p[i] < other[i]
		}
	}
	return false
}

// IsZero reports whether every byte is zero.
func (p PeerID) IsZero() bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// String returns the hex encoding of the peer id.
func (p PeerID) String() string {
	return fmt.Sprintf("%x", p[:])
}

// leadingZeroBits returns the number of leading zero bits of this XOR
// distance: the position of the highest set bit, counted from the most
// significant end of the 160-bit space. routingTable.bucketIndex maps it
// to a bucket index.
func (p PeerID) leadingZeroBits() int {
	for i := 0; i < len(p); i++ {
		if p[i] != 0 {
			for j := 7; j >= 0; j-- {
				if (p[i]>>uint(j))&1 == 1 {
					return i*8 + (7 - j)
				}
			}
		}
	}
	return constants.DHTNodeIDBits
}

// Peer is a directory entry: identity, location hints, and the
// reliability statistics the façade uses for ranking and health.
type Peer struct {
	ID               PeerID
	Location         string // optional, e.g. a coarse region tag
	DistanceKM       *float64
	LastSeen         time.Time
	ResponseTimeMS   *float64
	ReliabilityScore float64 // in [0,1]
	AvailableStorage *uint64
	Addrs            []string
	NoiseKey         []byte // advertised X25519 static key for a Noise-IK transport session, if any
}

// RankScore computes the optimal-peer ranking score: reliability
// weighted down by distance and round-trip latency.
func (p *Peer) RankScore() float64 {
	distFactor := 1.0
	if p.DistanceKM != nil {
		distFactor = 1.0 / (1.0 + *p.DistanceKM/1000.0)
	}
	rttFactor := 1.0
	if p.ResponseTimeMS != nil {
		rttFactor = 1.0 / (1.0 + (*p.ResponseTimeMS / 1000.0))
	}
	return p.ReliabilityScore * distFactor * rttFactor
}

// RecordSuccess nudges the reliability score toward 1.0 via an EMA with
// alpha=constants.ReliabilityEMAAlpha, and refreshes LastSeen/ResponseTimeMS.
func (p *Peer) RecordSuccess(rtt time.Duration) {
	alpha := constants.ReliabilityEMAAlpha
	p.ReliabilityScore = p.ReliabilityScore + alpha*(1.0-p.ReliabilityScore)
	p.LastSeen = time.Now()
	ms := float64(rtt.Milliseconds())
	p.ResponseTimeMS = &ms
}

// RecordFailure decays the reliability score by constants.ReliabilityDecay.
func (p *Peer) RecordFailure() {
	p.ReliabilityScore *= constants.ReliabilityDecay
}

func (p *Peer) copy() *Peer {
	cp := *p
	if p.DistanceKM != nil {
		d := *p.DistanceKM
		cp.DistanceKM = &d
	}
	if p.ResponseTimeMS != nil {
		r := *p.ResponseTimeMS
		cp.ResponseTimeMS = &r
	}
	if p.AvailableStorage != nil {
		s := *p.AvailableStorage
		cp.AvailableStorage = &s
	}
	cp.Addrs = append([]string{}, p.Addrs...)
	cp.NoiseKey = append([]byte{}, p.NoiseKey...)
	return &cp
}
