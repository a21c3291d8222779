// Package erasure implements the Reed-Solomon shard coder (SPEC_FULL.md
// C8): a group-size-banded (k, m) schedule, integrity-tagged shards, and
// a fixed-offset padding marker so decode never has to scan for the
// original length.
package erasure

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/klauspost/reedsolomon"
	"lukechampine.com/blake3"
)

// paddingMarker is a fixed 8-byte sentinel written immediately before the
// trailing big-endian original-length uint64, so decode reads both at
// fixed offsets from the tail of the reconstructed buffer rather than
// scanning for them. "BEEEPAD1" in ASCII.
var paddingMarker = [8]byte{0x42, 0x45, 0x45, 0x45, 0x50, 0x41, 0x44, 0x31}

const trailerSize = 16 // 8-byte marker + 8-byte big-endian length

// Scheme describes the (k, m, shard size) parameters for a given group
// size band.
type Scheme struct {
	DataShards   int
	ParityShards int
	ShardSize    int
}

// SchemeFor selects the erasure scheme for a group of n members, per the
// SPEC_FULL.md C8 band schedule.
func SchemeFor(n int) Scheme {
	switch {
	case n <= constants.SmallGroupMax:
		return Scheme{DataShards: 3, ParityShards: 2, ShardSize: 4096}
	case n <= constants.MediumGroupMax:
		return Scheme{DataShards: 8, ParityShards: 4, ShardSize: 4096}
	case n <= constants.LargeGroupMax:
		return Scheme{DataShards: 12, ParityShards: 6, ShardSize: 8192}
	default:
		return Scheme{DataShards: 16, ParityShards: 8, ShardSize: 8192}
	}
}

func (s Scheme) totalShards() int { return s.DataShards + s.ParityShards }

// Shard is one erasure-coded fragment of an object.
type Shard struct {
	Index       int
	Kind        ShardKind
	Group       string
	ContentID   string
	Data        []byte
	Integrity   [32]byte
	CreatedAt   time.Time
}

// ShardKind distinguishes data shards from parity shards.
type ShardKind int

const (
	KindData ShardKind = iota
	KindParity
)

func (s *Shard) verifyIntegrity() bool {
	return blake3.Sum256(s.Data) == s.Integrity
}

// Coder encodes and decodes objects into/from erasure-coded shard sets.
// It is stateless and safe to share across goroutines.
type Coder struct{}

// New creates a stateless Reed-Solomon coder.
func New() *Coder { return &Coder{} }

// Encode pads plaintext to a multiple of scheme.ShardSize*DataShards
// (embedding a fixed-offset trailer with the original length), splits it
// into DataShards data shards, computes ParityShards parity shards, and
// tags every shard with its index, group, content id, and integrity hash.
func (c *Coder) Encode(plaintext []byte, scheme Scheme, group, contentID string) ([]*Shard, error) {
	enc, err := reedsolomon.New(scheme.DataShards, scheme.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("erasure: new coder: %w", err)
	}

	padded := padWithTrailer(plaintext, scheme.ShardSize*scheme.DataShards)

	shardSize := len(padded) / scheme.DataShards
	data := make([][]byte, scheme.totalShards())
	for i := 0; i < scheme.DataShards; i++ {
		data[i] = padded[i*shardSize : (i+1)*shardSize]
	}
	for i := scheme.DataShards; i < scheme.totalShards(); i++ {
		data[i] = make([]byte, shardSize)
	}

	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("erasure: encode: %w", err)
	}

	now := time.Now()
	shards := make([]*Shard, scheme.totalShards())
	for i, d := range data {
		kind := KindData
		if i >= scheme.DataShards {
			kind = KindParity
		}
		shards[i] = &Shard{
			Index:     i,
			Kind:      kind,
			Group:     group,
			ContentID: contentID,
			Data:      d,
			Integrity: blake3.Sum256(d),
			CreatedAt: now,
		}
	}
	return shards, nil
}

// Decode accepts any set of shards with at least scheme.DataShards valid
// (untampered, present) entries and reconstructs the original plaintext.
// Shards failing their integrity hash are dropped before reconstruction;
// if fewer than DataShards remain, InsufficientShardsError is returned.
func (c *Coder) Decode(shards []*Shard, scheme Scheme) ([]byte, error) {
	enc, err := reedsolomon.New(scheme.DataShards, scheme.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("erasure: new coder: %w", err)
	}

	data := make([][]byte, scheme.totalShards())
	present := 0
	for _, s := range shards {
		if s.Index < 0 || s.Index >= scheme.totalShards() {
			continue
		}
		if !s.verifyIntegrity() {
			continue
		}
		data[s.Index] = s.Data
		present++
	}
	if present < scheme.DataShards {
		return nil, &InsufficientShardsError{Have: present, Need: scheme.DataShards}
	}

	ok, err := enc.Verify(data)
	if err != nil || !ok {
		if err := enc.Reconstruct(data); err != nil {
			return nil, fmt.Errorf("erasure: reconstruct: %w", err)
		}
	}

	var padded []byte
	for i := 0; i < scheme.DataShards; i++ {
		padded = append(padded, data[i]...)
	}

	return stripTrailer(padded)
}

// padWithTrailer zero-pads data so total length is a multiple of block,
// leaving room for (and writing) the fixed marker+length trailer within
// the final block.
func padWithTrailer(data []byte, block int) []byte {
	minLen := len(data) + trailerSize
	total := ((minLen + block - 1) / block) * block
	out := make([]byte, total)
	copy(out, data)
	copy(out[total-trailerSize:total-8], paddingMarker[:])
	binary.BigEndian.PutUint64(out[total-8:], uint64(len(data)))
	return out
}

func stripTrailer(padded []byte) ([]byte, error) {
	if len(padded) < trailerSize {
		return nil, fmt.Errorf("erasure: reconstructed buffer shorter than trailer")
	}
	var marker [8]byte
	copy(marker[:], padded[len(padded)-trailerSize:len(padded)-8])
	if marker != paddingMarker {
		return nil, fmt.Errorf("erasure: padding marker mismatch, data likely corrupt")
	}
	length := binary.BigEndian.Uint64(padded[len(padded)-8:])
	if length > uint64(len(padded)-trailerSize) {
		return nil, fmt.Errorf("erasure: recorded length exceeds padded buffer")
	}
	return padded[:length], nil
}
