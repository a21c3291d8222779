// Package content implements content addressing and chunking (BLAKE3
// hashing, size-adaptive fixed chunking, optional compression, streamed
// reconstruction) as specified in SPEC_FULL.md C2.
package content

import "time"

// HashSize is the size of a BLAKE3-256 digest in bytes.
const HashSize = 32

// Address is the content-addressing record for a stored blob: its BLAKE3
// hash, the ordered chunk set, and metadata needed to reconstruct it.
type Address struct {
	Hash        [HashSize]byte
	TotalSize   uint64
	ChunkSize   uint32
	Chunks      []ChunkRef
	ContentType string
	Compressed  bool
	CreatedAt   time.Time
}

// ChunkRef is the metadata describing one chunk of an Address without
// carrying its payload (the payload lives in the cache/DHT layer).
type ChunkRef struct {
	Index      uint32
	ChunkHash  [HashSize]byte
	Size       uint32
	Compressed bool
}

// Chunk is a chunk together with its payload, as produced by the chunker
// and consumed by reconstruction.
type Chunk struct {
	Index       uint32
	Total       uint32
	ChunkHash   [HashSize]byte
	ContentHash [HashSize]byte
	Payload     []byte
	Size        uint32
}

// HexHash returns the lowercase hex encoding of the content hash.
func (a *Address) HexHash() string {
	return hexEncode(a.Hash[:])
}
