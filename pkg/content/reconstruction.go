package content

import "fmt"

// ReconstructionState accumulates chunks received out of order (e.g. over
// the DHT façade or shard distributor) until the full set is present, then
// verifies and yields the original plaintext.
type ReconstructionState struct {
	addr     *Address
	received map[uint32]*Chunk
	total    uint32
}

// NewReconstructionState starts a reconstruction for the given address.
func NewReconstructionState(addr *Address) *ReconstructionState {
	return &ReconstructionState{
		addr:     addr,
		received: make(map[uint32]*Chunk, len(addr.Chunks)),
		total:    uint32(len(addr.Chunks)),
	}
}

// Add validates and stores one chunk. Adding the same index twice with
// identical content is a no-op; adding a different chunk at an already
// filled index is rejected.
func (r *ReconstructionState) Add(c *Chunk) error {
	if c.Index >= r.total {
		return newErr(ErrInvalidChunkIndex, fmt.Sprintf("index %d out of range [0,%d)", c.Index, r.total), nil)
	}
	if err := VerifyChunk(c); err != nil {
		return err
	}
	if c.ContentHash != r.addr.Hash {
		return newErr(ErrInvalidAddress, "chunk does not belong to this content address", nil)
	}
	if existing, ok := r.received[c.Index]; ok {
		if existing.ChunkHash != c.ChunkHash {
			return newErr(ErrInvalidChunkIndex, fmt.Sprintf("conflicting chunk at index %d", c.Index), nil)
		}
		return nil
	}
	r.received[c.Index] = c
	return nil
}

// Complete reports whether every chunk has been received.
func (r *ReconstructionState) Complete() bool {
	return uint32(len(r.received)) == r.total
}

// Missing returns the indices not yet received.
func (r *ReconstructionState) Missing() []uint32 {
	var missing []uint32
	for i := uint32(0); i < r.total; i++ {
		if _, ok := r.received[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Finish verifies completeness and reconstructs the plaintext.
func (r *ReconstructionState) Finish() ([]byte, error) {
	if !r.Complete() {
		return nil, &MissingChunksError{Missing: r.Missing(), Total: r.total}
	}
	chunks := make([]*Chunk, 0, r.total)
	for i := uint32(0); i < r.total; i++ {
		chunks = append(chunks, r.received[i])
	}
	return Reconstruct(r.addr, chunks)
}
