package content

import (
	"fmt"
	"time"
)

// Chunk splits data into an Address plus its ordered Chunk payloads.
// Compression is attempted once over the whole blob (not per-chunk) so
// that Address.Hash always equals BLAKE3 of the original plaintext,
// independent of whether the stored chunks are compressed.
func Chunk(data []byte, contentType string) (*Address, []*Chunk, error) {
	if err := ValidateSize(uint64(len(data))); err != nil {
		return nil, nil, err
	}

	contentHash := HashBytes(data)
	stored, compressed := maybeCompress(data)

	chunkSize := ChunkSizeFor(uint64(len(data)))
	chunks, err := splitChunks(stored, chunkSize, contentHash)
	if err != nil {
		return nil, nil, err
	}

	refs := make([]ChunkRef, len(chunks))
	for i, c := range chunks {
		refs[i] = ChunkRef{
			Index:      c.Index,
			ChunkHash:  c.ChunkHash,
			Size:       c.Size,
			Compressed: compressed,
		}
	}

	addr := &Address{
		Hash:        contentHash,
		TotalSize:   uint64(len(data)),
		ChunkSize:   chunkSize,
		Chunks:      refs,
		ContentType: contentType,
		Compressed:  compressed,
		CreatedAt:   time.Now(),
	}

	return addr, chunks, nil
}

func splitChunks(stored []byte, chunkSize uint32, contentHash [HashSize]byte) ([]*Chunk, error) {
	if len(stored) == 0 {
		return []*Chunk{}, nil
	}

	numChunks := (len(stored) + int(chunkSize) - 1) / int(chunkSize)
	if numChunks > int(^uint32(0)) {
		return nil, newErr(ErrChunkingFailed, "chunk count overflow", nil)
	}

	chunks := make([]*Chunk, 0, numChunks)
	for i := 0; i < len(stored); i += int(chunkSize) {
		end := i + int(chunkSize)
		if end > len(stored) {
			end = len(stored)
		}
		payload := make([]byte, end-i)
		copy(payload, stored[i:end])

		chunks = append(chunks, &Chunk{
			Index:       uint32(len(chunks)),
			Total:       uint32(numChunks),
			ChunkHash:   HashBytes(payload),
			ContentHash: contentHash,
			Payload:     payload,
			Size:        uint32(len(payload)),
		})
	}
	return chunks, nil
}

// Reconstruct rebuilds the original plaintext from a complete, ordered
// chunk set plus the Address describing whether they were compressed.
func Reconstruct(addr *Address, chunks []*Chunk) ([]byte, error) {
	if len(chunks) != len(addr.Chunks) {
		return nil, &MissingChunksError{Total: uint32(len(addr.Chunks))}
	}

	ordered := make([]*Chunk, len(chunks))
	seen := make(map[uint32]bool, len(chunks))
	for _, c := range chunks {
		if c.Index >= uint32(len(addr.Chunks)) {
			return nil, newErr(ErrInvalidChunkIndex,
				fmt.Sprintf("chunk index %d out of range", c.Index), nil)
		}
		if seen[c.Index] {
			return nil, newErr(ErrInvalidChunkIndex,
				fmt.Sprintf("duplicate chunk index %d", c.Index), nil)
		}
		seen[c.Index] = true
		if err := VerifyChunk(c); err != nil {
			return nil, err
		}
		if c.ContentHash != addr.Hash {
			return nil, newErr(ErrInvalidAddress, "chunk belongs to a different content address", nil)
		}
		ordered[c.Index] = c
	}

	var missing []uint32
	total := 0
	for i, c := range ordered {
		if c == nil {
			missing = append(missing, uint32(i))
		} else {
			total += len(c.Payload)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingChunksError{Missing: missing, Total: uint32(len(addr.Chunks))}
	}

	stored := make([]byte, 0, total)
	for _, c := range ordered {
		stored = append(stored, c.Payload...)
	}

	plaintext := stored
	if addr.Compressed {
		var err error
		plaintext, err = decompress(stored)
		if err != nil {
			return nil, newErr(ErrReconstructionFailed, "failed to decompress reconstructed content", err)
		}
	}

	if HashBytes(plaintext) != addr.Hash {
		return nil, newErr(ErrChecksumMismatch, "reconstructed content hash mismatch", nil)
	}

	return plaintext, nil
}
