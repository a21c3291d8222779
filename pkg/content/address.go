package content

import (
	"encoding/hex"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"lukechampine.com/blake3"
)

// HashBytes returns the BLAKE3-256 digest of data.
func HashBytes(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// VerifyContent recomputes BLAKE3(data) and compares it to expected.
func VerifyContent(data []byte, expected [HashSize]byte) bool {
	return HashBytes(data) == expected
}

// VerifyChunk recomputes a chunk's hash and checks its declared size.
func VerifyChunk(c *Chunk) error {
	if uint32(len(c.Payload)) != c.Size {
		return newErr(ErrChecksumMismatch, "chunk payload length does not match declared size", nil)
	}
	if HashBytes(c.Payload) != c.ChunkHash {
		return newErr(ErrChecksumMismatch, "chunk hash does not match payload", nil)
	}
	return nil
}

// ChunkSizeFor returns the chunk size to use for a blob of the given total
// size, per the size-adaptive schedule: <=1 MiB -> 64 KiB, <=100 MiB -> 256
// KiB, else 512 KiB.
func ChunkSizeFor(totalSize uint64) uint32 {
	switch {
	case totalSize <= 1*1024*1024:
		return constants.SmallFileChunkSize
	case totalSize <= 100*1024*1024:
		return constants.MediumFileChunkSize
	default:
		return constants.LargeFileChunkSize
	}
}

// ValidateSize rejects content that is too large or would produce too many
// chunks to reconstruct.
func ValidateSize(totalSize uint64) error {
	if totalSize > constants.MaxContentSize {
		return newErr(ErrContentSizeValidationFailed,
			"content exceeds maximum size of 10 GiB", nil)
	}
	chunkSize := uint64(ChunkSizeFor(totalSize))
	numChunks := (totalSize + chunkSize - 1) / chunkSize
	if numChunks > constants.MaxChunkCount {
		return newErr(ErrContentSizeValidationFailed,
			"content would require more than the maximum chunk count", nil)
	}
	return nil
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}
