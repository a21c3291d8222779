package content

import (
	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"lukechampine.com/blake3"
)

// Fingerprint computes a similarity-detection digest: a 64-byte rolling
// window slides over data one byte at a time, and the first 8 bytes of
// each window's BLAKE3 hash are concatenated. Near-duplicate blobs produce
// fingerprints with long common substrings, which is all this is for —
// it is not a content hash and must never be used for integrity checks.
func Fingerprint(data []byte) []byte {
	const window = constants.FingerprintWindow
	if len(data) < window {
		h := blake3.Sum256(data)
		return append([]byte{}, h[:8]...)
	}

	out := make([]byte, 0, (len(data)-window+1)*8)
	for i := 0; i+window <= len(data); i++ {
		h := blake3.Sum256(data[i : i+window])
		out = append(out, h[:8]...)
	}
	return out
}
