package content

import (
	"bytes"
	"testing"
)

// S1 — Content addressing.
func TestScenarioS1ContentAddressing(t *testing.T) {
	data := []byte("Hello, world! This is test content for chunking.")

	addr, chunks, err := Chunk(data, "text/plain")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ChunkHash != addr.Hash {
		t.Fatalf("expected single uncompressed chunk's hash to equal the content hash")
	}
	if !VerifyContent(data, addr.Hash) {
		t.Fatalf("verify content failed for correct data")
	}
	if VerifyContent([]byte("Wrong content"), addr.Hash) {
		t.Fatalf("verify content succeeded for wrong data")
	}
}

// S2 — Chunked reconstruction.
func TestScenarioS2ChunkedReconstruction(t *testing.T) {
	data := bytes.Repeat([]byte{42}, 786432)

	addr, chunks, err := Chunk(data, "application/octet-stream")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Size != 262144 {
			t.Fatalf("chunk %d size = %d, want 262144", i, c.Size)
		}
	}

	out, err := Reconstruct(addr, chunks)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("reconstructed data does not match original")
	}
}

func TestContentAddressingDeterminism(t *testing.T) {
	data := []byte("deterministic content addressing")
	a1, _, err := Chunk(data, "text/plain")
	if err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	a2, _, err := Chunk(data, "text/plain")
	if err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	if a1.Hash != a2.Hash {
		t.Fatalf("address(x) != address(x)")
	}
	if a1.HexHash() != hexEncode(HashBytes(data)[:]) {
		t.Fatalf("address hash does not equal BLAKE3(x)")
	}
}

func TestChunkLevelIntegrity(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 100000) // ~800KB; whole-blob compression shrinks it before chunking
	_, chunks, err := Chunk(data, "application/octet-stream")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	for _, c := range chunks {
		if err := VerifyChunk(c); err != nil {
			t.Fatalf("chunk %d failed integrity: %v", c.Index, err)
		}
		if uint32(len(c.Payload)) != c.Size {
			t.Fatalf("chunk %d payload length != declared size", c.Index)
		}
	}
}

func TestReconstructionStateStreaming(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 300000)
	addr, chunks, err := Chunk(data, "application/octet-stream")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	rs := NewReconstructionState(addr)
	// Add out of order.
	for i := len(chunks) - 1; i >= 0; i-- {
		if err := rs.Add(chunks[i]); err != nil {
			t.Fatalf("add chunk %d: %v", i, err)
		}
	}
	if !rs.Complete() {
		t.Fatalf("expected complete reconstruction state")
	}
	out, err := rs.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("streamed reconstruction mismatch")
	}
}

func TestReconstructionMissingChunks(t *testing.T) {
	data := bytes.Repeat([]byte{9}, 300000)
	addr, chunks, err := Chunk(data, "application/octet-stream")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	rs := NewReconstructionState(addr)
	for _, c := range chunks[:len(chunks)-1] {
		if err := rs.Add(c); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if rs.Complete() {
		t.Fatalf("expected incomplete state")
	}
	if _, err := rs.Finish(); !Is(err, ErrMissingChunks) {
		t.Fatalf("expected MissingChunks error, got %v", err)
	}
}

func TestCompressibleContentConverges(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 2000)
	addr, chunks, err := Chunk(data, "text/plain")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if !addr.Compressed {
		t.Fatalf("expected highly repetitive content to compress")
	}
	out, err := Reconstruct(addr, chunks)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("reconstructed compressed content mismatch")
	}
}

func TestFingerprintStability(t *testing.T) {
	a := bytes.Repeat([]byte("fingerprint-me"), 20)
	b := append(append([]byte{}, a...), []byte("-extra-tail-bytes")...)

	fa := Fingerprint(a)
	fb := Fingerprint(b)

	if !bytes.Equal(fa, fb[:len(fa)]) {
		t.Fatalf("expected common prefix fingerprint for near-duplicate content")
	}
}
