package content

import (
	"bytes"

	"github.com/klauspost/compress/gzip"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
)

// maybeCompress gzips data when it is large enough to be worth trying and
// the result actually shrinks below the configured ratio. It returns the
// (possibly unchanged) bytes and whether compression was applied.
func maybeCompress(data []byte) ([]byte, bool) {
	if len(data) < constants.CompressionMinInput {
		return data, false
	}

	var buf bytes.Buffer
	w, _ := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}

	if float64(buf.Len()) < float64(len(data))*constants.CompressionRatioMax {
		return buf.Bytes(), true
	}
	return data, false
}

// decompress reverses maybeCompress.
func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
