// Optional payload compression for partition records.
//
// Storage can zstd-compress a document's encoded bytes before framing
// them into the partition, when Config.Compression is set and the
// payload is at or above Config.CompressionThreshold. Payloads here
// are binary length-prefixed partition records, so no ascii85 (or
// other printable-alphabet) re-encoding step is needed — the
// compressed bytes are written to the partition as-is.
package eventstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Shared encoder/decoder — both are documented as safe for concurrent
// use. Allocated once because zstd encoder/decoder construction is
// expensive (internal state tables). SpeedFastest favours the write
// path, which runs on every compressed Storage.Write; decompression
// runs only on read.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compressZstd(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

func decompressZstd(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrDecompress, err)
	}
	return out, nil
}

// compressionFlagPlain and compressionFlagZstd are the 1-byte prefixes
// Storage writes ahead of every encoded document, so ReadFrom knows
// whether to decompress regardless of the current Config.Compression
// setting (a store may be reopened with compression toggled).
const (
	compressionFlagPlain = 0
	compressionFlagZstd  = 1
)
