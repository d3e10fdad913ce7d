package eventstore

import "time"

// DefaultWriteBufferSize is the write buffer capacity used when
// Config.WriteBufferSize is zero.
const DefaultWriteBufferSize = 16 * 1024

// DefaultCompressionThreshold is the payload size at or above which
// Config.Compression, when enabled, applies zstd compression.
const DefaultCompressionThreshold = 4 * 1024

// Config controls the runtime behaviour of a Partition, Index, or
// Storage. The zero value is the common case: a 16 KiB write buffer,
// dirty reads enabled, no idle-flush timer (flush only when the
// buffer fills or the file is closed), and no compression.
type Config struct {
	// WriteBufferSize is the write-buffer capacity in bytes. Records
	// larger than the buffer are flushed directly, bypassing it.
	// Default 16 KiB.
	WriteBufferSize int

	// DisableDirtyReads, when true, makes reads see only durable
	// (fsync'd) bytes. The zero value enables dirty reads.
	DisableDirtyReads bool

	// FlushDelay is the interval between idle-flush ticks. Zero means
	// flush only when the buffer is full or on Close.
	FlushDelay time.Duration

	// Compression opts into zstd-compressing partition payloads at or
	// above CompressionThreshold before framing them.
	Compression bool

	// CompressionThreshold is the payload size, in bytes, at or above
	// which Compression applies. Default 4 KiB.
	CompressionThreshold int
}

// withDefaults returns a copy of cfg with zero-valued fields replaced
// by their documented defaults.
func (cfg Config) withDefaults() Config {
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = DefaultWriteBufferSize
	}
	if cfg.CompressionThreshold == 0 {
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
	return cfg
}

// dirtyReads reports whether reads may be served from the unflushed
// write buffer.
func (cfg Config) dirtyReads() bool {
	return !cfg.DisableDirtyReads
}
