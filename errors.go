// Package eventstore is an embedded, append-only event-storage engine.
//
// Documents are persisted into a Partition (a self-delimited byte log)
// and indexed by sequential entry number through one or more named
// Index files. Storage binds one Partition to a set of matcher-filtered
// Indexes and dispatches writes to both; Consumer is a durable tailing
// cursor on top of an Index that resumes from its last acknowledged
// position across restarts.
package eventstore

import "errors"

// Sentinel errors returned by file-format validation and structural
// misuse. Out-of-bounds queries (bad slot, bad range, closed object)
// are not errors — see the bool/zero-value returns on Index.Get,
// Index.Range, and Partition.ReadFrom.
var (
	// ErrInvalidFileHeader is returned when a file's magic bytes do not
	// match the expected prefix.
	ErrInvalidFileHeader = errors.New("eventstore: invalid file header")

	// ErrInvalidFileVersion is returned when the magic prefix matches
	// but the version suffix does not.
	ErrInvalidFileVersion = errors.New("eventstore: invalid file version")

	// ErrInvalidMetadataSize is returned when the declared metadata
	// length does not fit within the file.
	ErrInvalidMetadataSize = errors.New("eventstore: invalid metadata size")

	// ErrInvalidMetadata is returned when the metadata blob does not
	// decode as valid JSON.
	ErrInvalidMetadata = errors.New("eventstore: invalid metadata")

	// ErrIndexMetadataMismatch is returned when an index is reopened
	// with a metadata blob that does not bit-exactly match the one
	// stored at creation.
	ErrIndexMetadataMismatch = errors.New("eventstore: index metadata mismatch")

	// ErrIndexFileCorrupt is returned when an index file's body length
	// is not a multiple of the entry size.
	ErrIndexFileCorrupt = errors.New("eventstore: index file corrupt")

	// ErrWrongEntryObject is returned by AddEncoded when the decoded
	// entry fails a structural validity check (e.g. a zero Number,
	// the reserved "no entry" sentinel).
	ErrWrongEntryObject = errors.New("eventstore: wrong entry object")

	// ErrInvalidEntrySize is returned when a raw entry buffer is not
	// exactly EntrySize bytes.
	ErrInvalidEntrySize = errors.New("eventstore: invalid entry size")

	// ErrInvalidDataSize is returned when a caller-supplied expected
	// size does not match the on-disk record length.
	ErrInvalidDataSize = errors.New("eventstore: invalid data size")

	// ErrCorruptFile is returned when a record's declared length runs
	// past the end of the readable data or its trailer byte is missing —
	// evidence of a torn write. The bytes after a record are not
	// inspected when that record is read.
	ErrCorruptFile = errors.New("eventstore: corrupt file")

	// ErrInvalidBoundary is returned by Truncate when the requested
	// position does not land on an existing record/entry boundary.
	ErrInvalidBoundary = errors.New("eventstore: invalid truncate boundary")

	// ErrNotOpen is returned when an operation is attempted on a
	// closed or destroyed Partition or Index.
	ErrNotOpen = errors.New("eventstore: not open")

	// ErrOptimisticConcurrency is reserved for callers layering their own
	// versioning on top of an Index: compare Index.Length against an
	// expected version before issuing a write. The core never raises it.
	ErrOptimisticConcurrency = errors.New("eventstore: optimistic concurrency violation")

	// ErrDecompress is returned when a compressed payload cannot be
	// restored (corrupt zstd stream).
	ErrDecompress = errors.New("eventstore: decompress failed")
)
