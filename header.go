// File header formats shared by Partition and Index.
//
// Both file formats begin with an 8-byte magic: a 6-byte type prefix
// ("nesprt" or "nesidx") followed by a 2-byte format version ("01").
// Index files additionally carry a length-prefixed JSON metadata blob
// immediately after the magic. All multi-byte integers in both
// formats are big-endian.
package eventstore

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	json "github.com/goccy/go-json"
)

const formatVersion = "01"

const (
	partitionMagicPrefix = "nesprt"
	indexMagicPrefix     = "nesidx"
)

// PartitionMagic is the 8-byte magic at the start of every partition
// file.
const PartitionMagic = partitionMagicPrefix + formatVersion

// IndexMagic is the 8-byte magic at the start of every index file.
const IndexMagic = indexMagicPrefix + formatVersion

// magicSize is the length, in bytes, of the file magic.
const magicSize = 8

// indexMetaLenSize is the length, in bytes, of the metadata-length
// field immediately following an index file's magic.
const indexMetaLenSize = 4

// checkMagic validates an 8-byte magic buffer against prefix,
// distinguishing a structurally wrong header from a merely
// unsupported version.
func checkMagic(buf []byte, prefix string) error {
	if len(buf) < magicSize {
		return ErrInvalidFileHeader
	}
	if string(buf[:len(prefix)]) != prefix {
		return ErrInvalidFileHeader
	}
	if string(buf[len(prefix):magicSize]) != formatVersion {
		return ErrInvalidFileVersion
	}
	return nil
}

// readPartitionHeader validates a partition file's magic, reading it
// from the start of f.
func readPartitionHeader(f *os.File) error {
	buf := make([]byte, magicSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return err
	}
	return checkMagic(buf, partitionMagicPrefix)
}

// writePartitionHeader writes a fresh partition magic to f at offset 0.
func writePartitionHeader(f *os.File) error {
	_, err := f.WriteAt([]byte(PartitionMagic), 0)
	return err
}

// encodeMetadata serialises an opaque metadata dictionary with
// goccy/go-json, which marshals map[string]string with keys in sorted
// order, making the encoding deterministic across processes — a
// requirement for the bit-exact comparison Index.Open performs on
// reopen. The encoding is newline-terminated.
func encodeMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeMetadata parses a raw metadata blob (including its trailing
// newline) back into a dictionary.
func decodeMetadata(raw []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(bytes.TrimRight(raw, "\n"), &m); err != nil {
		return nil, ErrInvalidMetadata
	}
	return m, nil
}

// indexHeader is the parsed, validated preamble of an index file.
type indexHeader struct {
	metadataRaw []byte // exact bytes as stored on disk, including trailing newline
	headerLen   int64  // byte offset where the first Entry begins
}

// readIndexHeader validates the magic and reads the metadata blob
// from an existing index file.
func readIndexHeader(f *os.File) (indexHeader, error) {
	prefix := make([]byte, magicSize+indexMetaLenSize)
	if _, err := io.ReadFull(f, prefix); err != nil {
		return indexHeader{}, err
	}
	if err := checkMagic(prefix[:magicSize], indexMagicPrefix); err != nil {
		return indexHeader{}, err
	}
	metaLen := binary.BigEndian.Uint32(prefix[magicSize : magicSize+indexMetaLenSize])

	info, err := f.Stat()
	if err != nil {
		return indexHeader{}, err
	}
	headerLen := int64(magicSize+indexMetaLenSize) + int64(metaLen)
	if headerLen > info.Size() {
		return indexHeader{}, ErrInvalidMetadataSize
	}

	raw := make([]byte, metaLen)
	if metaLen > 0 {
		if _, err := f.ReadAt(raw, int64(magicSize+indexMetaLenSize)); err != nil {
			return indexHeader{}, err
		}
	}
	if _, err := decodeMetadata(raw); err != nil {
		return indexHeader{}, err
	}

	return indexHeader{metadataRaw: raw, headerLen: headerLen}, nil
}

// writeIndexHeader writes a fresh index magic, metadata length, and
// metadata blob to f starting at offset 0, returning the resulting
// header length.
func writeIndexHeader(f *os.File, metadataRaw []byte) (int64, error) {
	buf := make([]byte, magicSize+indexMetaLenSize)
	copy(buf, IndexMagic)
	binary.BigEndian.PutUint32(buf[magicSize:], uint32(len(metadataRaw)))
	if _, err := f.WriteAt(buf, 0); err != nil {
		return 0, err
	}
	if len(metadataRaw) > 0 {
		if _, err := f.WriteAt(metadataRaw, int64(len(buf))); err != nil {
			return 0, err
		}
	}
	return int64(len(buf) + len(metadataRaw)), nil
}
