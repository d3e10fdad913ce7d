package eventstore

import "encoding/binary"

// EntrySize is the fixed on-disk and in-memory size of an Entry, in
// bytes: a uint32 Number, a uint64 Position, a uint32 Size, and a
// uint32 Partition.
const EntrySize = 20

// Entry maps a 1-based slot in an Index to a document's location in a
// Partition. Number is the monotonic key carried by this slot — for
// the common case it equals the slot itself, but a caller-supplied
// mapper (e.g. a global sequence or a timestamp) may inject any
// non-decreasing sequence instead. Slot 0 is never assigned; Number
// must never be zero in a valid Entry.
type Entry struct {
	Number    uint32
	Position  uint64
	Size      uint32
	Partition uint32
}

// encode serialises an Entry to exactly EntrySize bytes, big-endian.
func (e Entry) encode() [EntrySize]byte {
	var b [EntrySize]byte
	binary.BigEndian.PutUint32(b[0:4], e.Number)
	binary.BigEndian.PutUint64(b[4:12], e.Position)
	binary.BigEndian.PutUint32(b[12:16], e.Size)
	binary.BigEndian.PutUint32(b[16:20], e.Partition)
	return b
}

// decodeEntry parses exactly EntrySize bytes into an Entry. The
// caller must ensure len(b) == EntrySize.
func decodeEntry(b []byte) Entry {
	return Entry{
		Number:    binary.BigEndian.Uint32(b[0:4]),
		Position:  binary.BigEndian.Uint64(b[4:12]),
		Size:      binary.BigEndian.Uint32(b[12:16]),
		Partition: binary.BigEndian.Uint32(b[16:20]),
	}
}
