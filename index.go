// Index: a fixed-record array of Entry values, one per 1-based slot,
// addressed by arithmetic rather than scan.
package eventstore

import (
	"errors"
	"iter"
	"os"
	"sync"
	"time"
)

// Index is an append-only array of fixed-size Entry records, keyed by
// a caller-chosen metadata fingerprint so a reopen with a different
// matcher is caught rather than silently accepted.
type Index struct {
	lifecycle

	path string
	cfg  Config

	mu          sync.RWMutex
	file        *os.File
	headerLen   int64
	flushedSize int64
	buf         *writeBuffer
	timer       *time.Timer
}

// NewIndex constructs an Index bound to path. Call Open before use.
func NewIndex(path string, cfg Config) *Index {
	return &Index{path: path, cfg: cfg.withDefaults()}
}

// Open validates the index file's header against metadata, creating
// the file with metadata if absent. On reopen, metadata must compare
// byte-for-byte equal to what is stored, or ErrIndexMetadataMismatch
// is returned — this is how a matcher fingerprint (see Fingerprint)
// guards against reopening an index under a different predicate.
// Idempotent.
func (x *Index) Open(metadata map[string]string) error {
	f, err := os.OpenFile(x.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if err := x.OpenFile(f, metadata); err != nil {
		f.Close()
		return err
	}
	return nil
}

// OpenFile is Open for a caller-supplied, already-opened file — used
// by Storage, which resolves index files through a sandboxed os.Root
// rather than a bare path. The Index takes ownership of f and closes
// it on Close or Destroy.
func (x *Index) OpenFile(f *os.File, metadata map[string]string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.isActive() {
		return nil
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}

	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		headerLen, err := writeIndexHeader(f, encoded)
		if err != nil {
			return err
		}
		x.headerLen = headerLen
		x.flushedSize = headerLen
	} else {
		hdr, err := readIndexHeader(f)
		if err != nil {
			return err
		}
		if !bytesEqual(hdr.metadataRaw, encoded) {
			return ErrIndexMetadataMismatch
		}
		x.headerLen = hdr.headerLen
		info, err = f.Stat()
		if err != nil {
			return err
		}
		if (info.Size()-x.headerLen)%EntrySize != 0 {
			return ErrIndexFileCorrupt
		}
		x.flushedSize = info.Size()
	}

	x.file = f
	x.buf = newWriteBuffer(x.cfg.WriteBufferSize)
	x.buf.base = x.flushedSize
	x.activate()

	if x.cfg.FlushDelay > 0 {
		x.timer = time.AfterFunc(x.cfg.FlushDelay, x.onTick)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (x *Index) onTick() {
	x.mu.Lock()
	if !x.isActive() {
		x.mu.Unlock()
		return
	}
	fns, err := x.flushLocked()
	if err != nil {
		x.markClosed()
		x.mu.Unlock()
		return
	}
	x.timer.Reset(x.cfg.FlushDelay)
	x.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// slotOffset returns the file offset of the 1-based slot n's record.
func (x *Index) slotOffset(n int64) int64 {
	return x.headerLen + (n-1)*EntrySize
}

// Add appends entry at the next slot, returning the byte position of
// its record within the index file.
func (x *Index) Add(entry Entry, cb func()) (int64, bool, error) {
	encoded := entry.encode()
	return x.AddEncoded(encoded[:], cb)
}

// AddEncoded is Add's byte-level entry point, exercising the wire
// validation Add cannot: ErrInvalidEntrySize if data is not exactly
// EntrySize bytes, ErrWrongEntryObject if its decoded Number field is
// the reserved sentinel 0.
func (x *Index) AddEncoded(data []byte, cb func()) (int64, bool, error) {
	if len(data) != EntrySize {
		return 0, false, ErrInvalidEntrySize
	}
	if decodeEntry(data).Number == 0 {
		return 0, false, ErrWrongEntryObject
	}

	x.mu.Lock()
	if !x.isActive() {
		x.mu.Unlock()
		return 0, false, nil
	}

	var fns []func()
	if !x.buf.fits(EntrySize) {
		var err error
		fns, err = x.flushLocked()
		if err != nil {
			x.markClosed()
			x.mu.Unlock()
			return 0, false, err
		}
	}

	position := x.buf.tail()
	record := make([]byte, EntrySize)
	copy(record, data)
	x.buf.append(record, cb)
	x.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return position, true, nil
}

func (x *Index) flushLocked() ([]func(), error) {
	if x.buf.len() == 0 {
		return nil, nil
	}
	if _, err := x.file.WriteAt(x.buf.buf, x.buf.base); err != nil {
		return nil, err
	}
	if err := x.file.Sync(); err != nil {
		return nil, err
	}
	newBase := x.buf.tail()
	fns := x.buf.reset(newBase)
	x.flushedSize = newBase
	return fns, nil
}

// Length returns the number of entries currently stored, including
// any only buffered (not yet flushed), unless dirty reads are
// disabled.
func (x *Index) Length() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.isActive() {
		return 0
	}
	return x.countLocked()
}

func (x *Index) countLocked() int64 {
	return (x.visibleEndLocked() - x.headerLen) / EntrySize
}

func (x *Index) visibleEndLocked() int64 {
	if x.cfg.dirtyReads() {
		return x.buf.tail()
	}
	return x.flushedSize
}

// normalizeSlot resolves a possibly-negative 1-based slot against
// count, the current entry count. Negative n counts from the end
// (-1 is the last entry). Returns ok=false if n is 0, non-numeric in
// spirit (out of [1, count] or [-count, -1] after normalization), or
// count is 0.
func normalizeSlot(n, count int64) (int64, bool) {
	if n < 0 {
		n = count + n + 1
	}
	if n < 1 || n > count {
		return 0, false
	}
	return n, true
}

// Get returns the entry at 1-based slot n. A negative n addresses
// from the end (-1 is the last entry). (Entry{}, false, nil) means n
// is out of range.
func (x *Index) Get(n int64) (Entry, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.isActive() {
		return Entry{}, false, nil
	}
	return x.getLocked(n)
}

func (x *Index) getLocked(n int64) (Entry, bool, error) {
	visibleEnd := x.visibleEndLocked()
	count := (visibleEnd - x.headerLen) / EntrySize
	slot, ok := normalizeSlot(n, count)
	if !ok {
		return Entry{}, false, nil
	}

	pos := x.slotOffset(slot)
	buf := make([]byte, EntrySize)
	if err := x.readRangeLocked(buf, pos, visibleEnd); err != nil {
		return Entry{}, false, ErrIndexFileCorrupt
	}
	return decodeEntry(buf), true, nil
}

func (x *Index) readRangeLocked(dst []byte, pos, visibleEnd int64) error {
	n := int64(len(dst))
	if pos+n > visibleEnd {
		return errShortRead
	}

	fromFile := int64(0)
	if pos < x.flushedSize {
		fromFile = min(n, x.flushedSize-pos)
		if _, err := x.file.ReadAt(dst[:fromFile], pos); err != nil {
			return err
		}
	}
	if fromFile < n {
		bufPos := pos + fromFile
		if !x.buf.contains(bufPos, int(n-fromFile)) {
			return errShortRead
		}
		x.buf.readAt(dst[fromFile:], bufPos)
	}
	return nil
}

var errShortRead = errors.New("eventstore: short read")

// Range returns entries in slots [from, to], inclusive on both ends,
// 1-based. Negative endpoints count from the end; to defaults to the
// current length when the caller passes a value > length. Returns
// (nil, false, nil) if either endpoint normalizes outside [1, length]
// or from > to.
func (x *Index) Range(from, to int64) ([]Entry, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.isActive() {
		return nil, false, nil
	}

	count := x.countLocked()
	if count == 0 {
		return nil, false, nil
	}
	fromSlot, ok := normalizeSlot(from, count)
	if !ok {
		return nil, false, nil
	}
	toSlot, ok := normalizeSlot(min64(to, count), count)
	if !ok {
		return nil, false, nil
	}
	if fromSlot > toSlot {
		return nil, false, nil
	}

	out := make([]Entry, 0, toSlot-fromSlot+1)
	for n := fromSlot; n <= toSlot; n++ {
		e, ok, err := x.getLocked(n)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out, true, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// All is equivalent to Range(1, Length()), returned as a restartable
// lazy sequence over every stored entry in slot order.
func (x *Index) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var n int64 = 1
		for {
			x.mu.RLock()
			if !x.isActive() {
				x.mu.RUnlock()
				return
			}
			e, ok, err := x.getLocked(n)
			x.mu.RUnlock()
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(e, nil) {
				return
			}
			n++
		}
	}
}

// LastEntry returns the most recently added entry, or (Entry{}, false)
// if the index is empty.
func (x *Index) LastEntry() (Entry, bool, error) {
	return x.Get(-1)
}

// Find maps target to a 1-based slot via binary search over the
// monotonically non-decreasing Number sequence, returning both the
// slot and its entry so the
// result can be fed directly into Get/Range/Tail — the whole point of
// mapping an external monotonic key to a local slot.
//
// With min == false (the default), Find returns the largest slot
// whose Number is <= target, or (0, Entry{}, false, nil) if no such
// slot exists. With min == true, Find returns the smallest slot whose
// Number is >= target, or (0, Entry{}, false, nil) if target exceeds
// every stored Number.
func (x *Index) Find(target uint32, min bool) (int64, Entry, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.isActive() {
		return 0, Entry{}, false, nil
	}

	count := x.countLocked()
	if count == 0 {
		return 0, Entry{}, false, nil
	}

	lo, hi := int64(1), count
	var floorSlot, ceilSlot int64
	var floor, ceil Entry
	haveFloor, haveCeil := false, false
	for lo <= hi {
		mid := lo + (hi-lo)/2
		e, ok, err := x.getLocked(mid)
		if err != nil {
			return 0, Entry{}, false, err
		}
		if !ok {
			return 0, Entry{}, false, ErrIndexFileCorrupt
		}
		switch {
		case e.Number < target || (e.Number == target && !min):
			floorSlot, floor, haveFloor = mid, e, true
			lo = mid + 1
		default:
			ceilSlot, ceil, haveCeil = mid, e, true
			hi = mid - 1
		}
	}

	if min {
		if haveCeil {
			return ceilSlot, ceil, true, nil
		}
		return 0, Entry{}, false, nil
	}
	if haveFloor {
		return floorSlot, floor, true, nil
	}
	return 0, Entry{}, false, nil
}

// Truncate keeps slots 1..afterSlot and drops the rest. afterSlot >=
// length is a no-op; a negative afterSlot clears the index entirely.
func (x *Index) Truncate(afterSlot int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.isActive() {
		return ErrNotOpen
	}
	if afterSlot < 0 {
		afterSlot = 0
	}

	cut := x.headerLen + afterSlot*EntrySize
	visibleEnd := x.buf.tail()
	if cut >= visibleEnd {
		return nil
	}

	if cut < x.flushedSize {
		if err := x.file.Truncate(cut); err != nil {
			return err
		}
		x.flushedSize = cut
	}
	x.buf.truncate(cut)
	return nil
}

// Destroy closes and removes the index file entirely. Only valid for
// an Index opened via Open(path); an Index opened via OpenFile inside
// a sandboxed root has no path to remove by and must be destroyed by
// its owner instead (see Storage.DropIndex).
func (x *Index) Destroy() error {
	x.mu.Lock()
	path := x.path
	if x.isActive() {
		if x.timer != nil {
			x.timer.Stop()
		}
		x.file.Close()
		x.markClosed()
	}
	x.mu.Unlock()
	return os.Remove(path)
}

// Close flushes buffered entries, fsyncs, and releases the file
// descriptor. Idempotent.
func (x *Index) Close() error {
	x.mu.Lock()
	if !x.isActive() {
		x.mu.Unlock()
		return nil
	}
	if x.timer != nil {
		x.timer.Stop()
	}
	fns, err := x.flushLocked()
	x.markClosed()
	cerr := x.file.Close()
	x.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if err != nil {
		return err
	}
	return cerr
}
