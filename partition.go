// Partition: an append-only byte log of self-delimited documents.
//
// Each record on disk is [uint32 big-endian length][payload][0x0A
// trailer]. The trailer is a framing witness: on read, if the
// declared length runs past the end of the readable data, or the byte
// after the payload is not the trailer, the write was torn and
// ErrCorruptFile is raised. Reading a record does not check the
// header of the record that follows it.
package eventstore

import (
	"encoding/binary"
	"io"
	"iter"
	"os"
	"sync"
	"time"
)

const trailerByte = 0x0A
const lengthPrefixSize = 4
const recordOverhead = lengthPrefixSize + 1 // length prefix + trailer byte

// Partition is an append-only document log backed by one file.
type Partition struct {
	lifecycle

	path string
	cfg  Config

	mu          sync.RWMutex
	file        *os.File
	flushedSize int64
	buf         *writeBuffer
	timer       *time.Timer
}

// NewPartition constructs a Partition bound to path. Call Open before
// use.
func NewPartition(path string, cfg Config) *Partition {
	return &Partition{path: path, cfg: cfg.withDefaults()}
}

// Open validates the partition file's header, creating it if absent.
// Idempotent: calling Open on an already-active Partition is a no-op.
func (p *Partition) Open() error {
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if err := p.OpenFile(f); err != nil {
		f.Close()
		return err
	}
	return nil
}

// OpenFile is Open for a caller-supplied, already-opened file — used
// by Storage, which resolves partition files through a sandboxed
// os.Root rather than a bare path. The Partition takes ownership of f
// and closes it on Close.
func (p *Partition) OpenFile(f *os.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isActive() {
		return nil
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		if err := writePartitionHeader(f); err != nil {
			return err
		}
		p.flushedSize = int64(magicSize)
	} else {
		if err := readPartitionHeader(f); err != nil {
			return err
		}
		p.flushedSize = info.Size()
	}

	p.file = f
	p.buf = newWriteBuffer(p.cfg.WriteBufferSize)
	p.buf.base = p.flushedSize
	p.activate()

	if p.cfg.FlushDelay > 0 {
		p.timer = time.AfterFunc(p.cfg.FlushDelay, p.onTick)
	}
	return nil
}

// onTick runs on the idle-flush timer, flushing any buffered bytes
// and invoking their callbacks before rescheduling itself.
func (p *Partition) onTick() {
	p.mu.Lock()
	if !p.isActive() {
		p.mu.Unlock()
		return
	}
	fns, err := p.flushLocked()
	if err != nil {
		p.markClosed()
		p.mu.Unlock()
		return
	}
	p.timer.Reset(p.cfg.FlushDelay)
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Write appends data to the partition, returning the byte position of
// the record's length prefix — the value later passed to ReadFrom —
// and true, or (0, false) if the partition is not open.
func (p *Partition) Write(data []byte) (int64, bool) {
	pos, ok, _ := p.WriteCallback(data, nil)
	return pos, ok
}

// WriteCallback is Write with an optional completion callback, fired
// once the record is durable (the enclosing buffer flush has been
// written and fsync'd, or immediately for records too large to
// buffer). A non-nil error means a fatal I/O failure closed the
// partition.
func (p *Partition) WriteCallback(data []byte, cb func()) (int64, bool, error) {
	p.mu.Lock()
	if !p.isActive() {
		p.mu.Unlock()
		return 0, false, nil
	}

	recordLen := lengthPrefixSize + len(data) + 1
	record := make([]byte, recordLen)
	binary.BigEndian.PutUint32(record[:lengthPrefixSize], uint32(len(data)))
	copy(record[lengthPrefixSize:], data)
	record[recordLen-1] = trailerByte

	var fns []func()
	if !p.buf.fits(recordLen) {
		var err error
		fns, err = p.flushLocked()
		if err != nil {
			p.markClosed()
			p.mu.Unlock()
			return 0, false, err
		}
	}

	position := p.buf.tail()

	if recordLen > p.buf.capacity {
		// Larger than the buffer itself: flush directly, bypassing it.
		if _, err := p.file.WriteAt(record, position); err != nil {
			p.markClosed()
			p.mu.Unlock()
			return 0, false, err
		}
		if err := p.file.Sync(); err != nil {
			p.markClosed()
			p.mu.Unlock()
			return 0, false, err
		}
		p.flushedSize = position + int64(recordLen)
		p.buf.base = p.flushedSize
		p.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
		if cb != nil {
			cb()
		}
		return position, true, nil
	}

	p.buf.append(record, cb)
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return position, true, nil
}

// flushLocked writes buffered bytes to the file and fsyncs them. The
// caller must hold p.mu and must invoke the returned callbacks only
// after releasing it.
func (p *Partition) flushLocked() ([]func(), error) {
	if p.buf.len() == 0 {
		return nil, nil
	}
	if _, err := p.file.WriteAt(p.buf.buf, p.buf.base); err != nil {
		return nil, err
	}
	if err := p.file.Sync(); err != nil {
		return nil, err
	}
	newBase := p.buf.tail()
	fns := p.buf.reset(newBase)
	p.flushedSize = newBase
	return fns, nil
}

// ReadFrom reads the record starting at position. If expectedSize is
// non-negative and does not match the on-disk declared length,
// ErrInvalidDataSize is returned. A torn or malformed record yields
// ErrCorruptFile. (data, false, nil) means no record exists there
// (e.g. position is out of range, or dirty reads are disabled and the
// record is only buffered).
func (p *Partition) ReadFrom(position int64, expectedSize int64) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isActive() {
		return nil, false, nil
	}

	visibleEnd := p.flushedSize
	if p.cfg.dirtyReads() {
		visibleEnd = p.buf.tail()
	}
	if position < int64(magicSize) || position >= visibleEnd {
		return nil, false, nil
	}

	lengthBuf := make([]byte, lengthPrefixSize)
	if err := p.readRangeLocked(lengthBuf, position, visibleEnd); err != nil {
		return nil, false, ErrCorruptFile
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if expectedSize >= 0 && int64(length) != expectedSize {
		return nil, false, ErrInvalidDataSize
	}

	total := int64(lengthPrefixSize) + int64(length) + 1
	if position+total > visibleEnd {
		return nil, false, ErrCorruptFile
	}

	full := make([]byte, total)
	if err := p.readRangeLocked(full, position, visibleEnd); err != nil {
		return nil, false, ErrCorruptFile
	}
	if full[total-1] != trailerByte {
		return nil, false, ErrCorruptFile
	}

	payload := make([]byte, length)
	copy(payload, full[lengthPrefixSize:lengthPrefixSize+int64(length)])
	return payload, true, nil
}

// readRangeLocked copies len(dst) bytes starting at file offset pos
// into dst, combining the durable file and the write buffer as
// needed. The caller must hold p.mu (for read or write) and have
// verified pos+len(dst) <= visibleEnd.
func (p *Partition) readRangeLocked(dst []byte, pos, visibleEnd int64) error {
	n := int64(len(dst))
	if pos+n > visibleEnd {
		return io.ErrUnexpectedEOF
	}

	fromFile := int64(0)
	if pos < p.flushedSize {
		fromFile = min(n, p.flushedSize-pos)
		if _, err := p.file.ReadAt(dst[:fromFile], pos); err != nil {
			return err
		}
	}
	if fromFile < n {
		bufPos := pos + fromFile
		if !p.buf.contains(bufPos, int(n-fromFile)) {
			return io.ErrUnexpectedEOF
		}
		p.buf.readAt(dst[fromFile:], bufPos)
	}
	return nil
}

// ReadAll returns a restartable lazy sequence of every payload in
// write order, starting after the header.
func (p *Partition) ReadAll() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		pos := int64(magicSize)
		for {
			data, ok, err := p.ReadFrom(pos, -1)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(data, nil) {
				return
			}
			pos += int64(lengthPrefixSize) + int64(len(data)) + 1
		}
	}
}

// Truncate mutates only the tail of the partition. position >=
// current size is a no-op; a negative position truncates all content
// (preserving the header); any other position must land exactly on
// an existing record boundary or ErrInvalidBoundary is returned.
func (p *Partition) Truncate(position int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isActive() {
		return ErrNotOpen
	}

	visibleEnd := p.buf.tail()
	if position >= visibleEnd {
		return nil
	}

	cut := int64(magicSize)
	if position >= 0 {
		if position < int64(magicSize) {
			return ErrInvalidBoundary
		}
		ok, err := p.isBoundaryLocked(position, visibleEnd)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidBoundary
		}
		cut = position
	}

	if cut < p.flushedSize {
		if err := p.file.Truncate(cut); err != nil {
			return err
		}
		p.flushedSize = cut
	}
	p.buf.truncate(cut)
	return nil
}

// isBoundaryLocked reports whether position is exactly the start of
// some record between the header and visibleEnd.
func (p *Partition) isBoundaryLocked(position, visibleEnd int64) (bool, error) {
	pos := int64(magicSize)
	for pos < visibleEnd {
		if pos == position {
			return true, nil
		}
		if pos > position {
			return false, nil
		}
		lengthBuf := make([]byte, lengthPrefixSize)
		if err := p.readRangeLocked(lengthBuf, pos, visibleEnd); err != nil {
			return false, nil
		}
		length := binary.BigEndian.Uint32(lengthBuf)
		pos += int64(lengthPrefixSize) + int64(length) + 1
	}
	return pos == position, nil
}

// Close flushes any buffered bytes, fsyncs, and releases the file
// descriptor. Idempotent.
func (p *Partition) Close() error {
	p.mu.Lock()
	if !p.isActive() {
		p.mu.Unlock()
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	fns, err := p.flushLocked()
	p.markClosed()
	cerr := p.file.Close()
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if err != nil {
		return err
	}
	return cerr
}
