package eventstore

// flushCallback pairs a callback with the file offset at or after
// which its bytes become durable once the buffer is flushed.
type flushCallback struct {
	offset int64
	fn     func()
}

// writeBuffer is a logical extension of a file: a contiguous region
// of not-yet-flushed bytes, plus the file offset the buffer begins
// at. Partition and Index both hold one to get buffered appends,
// dirty reads, and deferred flush-completion callbacks.
type writeBuffer struct {
	capacity  int
	buf       []byte
	base      int64 // file offset corresponding to buf[0]
	callbacks []flushCallback
}

func newWriteBuffer(capacity int) *writeBuffer {
	return &writeBuffer{capacity: capacity}
}

// len returns the number of buffered, not-yet-flushed bytes.
func (b *writeBuffer) len() int {
	return len(b.buf)
}

// tail returns the file offset just past the buffered bytes — the
// position the next appended byte would occupy.
func (b *writeBuffer) tail() int64 {
	return b.base + int64(len(b.buf))
}

// fits reports whether n additional bytes can be appended without
// exceeding capacity.
func (b *writeBuffer) fits(n int) bool {
	return len(b.buf)+n <= b.capacity
}

// append adds data to the buffer and optionally registers a callback
// to fire once the appended bytes are durable.
func (b *writeBuffer) append(data []byte, cb func()) {
	b.buf = append(b.buf, data...)
	if cb != nil {
		b.callbacks = append(b.callbacks, flushCallback{offset: b.tail(), fn: cb})
	}
}

// readAt copies len(dst) bytes starting at file offset pos into dst.
// The caller must have verified pos and pos+len(dst) fall within
// [b.base, b.tail()) via contains.
func (b *writeBuffer) readAt(dst []byte, pos int64) {
	start := pos - b.base
	copy(dst, b.buf[start:start+int64(len(dst))])
}

// contains reports whether the half-open byte range [pos, pos+n)
// lies entirely within the buffered region.
func (b *writeBuffer) contains(pos int64, n int) bool {
	return pos >= b.base && pos+int64(n) <= b.tail()
}

// reset clears the buffer after its contents have been written and
// fsync'd at newBase, returning the callbacks to invoke now that
// those bytes are durable.
func (b *writeBuffer) reset(newBase int64) []func() {
	fns := make([]func(), len(b.callbacks))
	for i, cb := range b.callbacks {
		fns[i] = cb.fn
	}
	b.buf = b.buf[:0]
	b.base = newBase
	b.callbacks = b.callbacks[:0]
	return fns
}

// truncate drops buffered bytes at or after the file offset cut,
// discarding — without invoking — any callbacks registered for bytes
// that no longer exist. Used by Truncate to keep the buffer
// consistent with a shortened file.
func (b *writeBuffer) truncate(cut int64) {
	if cut <= b.base {
		b.base = cut
		b.buf = b.buf[:0]
		b.callbacks = b.callbacks[:0]
		return
	}
	if cut >= b.tail() {
		return
	}
	keep := cut - b.base
	b.buf = b.buf[:keep]

	kept := b.callbacks[:0]
	for _, cb := range b.callbacks {
		if cb.offset <= cut {
			kept = append(kept, cb)
		}
	}
	b.callbacks = kept
}
