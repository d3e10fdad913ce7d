// Storage is the single-writer façade binding one Partition to a
// family of named, matcher-filtered Indexes.
package eventstore

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
)

// Matcher selects which indexes receive an entry for a given
// document. A panicking matcher aborts only that index's append; the
// partition write already happened and is not undone.
type Matcher[T any] func(doc T) bool

const indexFileSuffix = ".index"

type indexBinding[T any] struct {
	idx     *Index
	matcher Matcher[T]
}

// Storage owns one Partition (the primary, partition id 0) and zero
// or more named Indexes, each optionally gated by a Matcher. Writes
// go to the partition first, then to every index whose matcher
// accepts the document.
type Storage[T any] struct {
	root       *os.Root
	name       string
	cfg        Config
	serializer Serializer[T]
	partition  *Partition

	mu      sync.RWMutex
	indexes map[string]*indexBinding[T]

	signalMu sync.Mutex
	signals  map[string]chan struct{}
}

// Open creates or opens a Storage rooted at dir, with its primary
// partition file named name. The directory is created if absent and
// accessed through a sandboxed os.Root for the lifetime of the
// Storage.
func Open[T any](dir, name string, serializer Serializer[T], cfg Config) (*Storage[T], error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}

	f, err := root.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		root.Close()
		return nil, err
	}
	partition := NewPartition(filepath.Join(dir, name), cfg)
	if err := partition.OpenFile(f); err != nil {
		f.Close()
		root.Close()
		return nil, err
	}

	return &Storage[T]{
		root:       root,
		name:       name,
		cfg:        cfg,
		serializer: serializer,
		partition:  partition,
		indexes:    make(map[string]*indexBinding[T]),
		signals:    make(map[string]chan struct{}),
	}, nil
}

// EnsureIndex opens the named index if it already exists or creates
// it otherwise, attaching matcher in memory for subsequent writes.
// The matcher is never persisted — supply metadata (see Fingerprint)
// if reopening under a different matcher must be detected.
func (s *Storage[T]) EnsureIndex(name string, matcher Matcher[T], metadata map[string]string) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.indexes[name]; ok {
		b.matcher = matcher
		return b.idx, nil
	}

	filename := name + indexFileSuffix
	f, err := s.root.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	idx := NewIndex(filename, s.cfg)
	if err := idx.OpenFile(f, metadata); err != nil {
		f.Close()
		return nil, err
	}

	s.indexes[name] = &indexBinding[T]{idx: idx, matcher: matcher}
	return idx, nil
}

// Index returns the named index, previously created via EnsureIndex.
func (s *Storage[T]) Index(name string) (*Index, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.indexes[name]
	if !ok {
		return nil, false
	}
	return b.idx, true
}

// DropIndex closes and removes the named index file. Use this instead
// of Index.Destroy for indexes opened through a Storage, since they
// hold no standalone path.
func (s *Storage[T]) DropIndex(name string) error {
	s.mu.Lock()
	b, ok := s.indexes[name]
	if ok {
		delete(s.indexes, name)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := b.idx.Close(); err != nil {
		return err
	}
	return s.root.Remove(name + indexFileSuffix)
}

// Write serializes doc, optionally compresses it, appends it to the
// partition, then appends an Entry to every index whose matcher
// accepts doc. It returns the partition position and on-disk payload
// size (the values an Entry needs to later resolve the document). A
// matcher panic or a per-index write error is recorded per index and
// joined into the returned error; the partition write and any indexes
// that did succeed are not rolled back.
func (s *Storage[T]) Write(doc T, cb func()) (position int64, size int64, err error) {
	encoded, err := s.serializer.Encode(doc)
	if err != nil {
		return 0, 0, err
	}
	framed := frameWithCompression(encoded, s.cfg)

	position, ok, werr := s.partition.WriteCallback(framed, cb)
	if werr != nil {
		return 0, 0, werr
	}
	if !ok {
		return 0, 0, ErrNotOpen
	}
	size = int64(len(framed))

	s.mu.RLock()
	bindings := make(map[string]*indexBinding[T], len(s.indexes))
	for name, b := range s.indexes {
		bindings[name] = b
	}
	s.mu.RUnlock()

	var indexErrs []error
	for name, b := range bindings {
		accepted, matchErr := invokeMatcher(b.matcher, doc)
		if matchErr != nil {
			indexErrs = append(indexErrs, fmt.Errorf("index %q: %w", name, matchErr))
			continue
		}
		if !accepted {
			continue
		}
		// Count buffered entries too, even when dirty reads are disabled,
		// so numbers stay sequential.
		b.idx.mu.RLock()
		number := uint32((b.idx.buf.tail()-b.idx.headerLen)/EntrySize + 1)
		b.idx.mu.RUnlock()
		entry := Entry{Number: number, Position: uint64(position), Size: uint32(size), Partition: 0}
		if _, _, aerr := b.idx.Add(entry, nil); aerr != nil {
			indexErrs = append(indexErrs, fmt.Errorf("index %q: %w", name, aerr))
			continue
		}
		s.notify(name)
	}

	if len(indexErrs) > 0 {
		return position, size, errors.Join(indexErrs...)
	}
	return position, size, nil
}

func invokeMatcher[T any](matcher Matcher[T], doc T) (accepted bool, err error) {
	if matcher == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matcher panicked: %v", r)
		}
	}()
	return matcher(doc), nil
}

func frameWithCompression(payload []byte, cfg Config) []byte {
	if cfg.Compression && len(payload) >= cfg.CompressionThreshold {
		compressed := compressZstd(payload)
		out := make([]byte, 1+len(compressed))
		out[0] = compressionFlagZstd
		copy(out[1:], compressed)
		return out
	}
	out := make([]byte, 1+len(payload))
	out[0] = compressionFlagPlain
	copy(out[1:], payload)
	return out
}

func unframeCompression(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrCorruptFile
	}
	flag, payload := data[0], data[1:]
	switch flag {
	case compressionFlagPlain:
		return payload, nil
	case compressionFlagZstd:
		return decompressZstd(payload)
	default:
		return nil, ErrCorruptFile
	}
}

// ReadFrom reads and decodes the document at the given partition
// position. size, if non-negative, is checked against the declared
// on-disk record length. (doc, false, nil) means no record exists
// there.
func (s *Storage[T]) ReadFrom(position, size int64) (T, bool, error) {
	var zero T
	framed, ok, err := s.partition.ReadFrom(position, size)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	payload, err := unframeCompression(framed)
	if err != nil {
		return zero, false, err
	}
	doc, err := s.serializer.Decode(payload)
	if err != nil {
		return zero, false, err
	}
	return doc, true, nil
}

// ReadEntry resolves a single Entry from the named index through the
// partition.
func (s *Storage[T]) ReadEntry(entry Entry) (T, bool, error) {
	return s.ReadFrom(int64(entry.Position), int64(entry.Size))
}

// ReadRange resolves slots [fromSlot, toSlot] of the named index (see
// Index.Range for slot semantics) into a restartable lazy sequence of
// documents. The slots are resolved to entries once, when ReadRange is
// called; each Seq() call re-reads those entries' documents from the
// partition.
func (s *Storage[T]) ReadRange(fromSlot, toSlot int64, indexName string) (*ReadableStream[T], bool, error) {
	s.mu.RLock()
	b, ok := s.indexes[indexName]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	entries, ok, err := b.idx.Range(fromSlot, toSlot)
	if err != nil || !ok {
		return nil, ok, err
	}

	stream := newReadableStream(func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			var zero T
			for _, e := range entries {
				doc, ok, err := s.ReadEntry(e)
				if err != nil {
					if !yield(zero, err) {
						return
					}
					continue
				}
				if !ok {
					continue
				}
				if !yield(doc, nil) {
					return
				}
			}
		}
	})
	return stream, true, nil
}

// Tail returns a ReadableStream that replays every entry in indexName
// from fromSlot onward, then blocks for and follows new entries as
// Write appends them — the live-tailing half of the read path, used
// directly by Consumer. Closing stop unblocks a pending wait and ends
// the traversal; a nil stop means follow forever.
func (s *Storage[T]) Tail(indexName string, fromSlot int64, stop <-chan struct{}) *ReadableStream[T] {
	return newReadableStream(func() iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			var zero T
			slot := fromSlot
			if slot < 1 {
				slot = 1
			}
			for {
				s.mu.RLock()
				b, ok := s.indexes[indexName]
				s.mu.RUnlock()
				if !ok {
					return
				}

				length := b.idx.Length()
				if slot > length {
					select {
					case <-s.Wait(indexName):
					case <-stop:
						return
					}
					continue
				}

				entries, ok, err := b.idx.Range(slot, length)
				if err != nil {
					yield(zero, err)
					return
				}
				if !ok {
					return
				}
				for _, e := range entries {
					doc, ok, err := s.ReadEntry(e)
					if err != nil {
						if !yield(zero, err) {
							return
						}
						slot++
						continue
					}
					if !ok {
						slot++
						continue
					}
					if !yield(doc, nil) {
						return
					}
					slot++
				}
			}
		}
	})
}

// notify wakes any goroutine blocked in Wait(indexName) by closing
// the current broadcast channel and installing a fresh one — the
// typed-signal replacement for an event bus.
func (s *Storage[T]) notify(indexName string) {
	s.signalMu.Lock()
	defer s.signalMu.Unlock()
	if ch, ok := s.signals[indexName]; ok {
		close(ch)
	}
	s.signals[indexName] = make(chan struct{})
}

// Wait returns the current broadcast channel for indexName. The
// channel closes the next time Write appends a matching entry to that
// index; callers re-invoke Wait after each close to keep following.
func (s *Storage[T]) Wait(indexName string) <-chan struct{} {
	s.signalMu.Lock()
	defer s.signalMu.Unlock()
	ch, ok := s.signals[indexName]
	if !ok {
		ch = make(chan struct{})
		s.signals[indexName] = ch
	}
	return ch
}

// Close flushes and closes every index, then the partition, then
// releases the sandboxed directory root.
func (s *Storage[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, b := range s.indexes {
		if err := b.idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.partition.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.root.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
