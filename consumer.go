// Consumer is a durable tailing cursor over one Storage index: it
// remembers the last processed slot in a small sidecar state file,
// replays everything since, then follows new writes live.
package eventstore

import (
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"
)

const consumerStateSuffix = ".state"

type consumerState struct {
	Position int64 `json:"position"`
}

// Consumer drains Storage.Tail(indexName, position+1) into a sequence
// of "data" callbacks, persisting the new position before each emission.
// Subscribing a data callback auto-starts the consumer exactly once;
// a subsequent manual Start is a no-op.
type Consumer[T any] struct {
	storage   *Storage[T]
	indexName string
	stateName string

	mu       sync.Mutex
	position int64
	started  bool
	stopCh   chan struct{}
	caughtUp chan struct{}

	subMu       sync.Mutex
	subscribers []func(T)
}

// NewConsumer builds a Consumer named consumerName over indexName,
// persisting its position in a state file inside storage's directory.
// Call Start or Subscribe to begin draining.
func NewConsumer[T any](storage *Storage[T], indexName, consumerName string) *Consumer[T] {
	return &Consumer[T]{
		storage:   storage,
		indexName: indexName,
		stateName: indexName + "." + consumerName + consumerStateSuffix,
		caughtUp:  make(chan struct{}),
	}
}

func (c *Consumer[T]) loadPosition() (int64, error) {
	f, err := c.storage.root.Open(c.stateName)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var st consumerState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return 0, nil
	}
	return st.Position, nil
}

// persist writes position to the state file via create-temp-then-
// rename, so a crash mid-write never leaves a half-written state file
// in place.
func (c *Consumer[T]) persist(position int64) error {
	tmpName := c.stateName + ".tmp"
	f, err := c.storage.root.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	data, err := json.Marshal(consumerState{Position: position})
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return c.storage.root.Rename(tmpName, c.stateName)
}

// Start reads the persisted position and begins draining in the
// background. Idempotent: a second Start before Stop is a no-op.
func (c *Consumer[T]) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}

	position, err := c.loadPosition()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.position = position
	c.started = true
	c.stopCh = make(chan struct{})
	c.caughtUp = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	idx, ok := c.storage.Index(c.indexName)
	if !ok {
		return fmt.Errorf("eventstore: consumer: index %q not found", c.indexName)
	}
	initialLength := idx.Length()

	stream := c.storage.Tail(c.indexName, position+1, stop)
	go c.drain(stream, initialLength)
	return nil
}

func (c *Consumer[T]) drain(stream *ReadableStream[T], initialLength int64) {
	c.mu.Lock()
	announced := c.position >= initialLength
	caughtUp := c.caughtUp
	c.mu.Unlock()
	if announced {
		close(caughtUp)
	}

	for doc, err := range stream.Seq() {
		if err != nil {
			return
		}

		c.mu.Lock()
		c.position++
		pos := c.position
		caughtUp := c.caughtUp
		c.mu.Unlock()

		c.persist(pos)

		c.emit(doc)

		if !announced && pos >= initialLength {
			announced = true
			close(caughtUp)
		}
	}
}

func (c *Consumer[T]) emit(doc T) {
	c.subMu.Lock()
	subs := make([]func(T), len(c.subscribers))
	copy(subs, c.subscribers)
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(doc)
	}
}

// Subscribe registers fn to be called with each document as it is
// drained, in order. A Subscribe call on a Consumer that is not
// running (never started, or stopped) triggers Start.
func (c *Consumer[T]) Subscribe(fn func(T)) error {
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.subMu.Unlock()

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return c.Start()
	}
	return nil
}

// CaughtUp returns a channel that closes once the consumer has
// drained every entry that existed at Start time.
func (c *Consumer[T]) CaughtUp() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caughtUp
}

// Position returns the last persisted slot processed.
func (c *Consumer[T]) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Stop suspends draining without losing position; a later Start
// resumes from exactly where Stop left off.
func (c *Consumer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	close(c.stopCh)
	c.started = false
}
