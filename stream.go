// ReadableStream wraps a lazy document sequence with both a pull
// iterator and a channel-based subscription, used for historical
// range replay and as the live-following object handed to a Consumer.
package eventstore

import "iter"

// ReadableStream is restartable: each call to Seq or Data produces an
// independent traversal from the beginning, driven by the factory
// supplied at construction.
type ReadableStream[T any] struct {
	factory func() iter.Seq2[T, error]
}

func newReadableStream[T any](factory func() iter.Seq2[T, error]) *ReadableStream[T] {
	return &ReadableStream[T]{factory: factory}
}

// Seq returns a fresh lazy sequence over the stream's contents.
// Ranging over it with a "for v, err := range" loop pulls one
// document at a time; breaking out of the loop stops the underlying
// traversal (and, for a live Tail stream, releases its waiter).
func (rs *ReadableStream[T]) Seq() iter.Seq2[T, error] {
	return rs.factory()
}

// Data starts a fresh traversal in a goroutine and forwards each
// document on the returned channel, which is closed when the
// traversal ends or stop is closed — whichever comes first. A
// traversal error ends the goroutine without a corresponding value;
// use Seq directly if errors must be observed.
func (rs *ReadableStream[T]) Data(stop <-chan struct{}) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for v, err := range rs.Seq() {
			if err != nil {
				return
			}
			select {
			case out <- v:
			case <-stop:
				return
			}
		}
	}()
	return out
}
