// Package ringbuffer provides the bounded mailbox shared by each pair of
// adjacent pipeline stages. One producer, one consumer. The producer never
// blocks: when the buffer is full the oldest unread element is overwritten.
// The consumer blocks until data arrives or Shutdown is called.
package ringbuffer

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a fixed-capacity circular buffer over values of type T.
// Beware! You almost certainly want T to be a small value type; use pointers
// for large objects.
type RingBuffer[T any] struct {
	mu        sync.Mutex
	dataAdded *sync.Cond

	buf  []T
	head int // next write position
	tail int // next read position
	full bool

	shutdown atomic.Bool
}

// New creates a RingBuffer with the given fixed capacity.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ringbuffer: capacity must be positive")
	}
	rb := &RingBuffer[T]{buf: make([]T, capacity)}
	rb.dataAdded = sync.NewCond(&rb.mu)
	return rb
}

// AddData stores x at the head and advances it. If the buffer is full the
// tail advances too, dropping the oldest unread element. After Shutdown this
// is a no-op. Never blocks.
func (rb *RingBuffer[T]) AddData(x T) {
	rb.mu.Lock()
	if rb.shutdown.Load() {
		rb.mu.Unlock()
		return
	}
	rb.buf[rb.head] = x
	if rb.full {
		rb.tail = (rb.tail + 1) % len(rb.buf)
	}
	rb.head = (rb.head + 1) % len(rb.buf)
	rb.full = rb.head == rb.tail
	rb.mu.Unlock()
	rb.dataAdded.Signal()
}

// Consume blocks until an element is available or Shutdown has been called.
// The second return value is false only when the buffer is empty and shut
// down; elements present at the moment of shutdown are still delivered.
func (rb *RingBuffer[T]) Consume() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for rb.empty() && !rb.shutdown.Load() {
		rb.dataAdded.Wait()
	}
	if rb.empty() {
		var zero T
		return zero, false
	}
	return rb.take(), true
}

// TryConsume is the non-blocking variant of Consume. It returns false when
// the buffer is empty, whether or not shutdown has been signaled.
func (rb *RingBuffer[T]) TryConsume() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.empty() {
		var zero T
		return zero, false
	}
	return rb.take(), true
}

// take removes and returns the element at the tail. Caller holds rb.mu and
// has verified the buffer is non-empty.
func (rb *RingBuffer[T]) take() T {
	x := rb.buf[rb.tail]
	rb.full = false
	rb.tail = (rb.tail + 1) % len(rb.buf)
	return x
}

// Shutdown marks the buffer shut down and wakes all blocked consumers.
// Pending elements remain consumable; further AddData calls are ignored.
// Idempotent.
func (rb *RingBuffer[T]) Shutdown() {
	rb.mu.Lock()
	rb.shutdown.Store(true)
	rb.mu.Unlock()
	rb.dataAdded.Broadcast()
}

// Reset empties the buffer and clears the shutdown flag. Not safe to call
// while a consumer is blocked in Consume.
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = rb.tail
	rb.full = false
	rb.shutdown.Store(false)
}

// Empty reports whether no unread elements are stored.
func (rb *RingBuffer[T]) Empty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.empty()
}

func (rb *RingBuffer[T]) empty() bool {
	return !rb.full && rb.head == rb.tail
}

// Full reports whether the buffer is at capacity.
func (rb *RingBuffer[T]) Full() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.full
}

// Size returns the number of unread elements. The value is a snapshot and
// may be stale as soon as it is returned.
func (rb *RingBuffer[T]) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.full {
		return len(rb.buf)
	}
	if rb.head >= rb.tail {
		return rb.head - rb.tail
	}
	return len(rb.buf) + rb.head - rb.tail
}

// Capacity returns the fixed capacity given at construction.
func (rb *RingBuffer[T]) Capacity() int {
	return len(rb.buf)
}

// IsShutdown reports whether Shutdown has been called.
func (rb *RingBuffer[T]) IsShutdown() bool {
	return rb.shutdown.Load()
}
