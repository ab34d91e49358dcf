// Package ringbuf provides a fixed-capacity FIFO that evicts its oldest
// element when full. It backs every bounded history in the module
// (recent predictions, training history, live signals, close windows).
package ringbuf

import "sync"

// Ring is a mutex-guarded circular buffer. The zero value is not usable;
// construct with New.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int // index of the oldest element
	size  int
	evict uint64
}

// New creates a ring holding at most capacity elements. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
// Returns true if an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return false
	}

	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.evict++
	return true
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tail(r.size)
}

// Last returns a copy of the newest n elements, oldest first.
// n <= 0 or n > Len returns everything.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.size {
		n = r.size
	}
	return r.tail(n)
}

// Newest returns the most recently pushed element.
func (r *Ring[T]) Newest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// tail copies the newest n elements. Caller holds the lock.
func (r *Ring[T]) tail(n int) []T {
	out := make([]T, n)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Reset drops all elements. The eviction counter is kept.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.size = 0, 0
}

// Len returns the current number of elements.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns the total number of elements dropped to make room.
func (r *Ring[T]) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evict
}
