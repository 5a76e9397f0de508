package telemetry

import (
	"fmt"
	"iter"
	"sync"
)

// SlidingWindow is a bounded FIFO. Adding to a full window evicts the
// oldest element. All methods are safe for concurrent use.
type SlidingWindow[T comparable] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	maxSize int
}

// NewSlidingWindow creates a window holding at most maxSize elements.
func NewSlidingWindow[T comparable](maxSize int) (*SlidingWindow[T], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: window max size must be positive, got %d", ErrInvalidArgument, maxSize)
	}
	initial := maxSize
	if initial > 16 {
		initial = 16
	}
	return &SlidingWindow[T]{
		items:   make([]T, initial),
		maxSize: maxSize,
	}, nil
}

// Add appends x as the newest element, evicting the oldest when full.
func (w *SlidingWindow[T]) Add(x T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == w.maxSize {
		var zero T
		w.items[w.head] = zero
		w.head = (w.head + 1) % len(w.items)
		w.size--
	}
	if w.size == len(w.items) {
		w.grow()
	}
	w.items[(w.head+w.size)%len(w.items)] = x
	w.size++
}

// grow doubles the backing ring, capped at maxSize. Caller holds mu.
func (w *SlidingWindow[T]) grow() {
	capacity := len(w.items) * 2
	if capacity > w.maxSize {
		capacity = w.maxSize
	}
	items := make([]T, capacity)
	for i := 0; i < w.size; i++ {
		items[i] = w.items[(w.head+i)%len(w.items)]
	}
	w.items = items
	w.head = 0
}

// Size returns the number of stored elements.
func (w *SlidingWindow[T]) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// MaxSize returns the capacity fixed at construction.
func (w *SlidingWindow[T]) MaxSize() int {
	return w.maxSize
}

// Get returns the element at index i, where 0 is the oldest.
func (w *SlidingWindow[T]) Get(i int) (T, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= w.size {
		var zero T
		return zero, fmt.Errorf("%w: index %d, size %d", ErrOutOfRange, i, w.size)
	}
	return w.items[(w.head+i)%len(w.items)], nil
}

// Snapshot returns a copy of the contents ordered oldest to newest.
func (w *SlidingWindow[T]) Snapshot() []T {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]T, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.items[(w.head+i)%len(w.items)]
	}
	return out
}

// Clear removes every element.
func (w *SlidingWindow[T]) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	clear(w.items)
	w.head = 0
	w.size = 0
}

// Contains reports whether x is currently stored.
func (w *SlidingWindow[T]) Contains(x T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := 0; i < w.size; i++ {
		if w.items[(w.head+i)%len(w.items)] == x {
			return true
		}
	}
	return false
}

// All iterates over a point-in-time snapshot, so concurrent Adds do not
// affect an iteration in progress.
func (w *SlidingWindow[T]) All() iter.Seq[T] {
	snapshot := w.Snapshot()
	return func(yield func(T) bool) {
		for _, x := range snapshot {
			if !yield(x) {
				return
			}
		}
	}
}
