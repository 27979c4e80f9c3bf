package events

import (
	"fmt"
	"sync"
)

// Buffer is a fixed-capacity FIFO window: once full, every Append evicts
// the oldest item. Snapshot hands out a copy, never the backing slice.
type Buffer[T any] struct {
	mu   sync.RWMutex
	data []T
	head int // index of the oldest item once the ring has wrapped
	size int
}

// New panics when capacity is not positive: a buffer that cannot hold
// anything is a wiring bug, not a runtime condition.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("events: capacity must be positive, got %d", capacity))
	}
	return &Buffer[T]{data: make([]T, 0, capacity), size: capacity}
}

// Append adds v as the newest item and reports whether the oldest one
// was evicted to make room.
func (b *Buffer[T]) Append(v T) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) < b.size {
		b.data = append(b.data, v)
		return false
	}
	b.data[b.head] = v
	b.head = (b.head + 1) % b.size
	return true
}

// Snapshot returns the items oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, 0, len(b.data))
	out = append(out, b.data[b.head:]...)
	out = append(out, b.data[:b.head]...)
	return out
}

// Last returns the newest item, if any.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var zero T
	if len(b.data) == 0 {
		return zero, false
	}
	i := b.head - 1
	if i < 0 {
		i = len(b.data) - 1
	}
	return b.data[i], true
}

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

func (b *Buffer[T]) Cap() int { return b.size }

// Reset drops every item but keeps the capacity.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.data)
	b.data = b.data[:0]
	b.head = 0
}
