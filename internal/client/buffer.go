package client

// Ring is a small bounded FIFO buffer of recently observed events. When
// capacity is exceeded the oldest entries are evicted first. It backs the
// transient "live activity" views only and is never a durable source of
// truth.
//
// Not safe for concurrent use; callers synchronize.
type Ring[T any] struct {
	capacity int
	items    []T
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}
}

// Append adds v, evicting the oldest entry when full. Duplicates are
// appended as-is: dedup is explicitly not this buffer's job.
func (r *Ring[T]) Append(v T) {
	if len(r.items) == r.capacity {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = v
		return
	}
	r.items = append(r.items, v)
}

// Items returns a copy of the buffer contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Ring[T]) Len() int { return len(r.items) }

func (r *Ring[T]) Cap() int { return r.capacity }
