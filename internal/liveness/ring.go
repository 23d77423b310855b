package liveness

// Ring is a fixed-capacity FIFO buffer that evicts its oldest element when full.
// The zero value has no capacity and drops every push.
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// NewRing allocates a ring holding at most capacity elements.
func NewRing[T any](capacity int) Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	return Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns the contents oldest first in a fresh slice.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Clone returns a ring that shares no storage with r.
func (r *Ring[T]) Clone() Ring[T] {
	buf := make([]T, len(r.buf))
	copy(buf, r.buf)
	return Ring[T]{buf: buf, start: r.start, size: r.size}
}
