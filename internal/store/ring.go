package store

// RingBuffer is a fixed-capacity sequence that evicts its oldest element
// when full. It is not safe for concurrent use; Store guards it.
type RingBuffer[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRingBuffer returns an empty buffer holding at most capacity elements.
// Capacity below one is raised to one.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{buf: make([]T, max(capacity, 1))}
}

// Push appends v, evicting the oldest element when full.
func (r *RingBuffer[T]) Push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot copies the contents, oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Last copies at most n of the newest elements, oldest first.
func (r *RingBuffer[T]) Last(n int) []T {
	n = min(max(n, 0), r.n)
	out := make([]T, n)
	skip := r.n - n
	for i := range n {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of elements held.
func (r *RingBuffer[T]) Len() int { return r.n }

// Cap returns the capacity.
func (r *RingBuffer[T]) Cap() int { return len(r.buf) }

// Reset empties the buffer.
func (r *RingBuffer[T]) Reset() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
