package cache

// Ring keeps the most recent items up to a fixed capacity. Index 0 is the
// newest item.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Push(v T) {
	r.head = (r.head + 1) % len(r.buf)
	r.buf[r.head] = v
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) At(index int) (T, bool) {
	var zero T
	if index < 0 || index >= r.size {
		return zero, false
	}
	i := (r.head - index + len(r.buf)) % len(r.buf)
	return r.buf[i], true
}

// Items returns newest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i], _ = r.At(i)
	}
	return out
}

func (r *Ring[T]) Clear() {
	clear(r.buf)
	r.head, r.size = 0, 0
}
