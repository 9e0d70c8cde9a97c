// Package channel provides the containers tasks use to hand data to each
// other within one scheduler goroutine. None of them lock.
package channel

// Queue is an unbounded FIFO backed by a growable ring buffer.
type Queue[T any] struct {
	buf  []T
	head int
	n    int
}

// NewQueue returns an empty queue with room for capacity items before it
// has to grow.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{buf: make([]T, capacity)}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return q.n }

// Empty reports whether the queue holds nothing.
func (q *Queue[T]) Empty() bool { return q.n == 0 }

// Push appends v at the tail.
func (q *Queue[T]) Push(v T) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
}

// Pop removes and returns the head item.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// Peek returns the head item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.n == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// Drain pops every item in order, passing each to fn. Items pushed by fn
// while draining are drained as well.
func (q *Queue[T]) Drain(fn func(T)) int {
	count := 0
	for {
		v, ok := q.Pop()
		if !ok {
			return count
		}
		fn(v)
		count++
	}
}

// Flush removes and returns every queued item in order.
func (q *Queue[T]) Flush() []T {
	out := make([]T, 0, q.n)
	q.Drain(func(v T) { out = append(out, v) })
	return out
}

func (q *Queue[T]) grow() {
	buf := make([]T, 2*len(q.buf))
	for i := 0; i < q.n; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}
