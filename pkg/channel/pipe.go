package channel

// Pipe is a single-slot mailbox with latest-value semantics: a second Put
// before Take replaces the first value, which is then lost.
type Pipe[T any] struct {
	pending bool
	value   T
	dropped int
}

// NewPipe returns an empty pipe.
func NewPipe[T any]() *Pipe[T] {
	return &Pipe[T]{}
}

// Put stores v and raises the event flag.
func (p *Pipe[T]) Put(v T) {
	if p.pending {
		p.dropped++
	}
	p.value = v
	p.pending = true
}

// Take returns the pending value and clears the flag.
func (p *Pipe[T]) Take() (T, bool) {
	if !p.pending {
		var zero T
		return zero, false
	}
	p.pending = false
	return p.value, true
}

// Pending reports whether a value is waiting.
func (p *Pipe[T]) Pending() bool { return p.pending }

// Dropped counts values overwritten before they were taken.
func (p *Pipe[T]) Dropped() int { return p.dropped }
