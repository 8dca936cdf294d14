// Package ring implements a fixed-capacity FIFO over a preallocated slice.
//
// The buffer never grows: writes beyond the free space fail with ErrFull and
// leave the contents untouched, so worst-case memory is known at construction.
package ring

import "github.com/pkg/errors"

var ErrFull = errors.New("ring: buffer full")

type Buffer[T any] struct {
	data  []T
	head  int // next read position
	tail  int // next write position
	count int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

func (b *Buffer[T]) Len() int  { return b.count }
func (b *Buffer[T]) Cap() int  { return len(b.data) }
func (b *Buffer[T]) Free() int { return len(b.data) - b.count }

func (b *Buffer[T]) Reset() {
	b.head, b.tail, b.count = 0, 0, 0
}

// Write appends all of p or nothing.
func (b *Buffer[T]) Write(p []T) error {
	if len(p) > b.Free() {
		return errors.Wrapf(ErrFull, "need %d, have %d", len(p), b.Free())
	}
	n := copy(b.data[b.tail:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.tail = (b.tail + len(p)) % len(b.data)
	b.count += len(p)
	return nil
}

// Push appends one element, dropping the oldest one when full.
func (b *Buffer[T]) Push(v T) (dropped bool) {
	if b.count == len(b.data) {
		b.head = (b.head + 1) % len(b.data)
		b.count--
		dropped = true
	}
	b.data[b.tail] = v
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	return dropped
}

// Pop removes the oldest element.
func (b *Buffer[T]) Pop() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	v := b.data[b.head]
	b.data[b.head] = zero
	b.head = (b.head + 1) % len(b.data)
	b.count--
	return v, true
}

// Read moves up to len(p) of the oldest elements into p.
func (b *Buffer[T]) Read(p []T) int {
	n := min(len(p), b.count)
	if n == 0 {
		return 0
	}
	c := copy(p[:n], b.data[b.head:])
	if c < n {
		copy(p[c:n], b.data)
	}
	b.head = (b.head + n) % len(b.data)
	b.count -= n
	return n
}
