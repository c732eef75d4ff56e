// Package buffer provides the growable receive buffer owned by each connection.
//
// Capacity doubles whenever more room is needed and never shrinks while the
// buffer is alive. Growth past the configured maximum fails with ErrBufferFull
// and leaves the contents untouched.
package buffer

import (
	"errors"
	"fmt"
)

// Default sizes
const (
	DefaultInitialSize = 8 * 1024        // 8KB
	DefaultMaxSize     = 2 * 1024 * 1024 // 2MB
)

// ErrBufferFull is returned when growing would exceed the maximum capacity
var ErrBufferFull = errors.New("buffer: maximum capacity exceeded")

// Buffer is a length-tracked byte vector with explicit doubling growth
type Buffer struct {
	data []byte // len(data) is the capacity, b.n the used length
	n    int
	max  int
}

// New creates a buffer over an initial backing slice.
// The full length of initial is used as capacity; its contents are ignored.
func New(initial []byte, max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxSize
	}
	if len(initial) == 0 {
		initial = make([]byte, DefaultInitialSize)
	}
	if len(initial) > max {
		max = len(initial)
	}
	return &Buffer{data: initial[:len(initial):len(initial)], max: max}
}

// NewSize creates a buffer with a freshly allocated backing slice
func NewSize(initial, max int) *Buffer {
	if initial <= 0 {
		initial = DefaultInitialSize
	}
	return New(make([]byte, initial), max)
}

// Len returns the number of used bytes
func (b *Buffer) Len() int { return b.n }

// Cap returns the current capacity
func (b *Buffer) Cap() int { return len(b.data) }

// Max returns the capacity limit
func (b *Buffer) Max() int { return b.max }

// Bytes returns the used portion. The slice aliases the buffer and is only
// valid until the next Grow, Consume or Reset.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Free returns the unused tail, ready to be filled by a read
func (b *Buffer) Free() []byte { return b.data[b.n:] }

// Commit marks n bytes of the free tail as used
func (b *Buffer) Commit(n int) {
	if n < 0 || b.n+n > len(b.data) {
		panic(fmt.Sprintf("buffer: commit %d with %d free", n, len(b.data)-b.n))
	}
	b.n += n
}

// Grow makes sure at least need free bytes are available, doubling the
// capacity as many times as required. The final step is clamped to Max.
func (b *Buffer) Grow(need int) error {
	if len(b.data)-b.n >= need {
		return nil
	}

	size := len(b.data)
	if size == 0 {
		size = DefaultInitialSize
	}
	for size-b.n < need {
		if size >= b.max {
			return ErrBufferFull
		}
		// the last step may stop short of a doubling at max
		size = min(size*2, b.max)
	}

	grown := make([]byte, size)
	copy(grown, b.data[:b.n])
	b.data = grown
	return nil
}

// Write appends p, growing as needed. Nothing is written when the buffer
// cannot hold all of p.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.Grow(len(p)); err != nil {
		return 0, err
	}
	n := copy(b.data[b.n:], p)
	b.n += n
	return n, nil
}

// Consume drops the first n used bytes and moves the remainder to the front
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= b.n {
		b.n = 0
		return
	}
	copy(b.data, b.data[n:b.n])
	b.n -= n
}

// Reset clears the used length, keeping the capacity
func (b *Buffer) Reset() { b.n = 0 }

// Release hands back the backing slice and leaves the buffer empty.
// The caller may return the slice to a pool.
func (b *Buffer) Release() []byte {
	data := b.data
	b.data = nil
	b.n = 0
	return data
}
