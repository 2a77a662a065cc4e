// Package timeline holds the fixed-capacity trend of accepted fusion scores.
package timeline

import (
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/types"
)

// DefaultCapacity is the number of points kept when no capacity is given.
const DefaultCapacity = 60

// Buffer is a ring of [types.TimelinePoint]. Appending beyond capacity evicts
// the oldest point. Buffer is safe for concurrent use.
type Buffer struct {
	mu    sync.RWMutex
	buf   []types.TimelinePoint
	start int
	n     int
}

// New returns a Buffer holding at most capacity points. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{buf: make([]types.TimelinePoint, capacity)}
}

// Append records score at time at.
func (b *Buffer) Append(at time.Time, score float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n < len(b.buf) {
		b.buf[(b.start+b.n)%len(b.buf)] = types.TimelinePoint{At: at, Score: score}
		b.n++
		return
	}
	b.buf[b.start] = types.TimelinePoint{At: at, Score: score}
	b.start = (b.start + 1) % len(b.buf)
}

// Points returns a copy of the buffered points, oldest first.
func (b *Buffer) Points() []types.TimelinePoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.TimelinePoint, b.n)
	for i := range b.n {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	return out
}

// Len returns the number of buffered points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Mean returns the arithmetic mean of the buffered scores. ok is false when the
// buffer is empty.
func (b *Buffer) Mean() (mean float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.n == 0 {
		return 0, false
	}
	var sum float64
	for i := range b.n {
		sum += b.buf[(b.start+i)%len(b.buf)].Score
	}
	return sum / float64(b.n), true
}

// Reader is the read-only view of a Buffer handed to consumers that must not
// append, such as the session exporter.
type Reader interface {
	Points() []types.TimelinePoint
	Mean() (float64, bool)
	Len() int
}

var _ Reader = (*Buffer)(nil)
