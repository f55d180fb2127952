package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/audittrail/internal/logentry"
)

// DefaultCapacity is the buffer size that triggers a flush.
const DefaultCapacity = 100

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("buffer closed")

// Buffer is a bounded FIFO of pending entries.
//
// When an append brings the length to capacity, a signal is sent on Full.
// Appends to a buffer at capacity block until Drain frees space, so
// producers slow down instead of growing memory without bound.
//
// Thread-safety: all methods are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	entries  []logentry.Pending
	capacity int
	closed   bool

	full  chan struct{} // buffered, size 1
	space chan struct{} // closed and replaced whenever space frees up
}

// NewBuffer creates a buffer. A capacity below 1 selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]logentry.Pending, 0, capacity),
		capacity: capacity,
		full:     make(chan struct{}, 1),
		space:    make(chan struct{}),
	}
}

// Append adds p to the buffer. It blocks while the buffer is at capacity
// and returns ctx.Err() if ctx ends first, or ErrClosed once the buffer is
// closed.
func (b *Buffer) Append(ctx context.Context, p logentry.Pending) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if len(b.entries) < b.capacity {
			b.entries = append(b.entries, p)
			if len(b.entries) == b.capacity {
				// Coalesces with an unread signal.
				select {
				case b.full <- struct{}{}:
				default:
				}
			}
			b.mu.Unlock()
			return nil
		}
		space := b.space
		b.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Drain removes and returns every buffered entry in append order. It
// returns nil when the buffer is empty.
func (b *Buffer) Drain() []logentry.Pending {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil
	}
	out := b.entries
	b.entries = make([]logentry.Pending, 0, b.capacity)
	b.wakeLocked()
	return out
}

// Close rejects further appends, including blocked ones. Entries already
// buffered remain available to Drain.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.wakeLocked()
}

func (b *Buffer) wakeLocked() {
	close(b.space)
	b.space = make(chan struct{})
}

// Full signals that the buffer reached capacity.
func (b *Buffer) Full() <-chan struct{} {
	return b.full
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Cap returns the flush threshold.
func (b *Buffer) Cap() int {
	return b.capacity
}
