// Package buffer provides a generic, thread-safe FIFO ring used for storage
// queues and for the internal queue of buffered rat inputs.
//
// A buffer is either bounded (capacity > 0) with an overflow policy, or
// unbounded (capacity <= 0) and grows on demand. Readers can block with a
// timeout; Notify and Close wake every blocked reader so callers can re-check
// their own stop flags.
package buffer

import (
	"context"
	"time"
)

// Buffer is a FIFO of items of type T.
type Buffer[T any] interface {
	// Write adds an item according to the overflow policy.
	Write(item T) error

	// WriteWithContext is Write, but a Block policy waits at most until ctx is done.
	WriteWithContext(ctx context.Context, item T) error

	// Read removes the oldest item without blocking.
	Read() (T, bool)

	// ReadWithTimeout waits up to timeout for an item. It returns false on
	// timeout, ctx cancellation, Notify or Close.
	ReadWithTimeout(ctx context.Context, timeout time.Duration) (T, bool)

	// ReadBatch removes up to max items. max <= 0 drains everything.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int

	// Capacity returns 0 for unbounded buffers.
	Capacity() int

	IsFull() bool
	IsEmpty() bool

	// Clear removes all items, reporting each to the drop callback.
	Clear()

	// Notify wakes blocked readers and writers without changing contents.
	Notify()

	Stats() *Statistics

	// Close wakes all waiters; further writes fail, buffered items stay readable.
	Close() error
	Closed() bool
}

// OverflowPolicy defines how a bounded buffer behaves when it is full.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest silently discards the new item.
	DropNewest

	// Block makes Write wait until space is available.
	Block

	// Reject makes Write return errors.ErrStorageFull.
	Reject
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	case Reject:
		return "Reject"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps a config string to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "drop_oldest", "DropOldest":
		return DropOldest, true
	case "drop_newest", "DropNewest":
		return DropNewest, true
	case "block", "Block":
		return Block, true
	case "reject", "Reject", "":
		return Reject, true
	default:
		return Reject, false
	}
}

// DropCallback is called with every item discarded by the overflow policy or Clear.
type DropCallback[T any] func(item T)

// New creates a buffer. capacity <= 0 gives an unbounded buffer.
func New[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	r, err := newRing(capacity, applyOptions(options...))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewCircularBuffer creates a bounded buffer; capacity below 1 is raised to 1.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	if capacity < 1 {
		capacity = 1
	}
	return New(capacity, options...)
}
