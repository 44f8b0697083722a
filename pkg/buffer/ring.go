package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/c360/ratstreams/errors"
)

const minGrowth = 16

// ring implements Buffer on a growable circular slice.
type ring[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // next read position
	size    int
	bounded bool
	limit   int

	// wake is closed and replaced on every state change so waiters can
	// select on it alongside timers and contexts.
	wake   chan struct{}
	closed bool

	// notifies counts Notify calls. A reader woken by one leaves the buffer
	// untouched.
	notifies uint64

	stats   *Statistics
	metrics *bufferMetrics
	opts    *bufferOptions[T]
}

func newRing[T any](capacity int, opts *bufferOptions[T]) (*ring[T], error) {
	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "New", "metrics registration")
		}
	}

	r := &ring[T]{
		bounded: capacity > 0,
		limit:   capacity,
		wake:    make(chan struct{}),
		stats:   NewStatistics(),
		metrics: metrics,
		opts:    opts,
	}
	if r.bounded {
		r.items = make([]T, capacity)
	} else {
		r.items = make([]T, minGrowth)
	}
	return r, nil
}

// broadcast must be called with mu held.
func (r *ring[T]) broadcast() {
	close(r.wake)
	r.wake = make(chan struct{})
}

func (r *ring[T]) full() bool {
	return r.bounded && r.size == r.limit
}

func (r *ring[T]) grow() {
	next := make([]T, len(r.items)*2)
	for i := 0; i < r.size; i++ {
		next[i] = r.items[(r.head+i)%len(r.items)]
	}
	r.items = next
	r.head = 0
}

func (r *ring[T]) push(item T) {
	if !r.bounded && r.size == len(r.items) {
		r.grow()
	}
	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++

	r.stats.recordWrite()
	r.stats.updateSize(r.size)
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.limit)
	}
	r.broadcast()
}

func (r *ring[T]) pop() T {
	var zero T
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return item
}

// Write adds an item according to the overflow policy.
func (r *ring[T]) Write(item T) error {
	return r.WriteWithContext(context.Background(), item)
}

// WriteWithContext adds an item; under Block it waits for space until ctx is done.
func (r *ring[T]) WriteWithContext(ctx context.Context, item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if r.full() {
		r.stats.recordOverflow()
		if r.metrics != nil {
			r.metrics.recordOverflow()
		}

		switch r.opts.overflowPolicy {
		case DropOldest:
			dropped := r.pop()
			r.push(item)
			r.mu.Unlock()
			r.dropped(dropped)
			return nil

		case DropNewest:
			r.mu.Unlock()
			r.dropped(item)
			return nil

		case Reject:
			r.stats.recordReject()
			r.mu.Unlock()
			return errors.ErrStorageFull

		case Block:
			for r.full() && !r.closed {
				wake := r.wake
				r.mu.Unlock()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-wake:
				}
				r.mu.Lock()
			}
			if r.closed {
				r.mu.Unlock()
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write",
					"buffer closed during blocking wait")
			}
		}
	}

	r.push(item)
	r.mu.Unlock()
	return nil
}

func (r *ring[T]) dropped(item T) {
	r.stats.recordDrop()
	if r.metrics != nil {
		r.metrics.recordDrop()
	}
	if r.opts.dropCallback != nil {
		r.opts.dropCallback(item)
	}
}

// Read removes the oldest item without blocking.
func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *ring[T]) readLocked() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.pop()
	r.stats.recordRead(1)
	r.stats.updateSize(r.size)
	if r.metrics != nil {
		r.metrics.recordRead(1, r.size, r.limit)
	}
	r.broadcast()
	return item, true
}

// ReadWithTimeout waits for an item for at most timeout.
func (r *ring[T]) ReadWithTimeout(ctx context.Context, timeout time.Duration) (T, bool) {
	r.mu.Lock()
	if item, ok := r.readLocked(); ok {
		r.mu.Unlock()
		return item, true
	}
	var zero T
	if r.closed || timeout <= 0 {
		r.mu.Unlock()
		return zero, false
	}
	wake, notifies := r.wake, r.notifies
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return zero, false
	case <-timer.C:
		return zero, false
	case <-wake:
	}

	// Woken by a write, a read elsewhere, Notify or Close. After Notify the
	// caller re-checks its flags before anything is taken.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notifies != notifies {
		return zero, false
	}
	return r.readLocked()
}

// ReadBatch removes up to max items, or all of them when max <= 0.
func (r *ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = r.pop()
	}
	r.stats.recordRead(n)
	r.stats.updateSize(r.size)
	if r.metrics != nil {
		r.metrics.recordRead(n, r.size, r.limit)
	}
	r.broadcast()
	return out
}

// Peek returns the oldest item without removing it.
func (r *ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.head], true
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.limit
}

func (r *ring[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full()
}

func (r *ring[T]) IsEmpty() bool {
	return r.Size() == 0
}

// Clear removes all items, reporting each to the drop callback.
func (r *ring[T]) Clear() {
	r.mu.Lock()
	removed := make([]T, 0, r.size)
	for r.size > 0 {
		removed = append(removed, r.pop())
	}
	r.head = 0
	r.stats.updateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.limit)
	}
	r.broadcast()
	r.mu.Unlock()

	if r.opts.dropCallback != nil {
		for _, item := range removed {
			r.opts.dropCallback(item)
		}
	}
}

// Notify wakes every waiter.
func (r *ring[T]) Notify() {
	r.mu.Lock()
	r.notifies++
	r.broadcast()
	r.mu.Unlock()
}

func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close wakes all waiters. Remaining items can still be read.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.broadcast()
	return nil
}

func (r *ring[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
