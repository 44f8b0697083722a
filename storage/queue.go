package storage

import (
	"context"
	"time"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/pkg/buffer"
)

// Queue is a named FIFO of arbitrary items.
type Queue struct {
	name    string
	buf     buffer.Buffer[any]
	metrics *metric.Metrics
}

type queueOptions struct {
	capacity int
	policy   buffer.OverflowPolicy
}

// QueueOption configures a queue at creation.
type QueueOption func(*queueOptions)

// WithCapacity bounds the queue. 0 means unbounded.
func WithCapacity(n int) QueueOption {
	return func(o *queueOptions) {
		o.capacity = n
	}
}

// WithOverflowPolicy sets what a bounded queue does when full. Default Reject.
func WithOverflowPolicy(p buffer.OverflowPolicy) QueueOption {
	return func(o *queueOptions) {
		o.policy = p
	}
}

func newQueue(name string, metrics *metric.Metrics, opts ...QueueOption) (*Queue, error) {
	o := queueOptions{policy: buffer.Reject}
	for _, opt := range opts {
		opt(&o)
	}

	buf, err := buffer.New[any](o.capacity, buffer.WithOverflowPolicy[any](o.policy))
	if err != nil {
		return nil, err
	}
	return &Queue{name: name, buf: buf, metrics: metrics}, nil
}

// Name returns the queue identity.
func (q *Queue) Name() string {
	return q.name
}

// Capacity returns the bound, 0 when unbounded.
func (q *Queue) Capacity() int {
	return q.buf.Capacity()
}

// Push appends an item. A full bounded queue returns errors.ErrStorageFull.
func (q *Queue) Push(item any) error {
	if err := q.buf.Write(item); err != nil {
		return errors.Wrap(err, "Queue", "Push", "enqueue on "+q.name)
	}
	q.recordDepth()
	return nil
}

// Poll removes the head item without waiting.
func (q *Queue) Poll() (any, bool) {
	item, ok := q.buf.Read()
	if ok {
		q.recordDepth()
	}
	return item, ok
}

// PollWithTimeout waits up to d for an item. It returns early, empty-handed,
// when Notify or Close is called or ctx is done.
func (q *Queue) PollWithTimeout(ctx context.Context, d time.Duration) (any, bool) {
	item, ok := q.buf.ReadWithTimeout(ctx, d)
	if ok {
		q.recordDepth()
	}
	return item, ok
}

// Drain removes and returns every item currently queued.
func (q *Queue) Drain() []any {
	items := q.buf.ReadBatch(0)
	q.recordDepth()
	return items
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	return q.buf.Size()
}

// Notify wakes every goroutine blocked in PollWithTimeout.
func (q *Queue) Notify() {
	q.buf.Notify()
}

// Close rejects further pushes and wakes pollers.
func (q *Queue) Close() {
	_ = q.buf.Close()
}

// Stats exposes the buffer statistics of the queue.
func (q *Queue) Stats() buffer.StatsSummary {
	return q.buf.Stats().Summary()
}

func (q *Queue) recordDepth() {
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(q.name, q.buf.Size())
	}
}
