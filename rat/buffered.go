package rat

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/buffer"
)

// Source is the background half of a buffered input. Run blocks, calling
// emit for every item, until ctx is done or the source fails. Run must
// bound its own blocking reads so cancellation is observed.
type Source interface {
	Generates() reflect.Type
	Open(owner Owner) error
	Run(ctx context.Context, emit func(item any) error) error
	Close() error
}

// Buffered defaults
const (
	DefaultBufferCapacity = 1024
	DefaultPollTimeout    = 100 * time.Millisecond
)

// BufferedOption configures a Buffered input.
type BufferedOption func(*Buffered)

// WithPollTimeout sets how long Receive blocks on the buffer per attempt.
func WithPollTimeout(d time.Duration) BufferedOption {
	return func(b *Buffered) {
		if d > 0 {
			b.pollTimeout = d
		}
	}
}

// Buffered decouples a Source from the worker. The source runs on its own
// goroutine and writes into a bounded buffer; a full buffer blocks the source
// instead of dropping items.
type Buffered struct {
	InputBase

	source      Source
	capacity    int
	pollTimeout time.Duration

	mu      sync.Mutex
	buf     buffer.Buffer[any]
	cancel  context.CancelFunc
	running bool
	opened  bool
	done    chan struct{}
	runErr  error
}

var _ Input = (*Buffered)(nil)

// NewBuffered wraps source with an internal buffer of the given capacity.
func NewBuffered(source Source, capacity int, opts ...BufferedOption) *Buffered {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	b := &Buffered{
		source:      source,
		capacity:    capacity,
		pollTimeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Source returns the wrapped source.
func (b *Buffered) Source() Source {
	return b.source
}

// Generates delegates to the source.
func (b *Buffered) Generates() reflect.Type {
	return b.source.Generates()
}

// SetUp opens the source and prepares a fresh buffer. A previous background
// goroutine is waited for first.
func (b *Buffered) SetUp(owner Owner) error {
	b.waitBackground(2 * time.Second)

	if err := b.InputBase.SetUp(owner); err != nil {
		return err
	}
	if err := b.source.Open(owner); err != nil {
		return errors.WrapInvalid(err, "Buffered", "SetUp", "open source")
	}
	b.mu.Lock()
	b.opened = true
	b.mu.Unlock()

	buf, err := buffer.NewCircularBuffer[any](b.capacity, buffer.WithOverflowPolicy[any](buffer.Block))
	if err != nil {
		return errors.WrapFatal(err, "Buffered", "SetUp", "create buffer")
	}

	b.mu.Lock()
	b.buf = buf
	b.runErr = nil
	b.mu.Unlock()
	return nil
}

// Receive starts the background goroutine if needed and blocks until at
// least one item is buffered, the input is stopped or interrupted, or ctx is
// done. All buffered items become pending output.
func (b *Buffered) Receive(ctx context.Context) error {
	b.BeginReceive()
	defer b.EndReceive()

	buf, err := b.ensureRunning()
	if err != nil {
		return err
	}

	for b.CanReceive(ctx) {
		item, ok := buf.ReadWithTimeout(ctx, b.pollTimeout)
		if ok {
			b.Emit(item)
			b.Emit(buf.ReadBatch(0)...)
			return nil
		}
		if err := b.takeRunErr(); err != nil {
			return errors.WrapTransient(err, "Buffered", "Receive", "run source")
		}
	}
	return nil
}

func (b *Buffered) ensureRunning() (buffer.Buffer[any], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buf == nil {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "Buffered", "Receive", "receive before setup")
	}
	if b.running || b.IsStopped() {
		return b.buf, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running = true
	b.done = make(chan struct{})

	go b.runSource(ctx, b.buf, b.done)
	return b.buf, nil
}

func (b *Buffered) runSource(ctx context.Context, buf buffer.Buffer[any], done chan struct{}) {
	defer close(done)

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = errors.Wrap(errors.Join(errors.ErrUnexpected, panicError("source", p)),
					"Buffered", "runSource", "run source")
			}
		}()
		err = b.source.Run(ctx, func(item any) error {
			return buf.WriteWithContext(ctx, item)
		})
	}()

	b.mu.Lock()
	b.running = false
	if err != nil && ctx.Err() == nil {
		b.runErr = err
	}
	b.mu.Unlock()

	if b.IsStopped() {
		b.closeSource()
	}

	// Wake the reader so it reports the failure without waiting a full poll.
	buf.Notify()
}

func (b *Buffered) takeRunErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.runErr
	b.runErr = nil
	return err
}

// Buffered returns the number of items waiting in the internal buffer.
func (b *Buffered) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf == nil {
		return 0
	}
	return b.buf.Size()
}

// InterruptReception wakes a blocked Receive. The source keeps running.
func (b *Buffered) InterruptReception() {
	b.InputBase.InterruptReception()
	b.mu.Lock()
	buf := b.buf
	b.mu.Unlock()
	if buf != nil {
		buf.Notify()
	}
}

// StopExecution cancels the source and closes the buffer.
func (b *Buffered) StopExecution() {
	b.InputBase.StopExecution()

	b.mu.Lock()
	cancel, buf, running := b.cancel, b.buf, b.running
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if buf != nil {
		_ = buf.Close()
	}
	if !running {
		b.closeSource()
	}
}

func (b *Buffered) closeSource() {
	b.mu.Lock()
	opened := b.opened
	b.opened = false
	b.mu.Unlock()

	if opened {
		_ = b.source.Close()
	}
}

// waitBackground waits for a running source goroutine to finish and closes
// the source if it is still open.
func (b *Buffered) waitBackground(timeout time.Duration) {
	b.mu.Lock()
	done, cancel := b.done, b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}
	b.closeSource()
}
