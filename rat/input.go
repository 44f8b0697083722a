package rat

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// Input produces zero or more items per reception cycle.
type Input interface {
	// Generates is the type of the items this input produces.
	Generates() reflect.Type

	// SetUp validates configuration. It is idempotent and also resets the
	// input after StopExecution so the rat can be started again.
	SetUp(owner Owner) error

	// Receive performs one reception cycle, leaving the results pending.
	Receive(ctx context.Context) error

	HasPendingOutput() bool

	// Output removes and returns the oldest pending item, nil when none.
	Output() any

	// StopExecution is idempotent and wakes any wait in progress.
	StopExecution()

	// InterruptReception pauses reception without tearing down state.
	InterruptReception()
	ReceptionInterrupted() bool
}

// Poller is implemented by inputs the worker should sleep between cycles for.
type Poller interface {
	PollInterval() time.Duration
}

// InputBase carries the state every input needs. Embed it and implement
// Generates and Receive.
type InputBase struct {
	mu          sync.Mutex
	owner       Owner
	pending     []any
	stopped     bool
	interrupted bool
	receiving   bool

	// signal is closed when the input is stopped or interrupted.
	signal    chan struct{}
	signalled bool
}

// SetUp stores the owner and clears the stop and interrupt flags.
func (b *InputBase) SetUp(owner Owner) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.owner = owner
	b.stopped = false
	b.interrupted = false
	b.signal = make(chan struct{})
	b.signalled = false
	return nil
}

// Owner returns the owner passed to SetUp.
func (b *InputBase) Owner() Owner {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}

// BeginReceive marks a reception cycle as running and clears a previous
// interruption. Pair with EndReceive.
func (b *InputBase) BeginReceive() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receiving = true
	b.interrupted = false
	if b.signal == nil || (b.signalled && !b.stopped) {
		b.signal = make(chan struct{})
		b.signalled = false
	}
}

// EndReceive marks the reception cycle as finished.
func (b *InputBase) EndReceive() {
	b.mu.Lock()
	b.receiving = false
	b.mu.Unlock()
}

// ReceptionRunning reports whether Receive is in progress.
func (b *InputBase) ReceptionRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receiving
}

// CanReceive is false once stopped, interrupted or ctx is done.
func (b *InputBase) CanReceive(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.stopped && !b.interrupted
}

// IsStopped reports whether StopExecution was called since the last SetUp.
func (b *InputBase) IsStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Done returns a channel closed on stop or interruption.
func (b *InputBase) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signal == nil {
		b.signal = make(chan struct{})
	}
	return b.signal
}

// Wait sleeps for d. It returns false early when the input is stopped or
// interrupted or ctx is done.
func (b *InputBase) Wait(ctx context.Context, d time.Duration) bool {
	if !b.CanReceive(ctx) {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-b.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *InputBase) fire() {
	if b.signal == nil {
		b.signal = make(chan struct{})
	}
	if !b.signalled {
		close(b.signal)
		b.signalled = true
	}
}

// StopExecution sets the stopped flag and wakes waiters.
func (b *InputBase) StopExecution() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.fire()
}

// InterruptReception sets the interrupted flag and wakes waiters.
func (b *InputBase) InterruptReception() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interrupted = true
	b.fire()
}

// ReceptionInterrupted reports whether reception was interrupted.
func (b *InputBase) ReceptionInterrupted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interrupted
}

// Emit queues items as pending output.
func (b *InputBase) Emit(items ...any) {
	b.mu.Lock()
	b.pending = append(b.pending, items...)
	b.mu.Unlock()
}

// HasPendingOutput reports whether Output would return an item.
func (b *InputBase) HasPendingOutput() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) > 0
}

// Output removes and returns the oldest pending item.
func (b *InputBase) Output() any {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}
	item := b.pending[0]
	b.pending[0] = nil
	b.pending = b.pending[1:]
	return item
}

// PendingCount returns the number of pending items.
func (b *InputBase) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Polling wraps an input so the worker sleeps Interval between cycles.
type Polling struct {
	Input
	interval time.Duration
}

var _ Poller = (*Polling)(nil)

// DefaultPollInterval is used when NewPolling gets a non-positive interval.
const DefaultPollInterval = 100 * time.Millisecond

// NewPolling wraps base.
func NewPolling(base Input, interval time.Duration) *Polling {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Polling{Input: base, interval: interval}
}

// PollInterval implements Poller.
func (p *Polling) PollInterval() time.Duration {
	return p.interval
}

// Base returns the wrapped input.
func (p *Polling) Base() Input {
	return p.Input
}
