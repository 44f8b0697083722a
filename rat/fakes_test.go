package rat

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// chanInput emits whatever is fed to it, or returns the fed error.
type chanInput struct {
	InputBase
	gen      reflect.Type
	feed     chan any
	fail     chan error
	setUpErr error
	receives atomic.Int32
}

func newChanInput(gen reflect.Type) *chanInput {
	return &chanInput{gen: gen, feed: make(chan any, 100), fail: make(chan error, 10)}
}

func (c *chanInput) Generates() reflect.Type { return c.gen }

func (c *chanInput) SetUp(o Owner) error {
	if c.setUpErr != nil {
		return c.setUpErr
	}
	return c.InputBase.SetUp(o)
}

func (c *chanInput) Receive(ctx context.Context) error {
	c.BeginReceive()
	defer c.EndReceive()
	c.receives.Add(1)

	timer := time.NewTimer(20 * time.Millisecond)
	defer timer.Stop()

	select {
	case item := <-c.feed:
		c.Emit(item)
		for {
			select {
			case more := <-c.feed:
				c.Emit(more)
			default:
				return nil
			}
		}
	case err := <-c.fail:
		return err
	case <-ctx.Done():
	case <-c.Done():
	case <-timer.C:
	}
	return nil
}

// recordingOutput collects delivered items and can fail selected ones.
type recordingOutput struct {
	OutputBase
	accepts  []reflect.Type
	setUpErr error
	failOn   func(item any) error

	mu    sync.Mutex
	items []any
}

func newRecordingOutput(accepts ...reflect.Type) *recordingOutput {
	return &recordingOutput{accepts: accepts}
}

func (o *recordingOutput) Accepts() []reflect.Type { return o.accepts }

func (o *recordingOutput) SetUp(owner Owner) error {
	if o.setUpErr != nil {
		return o.setUpErr
	}
	return o.OutputBase.SetUp(owner)
}

func (o *recordingOutput) Transmit(context.Context) error {
	return o.Deliver(func(item any) error {
		if o.failOn != nil {
			if err := o.failOn(item); err != nil {
				return err
			}
		}
		o.mu.Lock()
		o.items = append(o.items, item)
		o.mu.Unlock()
		return nil
	})
}

func (o *recordingOutput) Items() []any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]any(nil), o.items...)
}

// funcStage is a one-step stage.
type funcStage struct {
	accepts   []reflect.Type
	generates []reflect.Type
	fn        func(item any) ([]any, error)
	setUpErr  error
	stopped   atomic.Bool
}

func (s *funcStage) Accepts() []reflect.Type { return s.accepts }
func (s *funcStage) Generates() []reflect.Type { return s.generates }
func (s *funcStage) SetUp() error { return s.setUpErr }
func (s *funcStage) StopExecution() { s.stopped.Store(true) }
func (s *funcStage) Len() int { return 1 }

func (s *funcStage) Process(_ context.Context, item any) ([]any, error) {
	return s.fn(item)
}

func (s *funcStage) Clone() Stage {
	return &funcStage{accepts: s.accepts, generates: s.generates, fn: s.fn, setUpErr: s.setUpErr}
}

// blockingSource never produces anything; Run waits for cancellation.
type blockingSource struct {
	opened atomic.Int32
	closed atomic.Int32
	items  chan any
	runErr error
	panics any
}

func (b *blockingSource) Generates() reflect.Type { return Unknown }

func (b *blockingSource) Open(Owner) error {
	b.opened.Add(1)
	return nil
}

func (b *blockingSource) Run(ctx context.Context, emit func(any) error) error {
	if b.panics != nil {
		panic(b.panics)
	}
	if b.runErr != nil {
		return b.runErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-b.items:
			if err := emit(item); err != nil {
				return err
			}
		}
	}
}

func (b *blockingSource) Close() error {
	b.closed.Add(1)
	return nil
}

var errBoom = errors.New("boom")
