package rat

import (
	"context"
	"time"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/logsink"
)

func (r *Rat) halted(ctx context.Context) bool {
	return r.stopped.Load() || ctx.Err() != nil
}

// sleep waits for d or until the rat is stopped.
func (r *Rat) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (r *Rat) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.finish(ctx)

	poller, polling := r.cfg.Input.(Poller)

	for !r.halted(ctx) {
		if r.paused.Load() {
			r.sleep(ctx, r.cfg.PauseInterval)
			continue
		}

		r.safeCycle(ctx)

		if r.cfg.Mode == ModeManual {
			return
		}
		if polling && !r.halted(ctx) {
			r.sleep(ctx, poller.PollInterval())
		}
	}
}

// safeCycle keeps a panic in an adapter method not covered by the stage
// specific recovery from ending the worker.
func (r *Rat) safeCycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			err := panicError("cycle", p)
			r.route(ctx, KindReceive, nil, err, "Unexpected failure: "+err.Error())
		}
	}()
	r.cycle(ctx)
}

// cycle is one receive followed by draining every pending item.
func (r *Rat) cycle(ctx context.Context) {
	if err := r.receive(ctx); err != nil {
		r.route(ctx, KindReceive, nil, err, "Failed to receive from input: "+err.Error())
	}

	for !r.halted(ctx) && !r.paused.Load() && r.cfg.Input.HasPendingOutput() {
		item, err := r.output()
		if err != nil {
			r.route(ctx, KindReceive, nil, err, "Failed to obtain received item: "+err.Error())
			continue
		}
		if r.metrics != nil {
			r.metrics.RecordReceived(r.cfg.Name)
		}
		r.process(ctx, item)
	}
}

func (r *Rat) receive(ctx context.Context) (err error) {
	r.receiving.Store(true)
	defer r.receiving.Store(false)
	if r.paused.Load() {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = panicError("receive", p)
		}
	}()
	return r.cfg.Input.Receive(ctx)
}

func (r *Rat) output() (item any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError("output", p)
		}
	}()
	return r.cfg.Input.Output(), nil
}

func (r *Rat) process(ctx context.Context, item any) {
	if r.cfg.Stage == nil || r.cfg.Stage.Len() == 0 {
		r.transmit(ctx, item)
		return
	}

	outputs, err := r.transform(ctx, item)
	if err != nil {
		r.route(ctx, KindTransform, item, err, "Failed to transform data: "+err.Error())
		return
	}
	for _, out := range outputs {
		if r.halted(ctx) {
			r.abandon()
			return
		}
		r.transmit(ctx, out)
	}
}

func (r *Rat) transform(ctx context.Context, item any) (outputs []any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError("transform", p)
		}
	}()
	return r.cfg.Stage.Process(ctx, item)
}

// transmit waits for the output slot and delivers one item.
func (r *Rat) transmit(ctx context.Context, item any) {
	if item == nil {
		return
	}

	for !r.cfg.Output.CanInput() {
		if r.halted(ctx) {
			r.abandon()
			return
		}
		r.sleep(ctx, r.cfg.WaitInterval)
	}
	if r.halted(ctx) {
		r.abandon()
		return
	}

	start := time.Now()
	if err := r.deliver(ctx, item); err != nil {
		r.route(ctx, KindSend, item, err, "Failed to transmit data: "+err.Error())
		return
	}
	if r.metrics != nil {
		r.metrics.RecordTransmitted(r.cfg.Name, time.Since(start))
	}
}

func (r *Rat) deliver(ctx context.Context, item any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError("transmit", p)
		}
	}()
	r.cfg.Output.Input(item)
	return r.cfg.Output.Transmit(ctx)
}

func (r *Rat) abandon() {
	r.logger.Debug("Item abandoned, rat is stopping")
	if r.metrics != nil {
		r.metrics.RecordDropped(r.cfg.Name)
	}
}

// route records a per-item failure: an error container in the matching error
// queue if that queue exists, and always a log entry.
func (r *Rat) route(ctx context.Context, kind ErrorKind, item any, err error, msg string) {
	queue, suffix := r.cfg.SendErrorQueue, SendSuffix
	if kind.IsFlow() {
		queue, suffix = r.cfg.FlowErrorQueue, FlowSuffix
	}

	container := NewErrorContainer(item, err, r.cfg.Name+suffix, kind)
	if q, ok := r.storage.Queue(queue); ok {
		if perr := q.Push(container); perr != nil {
			r.logger.Warn("Failed to queue error container",
				"queue", queue, "kind", kind.String(), "error", perr)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordError(r.cfg.Name, kind.String())
	}

	staged := r.cfg.Stage != nil && r.cfg.Stage.Len() > 0
	entry := logsink.NewEntry(r.cfg.Name, kind.LogType(staged), container.ID, msg)
	logsink.Emit(context.WithoutCancel(ctx), r.cfg.LogSink, r.logger, entry)
}

// RunOnce executes a single pass synchronously, regardless of mode. It is
// meant for manual triggering by tools and tests; the rat must be
// initialized and not active.
func (r *Rat) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRunning || r.state == StatePaused || r.state == StateStopping {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Rat", "RunOnce", "run "+r.cfg.Name)
	}
	if !r.initialized {
		if ev, ls, err := r.initializeLocked(); err != nil {
			r.mu.Unlock()
			r.notify(ev, ls)
			return err
		}
	}
	r.mu.Unlock()

	r.safeCycle(ctx)
	return nil
}
