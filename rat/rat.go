package rat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/storage"
)

// State of a rat
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateEvent describes a state transition.
type StateEvent struct {
	Rat  string
	From State
	To   State
	At   time.Time
}

// StateListener is notified of every transition, outside the rat's lock.
type StateListener func(StateEvent)

// Deps are the shared collaborators of a rat.
type Deps struct {
	// Storage holds the queues used for error routing. Nil gives the rat a
	// private namespace.
	Storage         *storage.Storage
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Rat runs one input → stage → output pipeline on a dedicated worker.
type Rat struct {
	cfg     Config
	storage *storage.Storage
	logger  *slog.Logger
	metrics *metric.Metrics

	mu          sync.Mutex
	state       State
	initialized bool
	setupErr    error
	cancel      context.CancelFunc
	done        chan struct{}
	listeners   []StateListener

	paused    atomic.Bool
	stopped   atomic.Bool
	receiving atomic.Bool
}

var _ Owner = (*Rat)(nil)

// New builds a rat. Structural problems are returned here; type
// compatibility is checked by Initialize.
func New(cfg Config, deps Deps) (*Rat, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rat", "rat", cfg.Name)

	store := deps.Storage
	if store == nil {
		store = storage.New(cfg.Name, storage.Deps{Logger: logger, MetricsRegistry: deps.MetricsRegistry})
	}

	var metrics *metric.Metrics
	if deps.MetricsRegistry != nil {
		metrics = deps.MetricsRegistry.CoreMetrics()
	}

	r := &Rat{
		cfg:     cfg,
		storage: store,
		logger:  logger,
		metrics: metrics,
		state:   StateIdle,
	}
	r.paused.Store(cfg.InitialState == InitialPaused)
	return r, nil
}

// Name implements Owner.
func (r *Rat) Name() string { return r.cfg.Name }

// Storage implements Owner.
func (r *Rat) Storage() *storage.Storage { return r.storage }

// Logger implements Owner.
func (r *Rat) Logger() *slog.Logger { return r.logger }

// IsPaused reports whether the rat is paused.
func (r *Rat) IsPaused() bool { return r.paused.Load() }

// IsStopped reports whether a stop was requested for the current run.
func (r *Rat) IsStopped() bool { return r.stopped.Load() }

// Config returns the effective configuration.
func (r *Rat) Config() Config { return r.cfg }

// ShowInControl reports whether operators should see this rat.
func (r *Rat) ShowInControl() bool { return r.cfg.ShowInControl }

// Mode returns the execution mode.
func (r *Rat) Mode() Mode { return r.cfg.Mode }

// State returns the current state.
func (r *Rat) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetupError returns the error of the last failed setup, if any.
func (r *Rat) SetupError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupErr
}

// IsActive reports whether the worker is running (paused counts as active).
func (r *Rat) IsActive() bool {
	s := r.State()
	return s == StateRunning || s == StatePaused
}

// OnStateChange registers a listener.
func (r *Rat) OnStateChange(l StateListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Done is closed when the current worker exits. Before the first start it
// is already closed.
func (r *Rat) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return r.done
}

// setStateLocked must be called with mu held. The returned event is
// delivered with notify after unlocking.
func (r *Rat) setStateLocked(to State) (StateEvent, []StateListener) {
	ev := StateEvent{Rat: r.cfg.Name, From: r.state, To: to, At: time.Now()}
	r.state = to
	if r.metrics != nil {
		r.metrics.RecordRatState(r.cfg.Name, int(to))
	}
	return ev, append([]StateListener(nil), r.listeners...)
}

func (r *Rat) notify(ev StateEvent, listeners []StateListener) {
	if ev.From == ev.To {
		return
	}
	r.logger.Debug("Rat state changed", "from", ev.From.String(), "to", ev.To.String())
	for _, l := range listeners {
		l(ev)
	}
}

// Initialize runs setup: type compatibility along input, stage and output,
// then SetUp of stage, input and output. A failure leaves the rat failed and
// is classified fatal.
func (r *Rat) Initialize() error {
	r.mu.Lock()
	switch r.state {
	case StateRunning, StatePaused, StateStopping:
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Rat", "Initialize", "initialize "+r.cfg.Name)
	}
	ev, ls, err := r.initializeLocked()
	r.mu.Unlock()

	r.notify(ev, ls)
	return err
}

func (r *Rat) initializeLocked() (StateEvent, []StateListener, error) {
	if err := r.setUp(); err != nil {
		r.setupErr = err
		r.initialized = false
		ev, ls := r.setStateLocked(StateFailed)
		r.logger.Error("Rat setup failed", "error", err)
		return ev, ls, err
	}
	r.setupErr = nil
	r.initialized = true
	ev, ls := r.setStateLocked(StateIdle)
	return ev, ls, nil
}

// setUp releases whatever it already set up when a later step fails.
func (r *Rat) setUp() error {
	if err := r.cfg.CheckCompatibility(); err != nil {
		return errors.WrapFatal(err, "Rat", "SetUp", "check compatibility of "+r.cfg.Name)
	}
	if r.cfg.Stage != nil {
		if err := r.cfg.Stage.SetUp(); err != nil {
			return errors.WrapFatal(err, "Rat", "SetUp", "set up stage of "+r.cfg.Name)
		}
	}
	if err := r.cfg.Input.SetUp(r); err != nil {
		r.stopStage()
		return errors.WrapFatal(err, "Rat", "SetUp", "set up input of "+r.cfg.Name)
	}
	if err := r.cfg.Output.SetUp(r); err != nil {
		r.cfg.Input.StopExecution()
		r.stopStage()
		return errors.WrapFatal(err, "Rat", "SetUp", "set up output of "+r.cfg.Name)
	}
	return nil
}

func (r *Rat) stopStage() {
	if r.cfg.Stage != nil {
		r.cfg.Stage.StopExecution()
	}
}

// Release stops the adapters of an initialized rat that is not running, so
// listeners and connections opened by setup are closed. The next Start sets
// the rat up again. Release is a no-op on an active rat.
func (r *Rat) Release() {
	r.mu.Lock()
	switch r.state {
	case StateRunning, StatePaused, StateStopping:
		r.mu.Unlock()
		return
	}
	wasInitialized := r.initialized
	r.initialized = false
	r.mu.Unlock()

	if !wasInitialized {
		return
	}
	r.cfg.Input.StopExecution()
	r.stopStage()
	r.cfg.Output.StopExecution()
	r.logger.Debug("Rat released")
}

// Start spawns the worker. Starting an active rat is a no-op. A rat that
// was stopped or failed is set up again first.
func (r *Rat) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateRunning, StatePaused:
		r.mu.Unlock()
		return nil
	case StateStopping:
		r.mu.Unlock()
		return errors.WrapTransient(errors.ErrShuttingDown, "Rat", "Start", "start "+r.cfg.Name)
	}

	if !r.initialized || r.state == StateStopped || r.state == StateFailed {
		if ev, ls, err := r.initializeLocked(); err != nil {
			r.mu.Unlock()
			r.notify(ev, ls)
			return err
		}
	}

	r.stopped.Store(false)
	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done

	to := StateRunning
	if r.paused.Load() {
		to = StatePaused
	}
	ev, ls := r.setStateLocked(to)
	r.mu.Unlock()

	r.notify(ev, ls)
	r.logger.Info("Rat started", "mode", r.cfg.Mode.String(), "paused", to == StatePaused)

	go r.run(workerCtx, done)
	return nil
}

// Stop asks the worker to exit and waits for it, re-checking every ~100ms.
// timeout <= 0 waits without limit. Stop is idempotent.
func (r *Rat) Stop(timeout time.Duration) error {
	r.mu.Lock()
	switch r.state {
	case StateRunning, StatePaused, StateStopping:
	default:
		r.mu.Unlock()
		return nil
	}

	first := r.state != StateStopping
	var (
		ev StateEvent
		ls []StateListener
	)
	if first {
		r.stopped.Store(true)
		ev, ls = r.setStateLocked(StateStopping)
	}
	done, cancel := r.done, r.cancel
	r.mu.Unlock()

	if first {
		r.notify(ev, ls)
		r.cfg.Input.StopExecution()
		r.stopStage()
		r.cfg.Output.StopExecution()
		cancel()
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		wait := DefaultWaitInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return errors.WrapTransient(errors.ErrStopTimeout, "Rat", "Stop", "wait for worker of "+r.cfg.Name)
			}
			wait = min(wait, remaining)
		}

		select {
		case <-done:
			return nil
		case <-time.After(wait):
		}
	}
}

// Pause halts data movement. A reception in progress is interrupted and
// waited for, up to PauseGrace, so nothing is taken from the input once Pause
// returns. Items already received stay pending until Resume.
func (r *Rat) Pause() {
	r.paused.Store(true)

	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	ev, ls := r.setStateLocked(StatePaused)
	r.mu.Unlock()

	r.cfg.Input.InterruptReception()
	r.awaitReception()
	r.notify(ev, ls)
}

// PauseGrace bounds how long Pause waits for a reception to end.
const PauseGrace = time.Second

// awaitReception re-interrupts until the worker leaves Receive. The worker
// raises receiving before it checks the paused flag, so either it sees the
// pause or this loop sees it receiving.
func (r *Rat) awaitReception() {
	deadline := time.Now().Add(PauseGrace)
	for r.receiving.Load() {
		if time.Now().After(deadline) {
			r.logger.Warn("Reception still running after pause", "grace", PauseGrace)
			return
		}
		time.Sleep(5 * time.Millisecond)
		r.cfg.Input.InterruptReception()
	}
}

// Resume continues after Pause with the next poll cycle.
func (r *Rat) Resume() {
	r.paused.Store(false)

	r.mu.Lock()
	if r.state != StatePaused {
		r.mu.Unlock()
		return
	}
	ev, ls := r.setStateLocked(StateRunning)
	r.mu.Unlock()

	r.notify(ev, ls)
}

// finish runs when the worker exits.
func (r *Rat) finish(ctx context.Context) {
	r.mu.Lock()
	to := StateIdle
	if r.stopped.Load() || ctx.Err() != nil {
		to = StateStopped
	}
	if r.cancel != nil {
		r.cancel()
	}
	ev, ls := r.setStateLocked(to)
	r.mu.Unlock()

	r.notify(ev, ls)
	r.logger.Info("Rat worker exited", "state", to.String())
}
