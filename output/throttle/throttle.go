// Package throttle provides an output that limits the transmit rate of a
// wrapped output.
package throttle

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"golang.org/x/time/rate"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// Modes
const (
	ModeWait = "wait"
	ModeDrop = "drop"
)

// Config holds configuration for the throttle output
type Config struct {
	// Rate is the number of items per second.
	Rate   float64        `json:"rate"`
	Burst  int            `json:"burst,omitempty"`
	Mode   string         `json:"mode,omitempty"`
	Output component.Spec `json:"output"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "rate must be positive")
	}
	if c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "burst must not be negative")
	}
	switch c.Mode {
	case "", ModeWait, ModeDrop:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "mode must be one of: wait, drop")
	}
	if c.Output.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "output is required")
	}
	return nil
}

// Output delays (wait mode) or rejects (drop mode) items above the rate and
// hands the rest to the wrapped output.
type Output struct {
	rat.OutputBase

	inner   rat.Output
	limiter *rate.Limiter
	drop    bool

	mu     sync.Mutex
	stop   context.Context
	cancel context.CancelFunc
}

var _ rat.Output = (*Output)(nil)

// New wraps inner with a limiter of r items per second and the given burst.
// A burst below one is one.
func New(inner rat.Output, r float64, burst int) *Output {
	return &Output{inner: inner, limiter: rate.NewLimiter(rate.Limit(r), max(burst, 1))}
}

// DropExcess switches from waiting to rejecting items over the rate.
func (o *Output) DropExcess(drop bool) *Output {
	o.drop = drop
	return o
}

// Inner returns the wrapped output.
func (o *Output) Inner() rat.Output {
	return o.inner
}

// Accepts is what the wrapped output accepts.
func (o *Output) Accepts() []reflect.Type {
	return o.inner.Accepts()
}

// SetUp sets up the wrapped output.
func (o *Output) SetUp(owner rat.Owner) error {
	if err := o.OutputBase.SetUp(owner); err != nil {
		return err
	}
	o.mu.Lock()
	o.stop, o.cancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	if err := o.inner.SetUp(owner); err != nil {
		return errors.Wrap(err, "Throttle", "SetUp", "set up wrapped output")
	}
	return nil
}

func (o *Output) stopContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop == nil {
		return context.Background()
	}
	return o.stop
}

// Transmit waits for the limiter, then transmits through the wrapped output.
func (o *Output) Transmit(ctx context.Context) error {
	return o.Deliver(func(item any) error {
		if o.drop {
			if !o.limiter.Allow() {
				return errors.WrapTransient(errors.ErrRateLimited, "Throttle", "Transmit", "admit item")
			}
		} else {
			waitCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			unhook := context.AfterFunc(o.stopContext(), cancel)
			defer unhook()

			if err := o.limiter.Wait(waitCtx); err != nil {
				return errors.WrapTransient(err, "Throttle", "Transmit", "wait for rate limiter")
			}
		}

		if !o.inner.CanInput() {
			return errors.WrapTransient(errors.ErrSlotOccupied, "Throttle", "Transmit", "hand over item")
		}
		o.inner.Input(item)
		return o.inner.Transmit(ctx)
	})
}

// StopExecution aborts a pending wait and stops the wrapped output.
func (o *Output) StopExecution() {
	o.OutputBase.StopExecution()
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	o.inner.StopExecution()
}

// NewOutput creates a throttle output from configuration. The wrapped output
// is built through the registry.
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "Throttle"); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Throttle", "NewOutput", "registry required for wrapped output")
	}
	inner, err := component.Create[rat.Output](deps.Registry, component.KindOutput, cfg.Output, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Throttle", "NewOutput", "build wrapped output")
	}
	return New(inner, cfg.Rate, cfg.Burst).DropExcess(cfg.Mode == ModeDrop), nil
}

// Register registers the throttle output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "throttle",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "internal",
		Description: "Limits the transmit rate of a wrapped output",
		Version:     "0.1.0",
	})
}
