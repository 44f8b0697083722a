// Package cron provides an input that runs a base input on a cron schedule.
package cron

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// Schedules take an optional leading seconds field, so both
// "0 */5 * * * *" and "*/5 * * * *" are accepted, as are descriptors
// like "@every 10s" and "@hourly".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse parses a schedule expression.
func Parse(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Cron", "Parse", "parse schedule "+expr)
	}
	return s, nil
}

// Config holds configuration for the cron input
type Config struct {
	Schedule string         `json:"schedule"`
	Input    component.Spec `json:"input"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Schedule == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "schedule is required")
	}
	if _, err := Parse(c.Schedule); err != nil {
		return err
	}
	if c.Input.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "input is required")
	}
	return nil
}

// Input waits for the next scheduled time, then performs one reception of
// the base input and takes over everything it produced. Triggers missed
// while paused or busy collapse into one.
type Input struct {
	rat.InputBase

	base     rat.Input
	schedule cron.Schedule
	now      func() time.Time

	mu   sync.Mutex
	next time.Time
}

var _ rat.Input = (*Input)(nil)

// New wraps base with schedule.
func New(base rat.Input, schedule cron.Schedule) *Input {
	return &Input{base: base, schedule: schedule, now: time.Now}
}

// Base returns the scheduled input.
func (i *Input) Base() rat.Input {
	return i.base
}

// Next returns the time of the next trigger, zero before SetUp.
func (i *Input) Next() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.next
}

// Generates delegates to the base input.
func (i *Input) Generates() reflect.Type {
	return i.base.Generates()
}

// SetUp sets up the base input and schedules the first trigger.
func (i *Input) SetUp(owner rat.Owner) error {
	if err := i.InputBase.SetUp(owner); err != nil {
		return err
	}
	if err := i.base.SetUp(owner); err != nil {
		return errors.Wrap(err, "Cron", "SetUp", "set up base input")
	}
	i.mu.Lock()
	i.next = i.schedule.Next(i.now())
	i.mu.Unlock()
	return nil
}

// Receive blocks until the next trigger, or returns early without output
// when interrupted or stopped. The pending trigger survives an interruption.
func (i *Input) Receive(ctx context.Context) error {
	i.BeginReceive()
	defer i.EndReceive()

	if d := i.Next().Sub(i.now()); d > 0 {
		if !i.Wait(ctx, d) {
			return nil
		}
	}
	if !i.CanReceive(ctx) {
		return nil
	}

	i.mu.Lock()
	i.next = i.schedule.Next(i.now())
	i.mu.Unlock()

	err := i.base.Receive(ctx)
	for i.base.HasPendingOutput() {
		i.Emit(i.base.Output())
	}
	if err != nil {
		return errors.Wrap(err, "Cron", "Receive", "run base input")
	}
	return nil
}

// InterruptReception interrupts the wait and the base input.
func (i *Input) InterruptReception() {
	i.InputBase.InterruptReception()
	i.base.InterruptReception()
}

// StopExecution stops the wait and the base input.
func (i *Input) StopExecution() {
	i.InputBase.StopExecution()
	i.base.StopExecution()
}

// NewInput creates a cron input from configuration, building the base input
// through the registry.
func NewInput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "Cron"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Cron", "NewInput", "registry required for base input")
	}
	schedule, err := Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	base, err := component.Create[rat.Input](deps.Registry, component.KindInput, cfg.Input, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Cron", "NewInput", "build base input")
	}
	return New(base, schedule), nil
}

// Register registers the cron input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "cron",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "schedule",
		Description: "Runs a base input on a cron schedule",
		Version:     "0.1.0",
	})
}
