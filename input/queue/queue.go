// Package queue provides the input that consumes a named storage queue of
// the owning group.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
	"github.com/c360/ratstreams/storage"
)

// DefaultPollTimeout bounds each wait on the queue.
const DefaultPollTimeout = 100 * time.Millisecond

// Config holds configuration for the dequeue input
type Config struct {
	Queue        string `json:"queue"`
	PollTimeout  string `json:"poll_timeout,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Queue == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "queue is required")
	}
	return nil
}

// DeQueue takes items from a storage queue. The queue is looked up on every
// reception so it may be created after the rat is set up.
type DeQueue struct {
	rat.InputBase

	name        string
	pollTimeout time.Duration
	generates   reflect.Type
}

var _ rat.Input = (*DeQueue)(nil)

// New creates a DeQueue for the named queue producing items of any type.
func New(name string) *DeQueue {
	return &DeQueue{name: name, pollTimeout: DefaultPollTimeout, generates: rat.Unknown}
}

// WithPollTimeout sets the bounded wait per poll.
func (d *DeQueue) WithPollTimeout(timeout time.Duration) *DeQueue {
	if timeout > 0 {
		d.pollTimeout = timeout
	}
	return d
}

// QueueName returns the name of the consumed queue.
func (d *DeQueue) QueueName() string {
	return d.name
}

// Generates implements rat.Input.
func (d *DeQueue) Generates() reflect.Type {
	return d.generates
}

func (d *DeQueue) queue() (*storage.Queue, error) {
	owner := d.Owner()
	if owner == nil || owner.Storage() == nil {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "DeQueue", "Receive", "receive before setup")
	}
	q, ok := owner.Storage().Queue(d.name)
	if !ok {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s", errors.ErrQueueNotFound, d.name), "DeQueue", "Receive", "look up queue")
	}
	return q, nil
}

// Receive polls the queue until an item arrives or reception may not
// continue.
func (d *DeQueue) Receive(ctx context.Context) error {
	d.BeginReceive()
	defer d.EndReceive()

	q, err := d.queue()
	if err != nil {
		return err
	}

	for d.CanReceive(ctx) {
		if item, ok := q.PollWithTimeout(ctx, d.pollTimeout); ok {
			d.Emit(item)
			return nil
		}
	}
	return nil
}

func (d *DeQueue) wake() {
	owner := d.Owner()
	if owner == nil || owner.Storage() == nil {
		return
	}
	if q, ok := owner.Storage().Queue(d.name); ok {
		q.Notify()
	}
}

// StopExecution stops reception and wakes a poll in progress.
func (d *DeQueue) StopExecution() {
	d.InputBase.StopExecution()
	d.wake()
}

// InterruptReception wakes a poll in progress.
func (d *DeQueue) InterruptReception() {
	d.InputBase.InterruptReception()
	d.wake()
}

// NewInput creates a DeQueue from configuration. A poll_interval wraps it in
// rat.Polling.
func NewInput(rawConfig json.RawMessage, _ component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "DeQueue"); err != nil {
		return nil, err
	}
	timeout, err := component.ParseDuration(cfg.PollTimeout, DefaultPollTimeout, "poll_timeout")
	if err != nil {
		return nil, err
	}
	interval, err := component.ParseDuration(cfg.PollInterval, 0, "poll_interval")
	if err != nil {
		return nil, err
	}

	in := New(cfg.Queue).WithPollTimeout(timeout)
	if interval > 0 {
		return rat.NewPolling(in, interval), nil
	}
	return in, nil
}

// Register registers the dequeue input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "queue",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "storage",
		Description: "Takes items from a named queue of the group",
		Version:     "0.1.0",
	})
}
