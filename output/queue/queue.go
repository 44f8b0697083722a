// Package queue provides the output that pushes items onto a named storage
// queue of the owning group.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// Config holds configuration for the enqueue output
type Config struct {
	Queue string `json:"queue"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Queue == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "queue is required")
	}
	return nil
}

// EnQueue appends every transmitted item to a storage queue.
type EnQueue struct {
	rat.OutputBase
	name string
}

var _ rat.Output = (*EnQueue)(nil)

// New creates an EnQueue for the named queue.
func New(name string) *EnQueue {
	return &EnQueue{name: name}
}

// QueueName returns the name of the target queue.
func (e *EnQueue) QueueName() string {
	return e.name
}

// Accepts implements rat.Output.
func (e *EnQueue) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

// Transmit pushes the held item. A missing or full queue fails delivery.
func (e *EnQueue) Transmit(context.Context) error {
	return e.Deliver(func(item any) error {
		owner := e.Owner()
		if owner == nil || owner.Storage() == nil {
			return errors.WrapInvalid(errors.ErrNotStarted, "EnQueue", "Transmit", "transmit before setup")
		}
		q, ok := owner.Storage().Queue(e.name)
		if !ok {
			return errors.WrapTransient(
				fmt.Errorf("%w: %s", errors.ErrQueueNotFound, e.name), "EnQueue", "Transmit", "look up queue")
		}
		if err := q.Push(item); err != nil {
			return errors.WrapTransient(err, "EnQueue", "Transmit", "push to "+e.name)
		}
		return nil
	})
}

// NewOutput creates an EnQueue from configuration.
func NewOutput(rawConfig json.RawMessage, _ component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "EnQueue"); err != nil {
		return nil, err
	}
	return New(cfg.Queue), nil
}

// Register registers the enqueue output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "queue",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "storage",
		Description: "Pushes items onto a named queue of the group",
		Version:     "0.1.0",
	})
}
