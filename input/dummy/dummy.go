// Package dummy provides an input that never produces anything.
package dummy

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/rat"
)

// idleWait keeps the worker from spinning.
const idleWait = 100 * time.Millisecond

// Input is a placeholder for rats whose data arrives by other means.
type Input struct {
	rat.InputBase
}

var _ rat.Input = (*Input)(nil)

// New creates a dummy input.
func New() *Input {
	return &Input{}
}

// Generates implements rat.Input.
func (i *Input) Generates() reflect.Type {
	return rat.Unknown
}

// Receive waits briefly and returns without output.
func (i *Input) Receive(ctx context.Context) error {
	i.BeginReceive()
	defer i.EndReceive()
	i.Wait(ctx, idleWait)
	return nil
}

// NewInput is the factory of the dummy input.
func NewInput(json.RawMessage, component.Dependencies) (any, error) {
	return New(), nil
}

// Register registers the dummy input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "dummy",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "none",
		Description: "Produces nothing",
		Version:     "0.1.0",
	})
}
