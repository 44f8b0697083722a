// Package dummy provides an output that discards every item.
package dummy

import (
	"context"
	"encoding/json"
	"reflect"
	"sync/atomic"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/rat"
)

// Output discards items and counts them.
type Output struct {
	rat.OutputBase
	discarded atomic.Int64
}

var _ rat.Output = (*Output)(nil)

// New creates a dummy output.
func New() *Output {
	return &Output{}
}

// Accepts implements rat.Output.
func (o *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

// Transmit drops the held item.
func (o *Output) Transmit(context.Context) error {
	return o.Deliver(func(any) error {
		o.discarded.Add(1)
		return nil
	})
}

// Discarded returns the number of transmitted items.
func (o *Output) Discarded() int64 {
	return o.discarded.Load()
}

// NewOutput is the factory of the dummy output.
func NewOutput(json.RawMessage, component.Dependencies) (any, error) {
	return New(), nil
}

// Register registers the dummy output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "dummy",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "none",
		Description: "Discards every item",
		Version:     "0.1.0",
	})
}
