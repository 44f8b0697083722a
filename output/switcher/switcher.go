// Package switcher provides an output that forwards each item to the first
// case whose condition matches.
package switcher

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// Config holds configuration for the switch output
type Config struct {
	Conditions   []ConditionConfig `json:"conditions"`
	Cases        []component.Spec  `json:"cases"`
	RequireMatch bool              `json:"require_match,omitempty"`
}

// Output evaluates conditions in order; the first match transmits through
// the case at the same position. Items matching nothing are dropped unless
// RequireMatch is set.
type Output struct {
	rat.OutputBase

	conditions   []Condition
	cases        []rat.Output
	requireMatch bool
}

var _ rat.Output = (*Output)(nil)

// New builds a switch. The counts are checked in SetUp.
func New(conditions []Condition, cases []rat.Output) *Output {
	return &Output{conditions: conditions, cases: cases}
}

// RequireMatch makes unmatched items a delivery error.
func (o *Output) RequireMatch(v bool) *Output {
	o.requireMatch = v
	return o
}

// noCommonType stands in when the cases share no accepted type, so every
// concrete producer fails the compatibility check.
type noCommonType struct{}

// Accepts returns the types every case accepts, since any case may receive
// any item. Cases accepting Unknown do not narrow it.
func (o *Output) Accepts() []reflect.Type {
	var common []reflect.Type
	for _, c := range o.cases {
		accepted := c.Accepts()
		if acceptsAnything(accepted) {
			continue
		}
		if common == nil {
			common = accepted
			continue
		}
		var kept []reflect.Type
		for _, t := range common {
			if rat.Compatible(rat.Types(t), accepted) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			return rat.Types(reflect.TypeFor[noCommonType]())
		}
		common = kept
	}
	if common == nil {
		return rat.Types(rat.Unknown)
	}
	return common
}

func acceptsAnything(accepted []reflect.Type) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, t := range accepted {
		if t == nil || t == rat.Unknown {
			return true
		}
	}
	return false
}

// SetUp checks that conditions and cases pair up and sets up every case
// with the same owner.
func (o *Output) SetUp(owner rat.Owner) error {
	if err := o.OutputBase.SetUp(owner); err != nil {
		return err
	}
	if len(o.conditions) != len(o.cases) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: number of conditions and cases differ: %d != %d",
				errors.ErrInvalidConfig, len(o.conditions), len(o.cases)),
			"Switch", "SetUp", "pair conditions")
	}
	for i, c := range o.cases {
		if err := c.SetUp(owner); err != nil {
			return errors.Wrap(err, "Switch", "SetUp", fmt.Sprintf("set up case #%d", i+1))
		}
	}
	return nil
}

// Transmit forwards the held item to the first matching case.
func (o *Output) Transmit(ctx context.Context) error {
	return o.Deliver(func(item any) error {
		for i, cond := range o.conditions {
			if !cond.Match(item) {
				continue
			}
			c := o.cases[i]
			if !c.CanInput() {
				return errors.WrapTransient(errors.ErrSlotOccupied, "Switch", "Transmit",
					fmt.Sprintf("case #%d", i+1))
			}
			c.Input(item)
			if err := c.Transmit(ctx); err != nil {
				return fmt.Errorf("case #%d failed with transmitting: %w", i+1, err)
			}
			return nil
		}
		if o.requireMatch {
			return errors.WrapInvalid(errors.ErrNoCaseMatch, "Switch", "Transmit", "select case")
		}
		return nil
	})
}

// StopExecution stops every case.
func (o *Output) StopExecution() {
	o.OutputBase.StopExecution()
	for _, c := range o.cases {
		c.StopExecution()
	}
}

// NewOutput builds a switch from configuration, creating every case through
// the registry.
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "Switch"); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Switch", "NewOutput", "registry required for cases")
	}

	conditions := make([]Condition, 0, len(cfg.Conditions))
	for i, cc := range cfg.Conditions {
		c, err := cc.Build()
		if err != nil {
			return nil, errors.Wrap(err, "Switch", "NewOutput", fmt.Sprintf("build condition #%d", i+1))
		}
		conditions = append(conditions, c)
	}

	cases := make([]rat.Output, 0, len(cfg.Cases))
	for i, spec := range cfg.Cases {
		out, err := component.Create[rat.Output](deps.Registry, component.KindOutput, spec, deps)
		if err != nil {
			return nil, errors.Wrap(err, "Switch", "NewOutput", fmt.Sprintf("build case #%d", i+1))
		}
		cases = append(cases, out)
	}

	return New(conditions, cases).RequireMatch(cfg.RequireMatch), nil
}

// Register registers the switch output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "switch",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "composite",
		Description: "Forwards items to the first case whose condition matches",
		Version:     "0.1.0",
	})
}
