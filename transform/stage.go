// Package transform provides the ordered, type-checked stage a rat runs each
// received item through before delivery.
package transform

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// Step is one transformation. Zero outputs filter the item; several outputs
// fan it out.
type Step interface {
	Name() string
	Accepts() []reflect.Type
	Generates() []reflect.Type
	Process(ctx context.Context, item any) ([]any, error)
}

// Stage applies its steps in order. It implements rat.Stage.
type Stage struct {
	steps   []Step
	stopped atomic.Bool
}

var _ rat.Stage = (*Stage)(nil)

// New builds a stage from steps. Type checks between steps happen in SetUp.
func New(steps ...Step) *Stage {
	return &Stage{steps: append([]Step(nil), steps...)}
}

// Append adds steps at the end.
func (s *Stage) Append(steps ...Step) {
	s.steps = append(s.steps, steps...)
}

// Steps returns the steps in order.
func (s *Stage) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Len returns the number of steps.
func (s *Stage) Len() int {
	return len(s.steps)
}

// Accepts is the accept list of the first step.
func (s *Stage) Accepts() []reflect.Type {
	if len(s.steps) == 0 {
		return nil
	}
	return s.steps[0].Accepts()
}

// Generates is the output list of the last step.
func (s *Stage) Generates() []reflect.Type {
	if len(s.steps) == 0 {
		return nil
	}
	return s.steps[len(s.steps)-1].Generates()
}

// SetUp verifies that every step can consume what its predecessor produces.
func (s *Stage) SetUp() error {
	s.stopped.Store(false)
	for i := 1; i < len(s.steps); i++ {
		prev, next := s.steps[i-1], s.steps[i]
		if !rat.Compatible(prev.Generates(), next.Accepts()) {
			return errors.WrapFatal(
				fmt.Errorf("%w: step %s not compatible with step %s: %s != %s",
					errors.ErrIncompatibleTypes, prev.Name(), next.Name(),
					rat.TypeNames(prev.Generates()), rat.TypeNames(next.Accepts())),
				"Stage", "SetUp", "check step compatibility")
		}
	}
	return nil
}

// Process feeds item through every step and returns the final outputs in
// order.
func (s *Stage) Process(ctx context.Context, item any) ([]any, error) {
	if s.stopped.Load() {
		return nil, errors.WrapTransient(errors.ErrShuttingDown, "Stage", "Process", "process item")
	}

	current := []any{item}
	for _, step := range s.steps {
		var next []any
		for _, in := range current {
			out, err := step.Process(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step.Name(), err)
			}
			next = append(next, out...)
		}
		if len(next) == 0 {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// StopExecution makes further Process calls fail.
func (s *Stage) StopExecution() {
	s.stopped.Store(true)
}

// Clone returns a stage sharing the step values with a fresh stopped flag.
func (s *Stage) Clone() rat.Stage {
	return New(s.steps...)
}

// Func adapts a function to a Step.
type Func struct {
	StepName  string
	In        []reflect.Type
	Out       []reflect.Type
	Transform func(ctx context.Context, item any) ([]any, error)
}

var _ Step = (*Func)(nil)

// NewFunc builds a one-to-one step from fn.
func NewFunc[In, Out any](name string, fn func(In) (Out, error)) *Func {
	return &Func{
		StepName: name,
		In:       rat.Types(rat.TypeOf[In]()),
		Out:      rat.Types(rat.TypeOf[Out]()),
		Transform: func(_ context.Context, item any) ([]any, error) {
			v, ok := item.(In)
			if !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: got %T, want %s", errors.ErrInvalidData, item, rat.TypeOf[In]()),
					"Func", "Process", "convert item")
			}
			out, err := fn(v)
			if err != nil {
				return nil, err
			}
			return []any{out}, nil
		},
	}
}

// Name implements Step.
func (f *Func) Name() string { return f.StepName }

// Accepts implements Step.
func (f *Func) Accepts() []reflect.Type { return f.In }

// Generates implements Step.
func (f *Func) Generates() []reflect.Type { return f.Out }

// Process implements Step.
func (f *Func) Process(ctx context.Context, item any) ([]any, error) {
	return f.Transform(ctx, item)
}
