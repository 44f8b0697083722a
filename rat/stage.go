package rat

import (
	"context"
	"reflect"
)

// Stage is the optional transform sequence between input and output.
type Stage interface {
	// Accepts lists the types the first step consumes.
	Accepts() []reflect.Type

	// Generates lists the types the last step produces.
	Generates() []reflect.Type

	// SetUp validates the steps and their mutual compatibility.
	SetUp() error

	// Process runs item through all steps and returns the final outputs in
	// order. Zero outputs means the item was filtered.
	Process(ctx context.Context, item any) ([]any, error)

	StopExecution()

	// Len is the number of steps. A stage with no steps is skipped.
	Len() int

	// Clone returns a shallow copy sharing the step values.
	Clone() Stage
}
