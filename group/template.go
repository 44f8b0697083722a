package group

import (
	"fmt"
	"time"

	"github.com/c360/ratstreams/errors"
	inqueue "github.com/c360/ratstreams/input/queue"
	"github.com/c360/ratstreams/logsink"
	outqueue "github.com/c360/ratstreams/output/queue"
	"github.com/c360/ratstreams/rat"
)

// NameSeparator joins template and input name in expanded rat names.
const NameSeparator = "-"

// Template is a rat configuration replicated once per input queue. It never
// runs itself.
type Template struct {
	Name string
	// Inputs are the storage queues, one rat per queue.
	Inputs []string
	// Output is the storage queue every expanded rat writes to.
	Output string

	PollInterval time.Duration
	// PollTimeout bounds each wait on an input queue; zero keeps the
	// dequeue default.
	PollTimeout time.Duration

	Stage   rat.Stage
	LogSink logsink.Sink

	FlowErrorQueue string
	SendErrorQueue string
	ShowInControl  bool
	Mode           rat.Mode
	InitialState   rat.InitialState
}

// Validate checks the template without building anything.
func (t Template) Validate() error {
	if t.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Template", "Validate", "template name is required")
	}
	if len(t.Inputs) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: template %s has no inputs", errors.ErrMissingConfig, t.Name),
			"Template", "Validate", "check inputs")
	}
	if t.Output == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: template %s has no output", errors.ErrMissingConfig, t.Name),
			"Template", "Validate", "check output")
	}

	seen := make(map[string]struct{}, len(t.Inputs))
	for i, in := range t.Inputs {
		if in == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: template %s input #%d is empty", errors.ErrInvalidConfig, t.Name, i+1),
				"Template", "Validate", "check inputs")
		}
		if _, dup := seen[in]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("%w: template %s lists input %q twice", errors.ErrInvalidConfig, t.Name, in),
				"Template", "Validate", "check inputs")
		}
		seen[in] = struct{}{}
	}
	return nil
}

// Expand returns one rat configuration per input, in input order. Each
// polls its own queue, writes to the shared output queue and gets a shallow
// copy of the stage; everything else is copied as is.
func Expand(t Template) ([]rat.Config, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	configs := make([]rat.Config, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		var stage rat.Stage
		if t.Stage != nil {
			stage = t.Stage.Clone()
		}
		configs = append(configs, rat.Config{
			Name:           t.Name + NameSeparator + in,
			Input:          rat.NewPolling(inqueue.New(in).WithPollTimeout(t.PollTimeout), t.PollInterval),
			Stage:          stage,
			Output:         outqueue.New(t.Output),
			LogSink:        t.LogSink,
			FlowErrorQueue: t.FlowErrorQueue,
			SendErrorQueue: t.SendErrorQueue,
			ShowInControl:  t.ShowInControl,
			Mode:           t.Mode,
			InitialState:   t.InitialState,
		})
	}
	return configs, nil
}
