package rat

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/logsink"
)

// Default queue names for error routing
const (
	DefaultFlowErrorQueue = "flowerrors"
	DefaultSendErrorQueue = "senderrors"
)

// Default waits of the worker loop
const (
	DefaultPauseInterval = 100 * time.Millisecond
	DefaultWaitInterval  = 100 * time.Millisecond
)

// Mode selects how the worker runs.
type Mode int

const (
	// ModeContinuous loops until stopped.
	ModeContinuous Mode = iota
	// ModeManual runs a single pass per Start and is never started by a group.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a config string to a Mode. Empty means continuous.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "continuous":
		return ModeContinuous, nil
	case "manual":
		return ModeManual, nil
	default:
		return ModeContinuous, errors.WrapInvalid(
			fmt.Errorf("unknown mode %q", s), "rat", "ParseMode", "parse mode")
	}
}

// InitialState is the state a rat enters when started.
type InitialState int

const (
	InitialRunning InitialState = iota
	InitialPaused
)

func (s InitialState) String() string {
	if s == InitialPaused {
		return "paused"
	}
	return "running"
}

// ParseInitialState maps a config string. Empty means running.
func ParseInitialState(s string) (InitialState, error) {
	switch s {
	case "", "running":
		return InitialRunning, nil
	case "paused":
		return InitialPaused, nil
	default:
		return InitialRunning, errors.WrapInvalid(
			fmt.Errorf("unknown initial state %q", s), "rat", "ParseInitialState", "parse initial state")
	}
}

// Config describes one rat.
type Config struct {
	Name   string
	Input  Input
	Stage  Stage // optional
	Output Output

	// LogSink receives an entry for every per-item failure. Nil falls back
	// to the process log.
	LogSink logsink.Sink

	FlowErrorQueue string
	SendErrorQueue string

	// ShowInControl marks rats an operator surface should list.
	ShowInControl bool

	Mode         Mode
	InitialState InitialState

	// PauseInterval is the sleep of the pause loop.
	PauseInterval time.Duration
	// WaitInterval is the poll period while waiting for the output slot.
	WaitInterval time.Duration
}

// WithDefaults returns a copy with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.FlowErrorQueue == "" {
		c.FlowErrorQueue = DefaultFlowErrorQueue
	}
	if c.SendErrorQueue == "" {
		c.SendErrorQueue = DefaultSendErrorQueue
	}
	if c.PauseInterval <= 0 {
		c.PauseInterval = DefaultPauseInterval
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = DefaultWaitInterval
	}
	return c
}

// Validate checks the structural requirements.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Rat", "Validate", "rat name is required")
	}
	if c.Input == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Rat", "Validate",
			fmt.Sprintf("rat %s has no input", c.Name))
	}
	if c.Output == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Rat", "Validate",
			fmt.Sprintf("rat %s has no output", c.Name))
	}
	return nil
}

// CheckCompatibility verifies the types along input, stage and output.
func (c Config) CheckCompatibility() error {
	produced := Types(c.Input.Generates())

	if c.Stage != nil && c.Stage.Len() > 0 {
		if !Compatible(produced, c.Stage.Accepts()) {
			return incompatible("Input not compatible with stage", produced, c.Stage.Accepts())
		}
		produced = c.Stage.Generates()
		if !Compatible(produced, c.Output.Accepts()) {
			return incompatible("Stage not compatible with output", produced, c.Output.Accepts())
		}
		return nil
	}

	if !Compatible(produced, c.Output.Accepts()) {
		return incompatible("Input not compatible with output", produced, c.Output.Accepts())
	}
	return nil
}

func incompatible(what string, produced, accepted []reflect.Type) error {
	return fmt.Errorf("%w: %s: %s != %s", errors.ErrIncompatibleTypes, what, TypeNames(produced), TypeNames(accepted))
}
