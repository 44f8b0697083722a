// Package exec provides an input that runs an external command and emits
// what it printed.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// waitDelay bounds how long Run waits for output pipes after the process
// was killed.
const waitDelay = time.Second

// Config holds configuration for the exec input
type Config struct {
	Command      []string `json:"command"`
	Dir          string   `json:"dir,omitempty"`
	Env          []string `json:"env,omitempty"`
	Stderr       bool     `json:"stderr,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
	PollInterval string   `json:"poll_interval,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "command is required")
	}
	if _, err := component.ParseDuration(c.Timeout, 0, "timeout"); err != nil {
		return err
	}
	if _, err := component.ParseDuration(c.PollInterval, 0, "poll_interval"); err != nil {
		return err
	}
	return nil
}

// Input runs the command once per reception and emits its stdout, or its
// stderr when configured, as a string. A run that is interrupted or stopped
// is killed and produces nothing.
type Input struct {
	rat.InputBase

	cfg     Config
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ rat.Input = (*Input)(nil)

// New creates an exec input. cfg must be valid.
func New(cfg Config, logger *slog.Logger) *Input {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, _ := component.ParseDuration(cfg.Timeout, 0, "timeout")
	return &Input{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.With("component", "exec-input", "command", cfg.Command[0]),
	}
}

// Generates implements rat.Input.
func (i *Input) Generates() reflect.Type {
	return rat.TypeOf[string]()
}

// Receive runs the command to completion.
func (i *Input) Receive(ctx context.Context) error {
	i.BeginReceive()
	defer i.EndReceive()
	if !i.CanReceive(ctx) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if i.timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(runCtx, i.timeout)
		defer stop()
	}
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.cancel = nil
		i.mu.Unlock()
		cancel()
	}()

	cmd := exec.CommandContext(runCtx, i.cfg.Command[0], i.cfg.Command[1:]...)
	cmd.Dir = i.cfg.Dir
	if len(i.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), i.cfg.Env...)
	}
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if !i.CanReceive(ctx) {
		i.logger.Debug("Command run abandoned", "error", err)
		return nil
	}
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
			"ExecInput", "Receive", "run "+i.cfg.Command[0])
	}
	i.logger.Debug("Command finished", "duration", time.Since(start), "bytes", stdout.Len())

	if i.cfg.Stderr {
		i.Emit(stderr.String())
	} else {
		i.Emit(stdout.String())
	}
	return nil
}

func (i *Input) kill() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		i.cancel()
	}
}

// InterruptReception kills a running command.
func (i *Input) InterruptReception() {
	i.InputBase.InterruptReception()
	i.kill()
}

// StopExecution kills a running command.
func (i *Input) StopExecution() {
	i.InputBase.StopExecution()
	i.kill()
}

// NewInput creates an exec input from configuration. With poll_interval
// the worker sleeps that long between runs.
func NewInput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "ExecInput"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	in := New(cfg, deps.GetLogger())
	if cfg.PollInterval == "" {
		return in, nil
	}
	interval, _ := component.ParseDuration(cfg.PollInterval, 0, "poll_interval")
	return rat.NewPolling(in, interval), nil
}

// Register registers the exec input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "exec",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "process",
		Description: "Runs a command and emits its stdout or stderr",
		Version:     "0.1.0",
	})
}
