// Package exec provides an output that runs an external command for every
// item.
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

const waitDelay = time.Second

// Config holds configuration for the exec output
type Config struct {
	Command []string `json:"command"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Stdin   bool     `json:"stdin,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "command is required")
	}
	if _, err := component.ParseDuration(c.Timeout, 0, "timeout"); err != nil {
		return err
	}
	return nil
}

// Output runs the command once per item. The item is ignored unless Stdin
// is set, in which case its text form is piped to the command. A non-zero
// exit fails the delivery with the command's stderr.
type Output struct {
	rat.OutputBase

	cfg     Config
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ rat.Output = (*Output)(nil)

// New creates an exec output. cfg must be valid.
func New(cfg Config, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, _ := component.ParseDuration(cfg.Timeout, 0, "timeout")
	return &Output{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.With("component", "exec-output", "command", cfg.Command[0]),
	}
}

// Accepts implements rat.Output.
func (o *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

func text(item any) []byte {
	switch v := item.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

// Transmit runs the command for the held item.
func (o *Output) Transmit(ctx context.Context) error {
	return o.Deliver(func(item any) error {
		if o.IsStopped() {
			return errors.WrapTransient(errors.ErrNotStarted, "ExecOutput", "Transmit", "run after stop")
		}

		runCtx, cancel := context.WithCancel(ctx)
		if o.timeout > 0 {
			var stop context.CancelFunc
			runCtx, stop = context.WithTimeout(runCtx, o.timeout)
			defer stop()
		}
		o.mu.Lock()
		o.cancel = cancel
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			o.cancel = nil
			o.mu.Unlock()
			cancel()
		}()

		cmd := exec.CommandContext(runCtx, o.cfg.Command[0], o.cfg.Command[1:]...)
		cmd.Dir = o.cfg.Dir
		if len(o.cfg.Env) > 0 {
			cmd.Env = append(os.Environ(), o.cfg.Env...)
		}
		cmd.WaitDelay = waitDelay
		if o.cfg.Stdin {
			cmd.Stdin = bytes.NewReader(text(item))
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return errors.WrapTransient(
				fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
				"ExecOutput", "Transmit", "run "+o.cfg.Command[0])
		}
		return nil
	})
}

// StopExecution kills a running command.
func (o *Output) StopExecution() {
	o.OutputBase.StopExecution()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.logger.Debug("Killing running command")
		o.cancel()
	}
}

// NewOutput creates an exec output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "ExecOutput"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg, deps.GetLogger()), nil
}

// Register registers the exec output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "exec",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "process",
		Description: "Runs a command for every item, optionally piping the item to stdin",
		Version:     "0.1.0",
	})
}
