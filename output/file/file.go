// Package file provides an output that appends items to a file, one per line.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// Formats
const (
	FormatRaw   = "raw"
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

// Config holds configuration for file output component
type Config struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	Append bool   `json:"append"`
}

// DefaultConfig returns default configuration for file output
func DefaultConfig() Config {
	return Config{Format: FormatJSONL, Append: true}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "path is required")
	}
	switch c.Format {
	case FormatRaw, FormatJSONL, FormatJSON:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: json, jsonl, raw")
	}
	return nil
}

// Output writes each item as a line. Text items ([]byte, string) are
// written verbatim in raw format; everything else is JSON encoded.
type Output struct {
	rat.OutputBase

	cfg    Config
	logger *slog.Logger

	fileMu sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

var _ rat.Output = (*Output)(nil)

// New creates a file output.
func New(cfg Config, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{cfg: cfg, logger: logger.With("component", "file-output")}
}

// Accepts implements rat.Output.
func (f *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

// SetUp creates the directory and opens the file. The first SetUp honours
// Append; later ones always append so a restart keeps earlier output.
func (f *Output) SetUp(owner rat.Owner) error {
	if err := f.OutputBase.SetUp(owner); err != nil {
		return err
	}
	if err := f.cfg.Validate(); err != nil {
		return err
	}

	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if f.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(f.cfg.Path), 0o755); err != nil {
		return errors.WrapFatal(err, "Output", "SetUp", "create output directory")
	}
	flags := os.O_CREATE | os.O_WRONLY
	if f.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.cfg.Path, flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Output", "SetUp", "open output file")
	}
	f.file = file
	f.writer = bufio.NewWriter(file)
	f.cfg.Append = true
	return nil
}

func (f *Output) encode(item any) ([]byte, error) {
	if f.cfg.Format == FormatRaw {
		switch v := item.(type) {
		case []byte:
			return append(append([]byte(nil), v...), '\n'), nil
		case string:
			return []byte(v + "\n"), nil
		}
	}

	var (
		data []byte
		err  error
	)
	if f.cfg.Format == FormatJSON {
		data, err = json.MarshalIndent(item, "", "  ")
	} else {
		data, err = json.Marshal(item)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Output", "Transmit", "encode item")
	}
	return append(data, '\n'), nil
}

// Transmit appends the held item and flushes.
func (f *Output) Transmit(context.Context) error {
	return f.Deliver(func(item any) error {
		data, err := f.encode(item)
		if err != nil {
			return err
		}

		f.fileMu.Lock()
		defer f.fileMu.Unlock()
		if f.writer == nil {
			return errors.WrapTransient(errors.ErrNotStarted, "Output", "Transmit", "write to closed file")
		}
		if _, err := f.writer.Write(data); err != nil {
			return errors.WrapTransient(err, "Output", "Transmit", fmt.Sprintf("write %s", f.cfg.Path))
		}
		if err := f.writer.Flush(); err != nil {
			return errors.WrapTransient(err, "Output", "Transmit", fmt.Sprintf("flush %s", f.cfg.Path))
		}
		return nil
	})
}

// StopExecution flushes and closes the file.
func (f *Output) StopExecution() {
	f.OutputBase.StopExecution()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if f.file == nil {
		return
	}
	if err := f.writer.Flush(); err != nil {
		f.logger.Warn("failed to flush output file", "error", err, "path", f.cfg.Path)
	}
	if err := f.file.Close(); err != nil {
		f.logger.Warn("failed to close output file", "error", err, "path", f.cfg.Path)
	}
	f.file = nil
	f.writer = nil
}

// NewOutput creates a file output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	cfg := DefaultConfig()
	if err := component.Decode(rawConfig, &cfg, "FileOutput"); err != nil {
		return nil, err
	}
	return New(cfg, deps.GetLogger()), nil
}

// Register registers the file output component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "file",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "file",
		Description: "Appends items to a file in JSON, JSONL, or raw format",
		Version:     "0.1.0",
	})
}
