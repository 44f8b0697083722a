// Package natsout provides an output that publishes items to a NATS subject,
// optionally through a JetStream stream.
package natsout

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/natsclient"
	"github.com/c360/ratstreams/pkg/payload"
	"github.com/c360/ratstreams/rat"
)

// Publisher is the part of natsclient.Client the output uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	EnsureStream(ctx context.Context, name string, subjects ...string) (jetstream.Stream, error)
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

var _ Publisher = (*natsclient.Client)(nil)

// Config holds configuration for the NATS output
type Config struct {
	Subject string `json:"subject"`
	// Stream, when set, makes publishing acknowledged by JetStream. The
	// stream is created at SetUp if missing.
	Stream string `json:"stream,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "subject is required")
	}
	return nil
}

// Output publishes each item. Text items are sent verbatim, anything else as
// JSON.
type Output struct {
	rat.OutputBase

	client Publisher
	cfg    Config
	logger *slog.Logger
}

var _ rat.Output = (*Output)(nil)

const setupTimeout = 10 * time.Second

// New creates a NATS output.
func New(client Publisher, cfg Config, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "nats-output", "subject", cfg.Subject),
	}
}

// Accepts implements rat.Output.
func (o *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

// SetUp ensures the stream when one is configured.
func (o *Output) SetUp(owner rat.Owner) error {
	if err := o.OutputBase.SetUp(owner); err != nil {
		return err
	}
	if o.client == nil {
		return errors.WrapInvalid(errors.ErrNoConnection, "Output", "SetUp", "NATS client required")
	}
	if o.cfg.Stream == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if _, err := o.client.EnsureStream(ctx, o.cfg.Stream, o.cfg.Subject); err != nil {
		return errors.WrapTransient(err, "Output", "SetUp", "ensure stream "+o.cfg.Stream)
	}
	return nil
}

// Transmit publishes the held item.
func (o *Output) Transmit(ctx context.Context) error {
	return o.Deliver(func(item any) error {
		data, err := payload.Encode(item)
		if err != nil {
			return err
		}
		if o.cfg.Stream != "" {
			err = o.client.PublishToStream(ctx, o.cfg.Subject, data)
		} else {
			err = o.client.Publish(ctx, o.cfg.Subject, data)
		}
		if err != nil {
			return errors.WrapTransient(err, "Output", "Transmit", "publish to "+o.cfg.Subject)
		}
		return nil
	})
}

// NewOutput creates a NATS output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "NATSOutput"); err != nil {
		return nil, err
	}
	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "NATSOutput", "Factory", "NATS client required")
	}
	return New(deps.NATSClient, cfg, deps.GetLogger()), nil
}

// Register registers the NATS output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "nats",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "nats",
		Description: "Publishes items to a NATS subject or JetStream stream",
		Version:     "0.1.0",
	})
}
