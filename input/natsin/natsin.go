// Package natsin provides a buffered input fed by a NATS subscription.
package natsin

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/natsclient"
	"github.com/c360/ratstreams/pkg/payload"
	"github.com/c360/ratstreams/rat"
)

// Subscriber is the part of natsclient.Client the input uses.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (*natsclient.Subscription, error)
}

var _ Subscriber = (*natsclient.Client)(nil)

// Config holds configuration for the NATS input
type Config struct {
	Subject        string `json:"subject"`
	Format         string `json:"format,omitempty"`
	BufferCapacity int    `json:"buffer_capacity,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "subject is required")
	}
	if !payload.ValidFormat(c.Format) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: bytes, string, json")
	}
	return nil
}

// Source emits message payloads. The subscription lives from Run until
// ctx is done.
type Source struct {
	client  Subscriber
	subject string
	format  string
	logger  *slog.Logger

	mu  sync.Mutex
	sub *natsclient.Subscription
}

var _ rat.Source = (*Source)(nil)

// NewSource creates a NATS source.
func NewSource(client Subscriber, cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		client:  client,
		subject: cfg.Subject,
		format:  cfg.Format,
		logger:  logger.With("component", "nats-input", "subject", cfg.Subject),
	}
}

// Generates follows the configured format: []byte, string, or any decoded
// JSON value.
func (s *Source) Generates() reflect.Type {
	switch s.format {
	case payload.FormatString:
		return rat.TypeOf[string]()
	case payload.FormatJSON:
		return rat.Unknown
	default:
		return rat.TypeOf[[]byte]()
	}
}

// Open checks a client is present. Subscribing is deferred to Run.
func (s *Source) Open(rat.Owner) error {
	if s.client == nil {
		return errors.WrapInvalid(errors.ErrNoConnection, "Source", "Open", "NATS client required")
	}
	return nil
}

// Run subscribes and blocks until ctx is done. The handler blocks on a full
// buffer, which in turn holds back the NATS delivery goroutine.
func (s *Source) Run(ctx context.Context, emit func(item any) error) error {
	sub, err := s.client.Subscribe(ctx, s.subject, func(_ context.Context, data []byte) {
		item, err := payload.Decode(data, s.format)
		if err != nil {
			s.logger.Warn("Dropping undecodable message", "error", err)
			return
		}
		if err := emit(item); err != nil && ctx.Err() == nil {
			s.logger.Warn("Failed to buffer message", "error", err)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Source", "Run", "subscribe to "+s.subject)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.logger.Debug("Subscribed")

	<-ctx.Done()
	return s.unsubscribe()
}

func (s *Source) unsubscribe() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	return sub.Unsubscribe()
}

// Close drops the subscription if Run did not.
func (s *Source) Close() error {
	return s.unsubscribe()
}

// NewInput creates a buffered NATS input from configuration
func NewInput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "NATSInput"); err != nil {
		return nil, err
	}
	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "NATSInput", "Factory", "NATS client required")
	}
	return rat.NewBuffered(NewSource(deps.NATSClient, cfg, deps.GetLogger()), cfg.BufferCapacity), nil
}

// Register registers the NATS input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "nats",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "nats",
		Description: "Emits payloads of messages on a NATS subject",
		Version:     "0.1.0",
	})
}
