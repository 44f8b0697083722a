// Package kafkain provides a buffered input consuming Kafka topics with
// franz-go.
package kafkain

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/payload"
	"github.com/c360/ratstreams/rat"
)

// Consumer is the part of *kgo.Client the source uses.
type Consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	Close()
}

var _ Consumer = (*kgo.Client)(nil)

// Dialer creates a consumer. It is called on every Open.
type Dialer func(cfg Config) (Consumer, error)

// Config holds configuration for the Kafka input
type Config struct {
	Brokers        []string `json:"brokers"`
	Topics         []string `json:"topics"`
	Group          string   `json:"group,omitempty"`
	StartAt        string   `json:"start_at,omitempty"`
	Format         string   `json:"format,omitempty"`
	RetryTimeout   string   `json:"retry_timeout,omitempty"`
	BufferCapacity int      `json:"buffer_capacity,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "brokers are required")
	}
	if len(c.Topics) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "topics are required")
	}
	switch c.StartAt {
	case "", "earliest", "latest":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"start_at must be one of: earliest, latest")
	}
	if !payload.ValidFormat(c.Format) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: bytes, string, json")
	}
	if _, err := component.ParseDuration(c.RetryTimeout, 0, "retry_timeout"); err != nil {
		return err
	}
	return nil
}

// Dial builds a kgo client from the configuration.
func Dial(cfg Config) (Consumer, error) {
	retryTimeout, _ := component.ParseDuration(cfg.RetryTimeout, 10*time.Second, "retry_timeout")

	offset := kgo.NewOffset().AtStart()
	if cfg.StartAt == "latest" {
		offset = kgo.NewOffset().AtEnd()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(offset),
		kgo.RetryTimeout(retryTimeout),
	}
	if cfg.Group != "" {
		opts = append(opts, kgo.ConsumerGroup(cfg.Group))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Source emits record values.
type Source struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	client Consumer
}

var _ rat.Source = (*Source)(nil)

// NewSource creates a Kafka source. A nil dial uses Dial.
func NewSource(cfg Config, dial Dialer, logger *slog.Logger) *Source {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With("component", "kafka-input", "topics", cfg.Topics),
	}
}

// Generates follows the configured format.
func (s *Source) Generates() reflect.Type {
	switch s.cfg.Format {
	case payload.FormatString:
		return rat.TypeOf[string]()
	case payload.FormatJSON:
		return rat.Unknown
	default:
		return rat.TypeOf[[]byte]()
	}
}

// Open creates the client. Brokers are contacted lazily by the first poll.
func (s *Source) Open(rat.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	client, err := s.dial(s.cfg)
	if err != nil {
		return errors.WrapInvalid(err, "Source", "Open", "create Kafka client")
	}
	s.client = client
	return nil
}

// Run polls until ctx is done or the client is closed.
func (s *Source) Run(ctx context.Context, emit func(item any) error) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Source", "Run", "run before open")
	}

	for ctx.Err() == nil {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if stderrors.Is(fe.Err, context.Canceled) || stderrors.Is(fe.Err, context.DeadlineExceeded) {
				continue
			}
			s.logger.Warn("Fetch error", "topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
		}

		var emitErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if emitErr != nil {
				return
			}
			item, err := payload.Decode(r.Value, s.cfg.Format)
			if err != nil {
				s.logger.Warn("Dropping undecodable record", "topic", r.Topic, "offset", r.Offset, "error", err)
				return
			}
			emitErr = emit(item)
		})
		if emitErr != nil {
			return nil
		}
	}
	return nil
}

// Close closes the client.
func (s *Source) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client != nil {
		client.Close()
	}
	return nil
}

// NewInput creates a buffered Kafka input from configuration
func NewInput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "KafkaInput"); err != nil {
		return nil, err
	}
	return rat.NewBuffered(NewSource(cfg, nil, deps.GetLogger()), cfg.BufferCapacity), nil
}

// Register registers the Kafka input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "kafka",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "kafka",
		Description: "Consumes record values from Kafka topics",
		Version:     "0.1.0",
	})
}
