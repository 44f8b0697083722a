// Package redisout provides an output that appends items to a Redis list.
package redisout

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/payload"
	"github.com/c360/ratstreams/rat"
)

// Client is the part of *redis.Client the output uses.
type Client interface {
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

var _ Client = (*redis.Client)(nil)

// Dialer creates a client.
type Dialer func(cfg Config) Client

// Config holds configuration for the Redis list output
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key"`
	// MaxLen trims the list to its newest MaxLen elements after each push.
	MaxLen int64 `json:"max_len,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "addr is required")
	}
	if c.Key == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "key is required")
	}
	if c.MaxLen < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_len must not be negative")
	}
	return nil
}

// Dial creates a go-redis client.
func Dial(cfg Config) Client {
	return redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})
}

// Output pushes each item onto the tail of the list.
type Output struct {
	rat.OutputBase

	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	client Client
}

var _ rat.Output = (*Output)(nil)

// New creates a Redis list output. A nil dial uses Dial.
func New(cfg Config, dial Dialer, logger *slog.Logger) *Output {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{cfg: cfg, dial: dial, logger: logger.With("component", "redis-output", "key", cfg.Key)}
}

// Accepts implements rat.Output.
func (o *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

// SetUp creates the client.
func (o *Output) SetUp(owner rat.Owner) error {
	if err := o.OutputBase.SetUp(owner); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		o.client = o.dial(o.cfg)
	}
	return nil
}

// Transmit pushes the held item.
func (o *Output) Transmit(ctx context.Context) error {
	return o.Deliver(func(item any) error {
		data, err := payload.Encode(item)
		if err != nil {
			return err
		}

		o.mu.Lock()
		client := o.client
		o.mu.Unlock()
		if client == nil {
			return errors.WrapTransient(errors.ErrNotStarted, "Output", "Transmit", "push after stop")
		}

		if err := client.RPush(ctx, o.cfg.Key, data).Err(); err != nil {
			return errors.WrapTransient(err, "Output", "Transmit", "push to "+o.cfg.Key)
		}
		if o.cfg.MaxLen > 0 {
			if err := client.LTrim(ctx, o.cfg.Key, -o.cfg.MaxLen, -1).Err(); err != nil {
				o.logger.Warn("Failed to trim list", "error", err)
			}
		}
		return nil
	})
}

// StopExecution closes the client.
func (o *Output) StopExecution() {
	o.OutputBase.StopExecution()

	o.mu.Lock()
	client := o.client
	o.client = nil
	o.mu.Unlock()
	if client != nil {
		if err := client.Close(); err != nil {
			o.logger.Debug("Closing Redis client failed", "error", err)
		}
	}
}

// NewOutput creates a Redis list output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "RedisOutput"); err != nil {
		return nil, err
	}
	return New(cfg, nil, deps.GetLogger()), nil
}

// Register registers the Redis list output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "redis",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "redis",
		Description: "Appends items to a Redis list",
		Version:     "0.1.0",
	})
}
