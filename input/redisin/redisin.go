// Package redisin provides a direct input that pops items from a Redis list.
package redisin

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/payload"
	"github.com/c360/ratstreams/rat"
)

// DefaultBlockTimeout is the BLPOP timeout. Redis counts it in seconds.
const DefaultBlockTimeout = time.Second

// Client is the part of *redis.Client the input uses.
type Client interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

var _ Client = (*redis.Client)(nil)

// Dialer creates a client. It is called on SetUp when no client is held.
type Dialer func(cfg Config) Client

// Config holds configuration for the Redis list input
type Config struct {
	Addr         string `json:"addr"`
	Password     string `json:"password,omitempty"`
	DB           int    `json:"db,omitempty"`
	Key          string `json:"key"`
	Format       string `json:"format,omitempty"`
	BlockTimeout string `json:"block_timeout,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "addr is required")
	}
	if c.Key == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "key is required")
	}
	if !payload.ValidFormat(c.Format) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: bytes, string, json")
	}
	if _, err := component.ParseDuration(c.BlockTimeout, 0, "block_timeout"); err != nil {
		return err
	}
	return nil
}

// Dial creates a go-redis client. Context deadlines interrupt blocking
// commands so a stopping rat is not held up by BLPOP.
func Dial(cfg Config) Client {
	return redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})
}

// Input pops one element per reception.
type Input struct {
	rat.InputBase

	cfg          Config
	dial         Dialer
	blockTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	client Client
}

var _ rat.Input = (*Input)(nil)

// New creates a Redis list input. A nil dial uses Dial.
func New(cfg Config, dial Dialer, logger *slog.Logger) *Input {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := component.ParseDuration(cfg.BlockTimeout, DefaultBlockTimeout, "block_timeout")
	if err != nil || timeout <= 0 {
		timeout = DefaultBlockTimeout
	}
	return &Input{
		cfg:          cfg,
		dial:         dial,
		blockTimeout: timeout,
		logger:       logger.With("component", "redis-input", "key", cfg.Key),
	}
}

// Generates follows the configured format.
func (i *Input) Generates() reflect.Type {
	switch i.cfg.Format {
	case payload.FormatString:
		return rat.TypeOf[string]()
	case payload.FormatJSON:
		return rat.Unknown
	default:
		return rat.TypeOf[[]byte]()
	}
}

// SetUp creates the client.
func (i *Input) SetUp(owner rat.Owner) error {
	if err := i.InputBase.SetUp(owner); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client == nil {
		i.client = i.dial(i.cfg)
	}
	return nil
}

// Receive blocks on BLPOP in blockTimeout slices until an element arrives or
// reception may not continue.
func (i *Input) Receive(ctx context.Context) error {
	i.BeginReceive()
	defer i.EndReceive()

	i.mu.Lock()
	client := i.client
	i.mu.Unlock()
	if client == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Input", "Receive", "receive before setup")
	}

	for i.CanReceive(ctx) {
		res, err := client.BLPop(ctx, i.blockTimeout, i.cfg.Key).Result()
		if stderrors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if !i.CanReceive(ctx) {
				return nil
			}
			return errors.WrapTransient(err, "Input", "Receive", "pop from "+i.cfg.Key)
		}
		// BLPOP replies with the key and the element.
		if len(res) != 2 {
			return errors.WrapInvalid(errors.ErrInvalidData, "Input", "Receive", "unexpected BLPOP reply")
		}
		item, err := payload.Decode([]byte(res[1]), i.cfg.Format)
		if err != nil {
			return err
		}
		i.Emit(item)
		return nil
	}
	return nil
}

// StopExecution stops reception and closes the client, which aborts a
// BLPOP in flight.
func (i *Input) StopExecution() {
	i.InputBase.StopExecution()

	i.mu.Lock()
	client := i.client
	i.client = nil
	i.mu.Unlock()
	if client != nil {
		if err := client.Close(); err != nil {
			i.logger.Debug("Closing Redis client failed", "error", err)
		}
	}
}

// NewInput creates a Redis list input from configuration
func NewInput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "RedisInput"); err != nil {
		return nil, err
	}
	return New(cfg, nil, deps.GetLogger()), nil
}

// Register registers the Redis list input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "redis",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "redis",
		Description: "Pops items from a Redis list",
		Version:     "0.1.0",
	})
}
