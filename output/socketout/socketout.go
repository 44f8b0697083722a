// Package socketout provides an output that writes every item to a TCP
// connection.
package socketout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/retry"
	"github.com/c360/ratstreams/rat"
)

// Defaults
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// Config holds configuration for the socket output
type Config struct {
	Address        string `json:"address"`
	CloseAfterSend *bool  `json:"close_after_send,omitempty"`
	DialTimeout    string `json:"dial_timeout,omitempty"`
	WriteTimeout   string `json:"write_timeout,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "address is required")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse address")
	}
	if _, err := component.ParseDuration(c.DialTimeout, DefaultDialTimeout, "dial_timeout"); err != nil {
		return err
	}
	if _, err := component.ParseDuration(c.WriteTimeout, DefaultWriteTimeout, "write_timeout"); err != nil {
		return err
	}
	return nil
}

// Output connects lazily and writes []byte items as they are and anything
// else in its string form. By default the connection is closed after every
// item so each item is one connection, matching the socket input. A failed
// write drops the connection; the next item dials again.
type Output struct {
	rat.OutputBase

	address        string
	closeAfterSend bool
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	dialRetry      retry.Policy
	logger         *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ rat.Output = (*Output)(nil)

// New creates a socket output. cfg must be valid.
func New(cfg Config, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	dial, _ := component.ParseDuration(cfg.DialTimeout, DefaultDialTimeout, "dial_timeout")
	write, _ := component.ParseDuration(cfg.WriteTimeout, DefaultWriteTimeout, "write_timeout")
	o := &Output{
		address:        cfg.Address,
		closeAfterSend: true,
		dialTimeout:    dial,
		writeTimeout:   write,
		dialRetry:      retry.Policy{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second},
		logger:         logger.With("component", "socket-output", "address", cfg.Address),
	}
	if cfg.CloseAfterSend != nil {
		o.closeAfterSend = *cfg.CloseAfterSend
	}
	return o
}

// Accepts implements rat.Output.
func (o *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

func payload(item any) []byte {
	switch v := item.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (o *Output) connect(ctx context.Context) (net.Conn, error) {
	if o.conn != nil {
		return o.conn, nil
	}
	dialer := net.Dialer{Timeout: o.dialTimeout}
	conn, err := retry.Value(ctx, o.dialRetry, func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", o.address)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "SocketOutput", "Transmit", "dial "+o.address)
	}
	o.conn = conn
	return conn, nil
}

func (o *Output) closeLocked() {
	if o.conn == nil {
		return
	}
	if err := o.conn.Close(); err != nil {
		o.logger.Debug("Socket close failed", "error", err)
	}
	o.conn = nil
}

// Transmit writes the held item.
func (o *Output) Transmit(ctx context.Context) error {
	return o.Deliver(func(item any) error {
		if o.IsStopped() {
			return errors.WrapTransient(errors.ErrNotStarted, "SocketOutput", "Transmit", "write after stop")
		}

		o.mu.Lock()
		defer o.mu.Unlock()
		conn, err := o.connect(ctx)
		if err != nil {
			return err
		}
		if err := conn.SetWriteDeadline(time.Now().Add(o.writeTimeout)); err != nil {
			o.closeLocked()
			return errors.WrapTransient(err, "SocketOutput", "Transmit", "set write deadline")
		}
		if _, err := conn.Write(payload(item)); err != nil {
			o.closeLocked()
			return errors.WrapTransient(err, "SocketOutput", "Transmit", "write to "+o.address)
		}
		if o.closeAfterSend {
			o.closeLocked()
		}
		return nil
	})
}

// StopExecution closes an open connection.
func (o *Output) StopExecution() {
	o.OutputBase.StopExecution()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

// NewOutput creates a socket output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "SocketOutput"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg, deps.GetLogger()), nil
}

// Register registers the socket output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "socket",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "tcp",
		Description: "Writes every item to a TCP connection",
		Version:     "0.1.0",
	})
}
