// Package socket provides a buffered input that listens on TCP and turns the
// full payload of every accepted connection into one item.
package socket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/pkg/retry"
	"github.com/c360/ratstreams/rat"
)

// Payload formats
const (
	FormatBytes  = "bytes"
	FormatString = "string"
)

// Defaults
const (
	DefaultMaxSize       = 1 << 20
	DefaultAcceptTimeout = 100 * time.Millisecond
	DefaultReadTimeout   = 5 * time.Second
)

// Config holds configuration for the socket input
type Config struct {
	Address        string `json:"address"`
	Format         string `json:"format,omitempty"`
	MaxSize        int    `json:"max_size,omitempty"`
	AcceptTimeout  string `json:"accept_timeout,omitempty"`
	ReadTimeout    string `json:"read_timeout,omitempty"`
	BufferCapacity int    `json:"buffer_capacity,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "address is required")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse address")
	}
	switch c.Format {
	case "", FormatBytes, FormatString:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: bytes, string")
	}
	if c.MaxSize < 0 || c.BufferCapacity < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_size and buffer_capacity must not be negative")
	}
	return nil
}

type metrics struct {
	connections prometheus.Counter
	bytes       prometheus.Counter
	rejected    prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, address string, logger *slog.Logger) *metrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"address": address}
	m := &metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratstreams", Subsystem: "socket", Name: "connections_total",
			Help: "Accepted connections", ConstLabels: labels,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratstreams", Subsystem: "socket", Name: "bytes_received_total",
			Help: "Payload bytes received", ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratstreams", Subsystem: "socket", Name: "payloads_rejected_total",
			Help: "Payloads dropped for size or read errors", ConstLabels: labels,
		}),
	}
	owner := "socket_" + address
	for name, c := range map[string]prometheus.Counter{
		"connections": m.connections, "bytes": m.bytes, "rejected": m.rejected,
	} {
		if err := registry.RegisterCounter(owner, name, c); err != nil {
			logger.Debug("Socket metric not registered", "metric", name, "error", err)
		}
	}
	return m
}

// Source accepts TCP connections. Accept and read deadlines keep every
// blocking call short so cancellation is observed.
type Source struct {
	address       string
	format        string
	maxSize       int
	acceptTimeout time.Duration
	readTimeout   time.Duration
	bindRetry     retry.Policy
	metrics       *metrics
	logger        *slog.Logger

	mu       sync.Mutex
	listener *net.TCPListener
}

var _ rat.Source = (*Source)(nil)

// SourceDeps holds runtime dependencies for the socket source
type SourceDeps struct {
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewSource creates a socket source.
func NewSource(cfg Config, deps SourceDeps) *Source {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "socket-input", "address", cfg.Address)

	s := &Source{
		address:       cfg.Address,
		format:        cfg.Format,
		maxSize:       cfg.MaxSize,
		acceptTimeout: DefaultAcceptTimeout,
		readTimeout:   DefaultReadTimeout,
		bindRetry:     retry.Default(),
		logger:        logger,
		metrics:       newMetrics(deps.MetricsRegistry, cfg.Address, logger),
	}
	if s.format == "" {
		s.format = FormatBytes
	}
	if s.maxSize == 0 {
		s.maxSize = DefaultMaxSize
	}
	return s
}

// Generates is []byte or string depending on the format.
func (s *Source) Generates() reflect.Type {
	if s.format == FormatString {
		return rat.TypeOf[string]()
	}
	return rat.TypeOf[[]byte]()
}

// Addr returns the bound address, or nil before Open.
func (s *Source) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Open binds the listener, retrying while the address is busy.
func (s *Source) Open(rat.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	listener, err := retry.Value(ctx, s.bindRetry, func(context.Context) (*net.TCPListener, error) {
		addr, err := net.ResolveTCPAddr("tcp", s.address)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		return net.ListenTCP("tcp", addr)
	})
	if err != nil {
		return errors.WrapTransient(err, "Source", "Open", "listen on "+s.address)
	}
	s.listener = listener
	s.logger.Info("Socket input listening", "bound", listener.Addr().String())
	return nil
}

// Run accepts connections until ctx is done. Each connection is read on its
// own goroutine; Run returns after all of them finished.
func (s *Source) Run(ctx context.Context, emit func(item any) error) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Source", "Run", "run before open")
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for ctx.Err() == nil {
		if err := listener.SetDeadline(time.Now().Add(s.acceptTimeout)); err != nil {
			return errors.WrapTransient(err, "Source", "Run", "set accept deadline")
		}
		conn, err := listener.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.WrapTransient(err, "Source", "Run", "accept connection")
		}

		if s.metrics != nil {
			s.metrics.connections.Inc()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn, emit)
		}()
	}
	return nil
}

func (s *Source) handle(ctx context.Context, conn *net.TCPConn, emit func(item any) error) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.logger.Warn("Failed to set read deadline", "remote", conn.RemoteAddr().String(), "error", err)
	}
	data, err := io.ReadAll(io.LimitReader(conn, int64(s.maxSize)+1))
	if err != nil {
		s.reject("read failed", conn, err)
		return
	}
	if len(data) > s.maxSize {
		s.reject("payload too large", conn, fmt.Errorf("more than %d bytes", s.maxSize))
		return
	}
	if len(data) == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.bytes.Add(float64(len(data)))
	}

	var item any = data
	if s.format == FormatString {
		item = string(data)
	}
	if err := emit(item); err != nil && ctx.Err() == nil {
		s.logger.Warn("Failed to buffer payload", "error", err)
	}
}

func (s *Source) reject(reason string, conn net.Conn, err error) {
	if s.metrics != nil {
		s.metrics.rejected.Inc()
	}
	s.logger.Warn("Socket payload dropped", "reason", reason, "remote", conn.RemoteAddr().String(), "error", err)
}

// Close closes the listener.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	if err != nil && !stderrors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "Source", "Close", "close listener")
	}
	return nil
}

// NewInput creates a buffered socket input from configuration
func NewInput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "SocketInput"); err != nil {
		return nil, err
	}
	accept, err := component.ParseDuration(cfg.AcceptTimeout, DefaultAcceptTimeout, "accept_timeout")
	if err != nil {
		return nil, err
	}
	read, err := component.ParseDuration(cfg.ReadTimeout, DefaultReadTimeout, "read_timeout")
	if err != nil {
		return nil, err
	}

	src := NewSource(cfg, SourceDeps{MetricsRegistry: deps.MetricsRegistry, Logger: deps.GetLogger()})
	src.acceptTimeout = accept
	src.readTimeout = read
	return rat.NewBuffered(src, cfg.BufferCapacity), nil
}

// Register registers the socket input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "socket",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "tcp",
		Description: "Receives one item per TCP connection",
		Version:     "0.1.0",
	})
}
