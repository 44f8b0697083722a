// Package websocket provides an output that serves a WebSocket endpoint and
// broadcasts every item to the connected clients.
package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/pkg/payload"
	"github.com/c360/ratstreams/rat"
)

// Defaults
const (
	DefaultPath         = "/ws"
	DefaultWriteTimeout = 5 * time.Second
	DefaultPingInterval = 30 * time.Second
)

// Config holds configuration for the WebSocket output
type Config struct {
	Addr         string `json:"addr"`
	Path         string `json:"path,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	PingInterval string `json:"ping_interval,omitempty"`
	// RequireClient makes a transmit with nobody connected a delivery error
	// instead of a silent drop.
	RequireClient bool `json:"require_client,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse addr")
	}
	if _, err := component.ParseDuration(c.WriteTimeout, 0, "write_timeout"); err != nil {
		return err
	}
	if _, err := component.ParseDuration(c.PingInterval, 0, "ping_interval"); err != nil {
		return err
	}
	return nil
}

// MessageEnvelope wraps every item sent to clients.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	writeMutex  sync.Mutex
	closeOnce   sync.Once
}

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	messagesSent     prometheus.Counter
	bytesSent        prometheus.Counter
	clientsConnected prometheus.Gauge
	sendErrors       prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, addr string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"addr": addr}
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratstreams", Subsystem: "websocket", Name: "messages_sent_total",
			Help: "Messages written to WebSocket clients", ConstLabels: labels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratstreams", Subsystem: "websocket", Name: "bytes_sent_total",
			Help: "Bytes written to WebSocket clients", ConstLabels: labels,
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratstreams", Subsystem: "websocket", Name: "clients_connected",
			Help: "Number of currently connected clients", ConstLabels: labels,
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratstreams", Subsystem: "websocket", Name: "send_errors_total",
			Help: "Failed writes to clients", ConstLabels: labels,
		}),
	}
	owner := "websocket_" + addr
	errs := []error{
		registry.RegisterCounter(owner, "messages_sent", m.messagesSent),
		registry.RegisterCounter(owner, "bytes_sent", m.bytesSent),
		registry.RegisterGauge(owner, "clients_connected", m.clientsConnected),
		registry.RegisterCounter(owner, "send_errors", m.sendErrors),
	}
	if err := errors.Join(errs...); err != nil {
		logger.Debug("WebSocket metrics not registered", "error", err)
	}
	return m
}

// Output is a WebSocket server. Each transmitted item is sent to every
// connected client; clients that fail a write are dropped.
type Output struct {
	rat.OutputBase

	cfg          Config
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
	metrics      *Metrics
	upgrader     websocket.Upgrader
	messageIDs   atomic.Uint64

	lifecycleMu sync.Mutex
	server      *http.Server
	listener    net.Listener
	shutdown    chan struct{}
	wg          sync.WaitGroup

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*clientInfo
}

var _ rat.Output = (*Output)(nil)

// OutputDeps holds runtime dependencies for the WebSocket output
type OutputDeps struct {
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// New creates a WebSocket output. cfg must be valid.
func New(cfg Config, deps OutputDeps) *Output {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "websocket-output", "addr", cfg.Addr)
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	writeTimeout, _ := component.ParseDuration(cfg.WriteTimeout, DefaultWriteTimeout, "write_timeout")
	pingInterval, _ := component.ParseDuration(cfg.PingInterval, DefaultPingInterval, "ping_interval")

	return &Output{
		cfg:          cfg,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		metrics:      newMetrics(deps.MetricsRegistry, cfg.Addr, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*clientInfo),
	}
}

// Accepts implements rat.Output.
func (w *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

// Addr returns the bound address while the server runs.
func (w *Output) Addr() net.Addr {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// ClientCount returns the number of connected clients.
func (w *Output) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// SetUp binds the listener and starts serving. A running server is kept.
func (w *Output) SetUp(owner rat.Owner) error {
	if err := w.OutputBase.SetUp(owner); err != nil {
		return err
	}

	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.server != nil {
		return nil
	}

	listener, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		return errors.WrapTransient(err, "Output", "SetUp", "listen on "+w.cfg.Addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	w.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	w.listener = listener
	w.shutdown = make(chan struct{})

	w.wg.Add(2)
	go w.runServer(w.server, listener)
	go w.maintainClients(w.shutdown)

	w.logger.Info("WebSocket output listening", "bound", listener.Addr().String(), "path", w.cfg.Path)
	return nil
}

func (w *Output) runServer(server *http.Server, listener net.Listener) {
	defer w.wg.Done()
	if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		w.logger.Error("HTTP server failed", "error", err)
	}
}

func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		w.logger.Debug("Upgrade failed", "error", err)
		return
	}

	info := &clientInfo{conn: conn, connectedAt: time.Now()}
	w.clientsMu.Lock()
	w.clients[conn] = info
	count := len(w.clients)
	w.clientsMu.Unlock()
	if w.metrics != nil {
		w.metrics.clientsConnected.Set(float64(count))
	}
	w.logger.Debug("Client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	go w.readClient(info)
}

// readClient consumes client frames so control messages are processed and
// a closed connection is noticed.
func (w *Output) readClient(info *clientInfo) {
	defer w.removeClient(info)
	info.conn.SetPongHandler(func(string) error {
		return info.conn.SetReadDeadline(time.Now().Add(2 * w.pingInterval))
	})
	for {
		_ = info.conn.SetReadDeadline(time.Now().Add(2 * w.pingInterval))
		if _, _, err := info.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *Output) removeClient(info *clientInfo) {
	info.closeOnce.Do(func() {
		w.clientsMu.Lock()
		delete(w.clients, info.conn)
		count := len(w.clients)
		w.clientsMu.Unlock()
		if w.metrics != nil {
			w.metrics.clientsConnected.Set(float64(count))
		}
		_ = info.conn.Close()
	})
}

func (w *Output) snapshot() []*clientInfo {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	list := make([]*clientInfo, 0, len(w.clients))
	for _, info := range w.clients {
		list = append(list, info)
	}
	return list
}

func (w *Output) send(info *clientInfo, messageType int, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()
	if err := info.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return info.conn.WriteMessage(messageType, data)
}

func (w *Output) maintainClients(shutdown chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			for _, info := range w.snapshot() {
				if err := w.send(info, websocket.PingMessage, nil); err != nil {
					w.removeClient(info)
				}
			}
		}
	}
}

func (w *Output) envelope(item any) ([]byte, error) {
	data, err := payload.Encode(item)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		// Text that is not JSON travels as a JSON string.
		data, _ = json.Marshal(string(data))
	}
	env := MessageEnvelope{
		Type:      "data",
		ID:        strconv.FormatUint(w.messageIDs.Add(1), 10),
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Output", "Transmit", "marshal envelope")
	}
	return out, nil
}

// Transmit broadcasts the held item to all clients concurrently.
func (w *Output) Transmit(context.Context) error {
	return w.Deliver(func(item any) error {
		data, err := w.envelope(item)
		if err != nil {
			return err
		}

		clients := w.snapshot()
		if len(clients) == 0 {
			if w.cfg.RequireClient {
				return errors.WrapTransient(errors.ErrNoConnection, "Output", "Transmit", "broadcast to clients")
			}
			return nil
		}

		var (
			wg     sync.WaitGroup
			failed atomic.Int32
		)
		for _, info := range clients {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.send(info, websocket.TextMessage, data); err != nil {
					failed.Add(1)
					if w.metrics != nil {
						w.metrics.sendErrors.Inc()
					}
					w.removeClient(info)
					return
				}
				if w.metrics != nil {
					w.metrics.messagesSent.Inc()
					w.metrics.bytesSent.Add(float64(len(data)))
				}
			}()
		}
		wg.Wait()

		if int(failed.Load()) == len(clients) && w.cfg.RequireClient {
			return errors.WrapTransient(errors.ErrConnectionLost, "Output", "Transmit", "broadcast to clients")
		}
		return nil
	})
}

// StopExecution shuts the server down and disconnects every client.
func (w *Output) StopExecution() {
	w.OutputBase.StopExecution()

	w.lifecycleMu.Lock()
	server, shutdown := w.server, w.shutdown
	w.server, w.listener, w.shutdown = nil, nil, nil
	w.lifecycleMu.Unlock()
	if server == nil {
		return
	}

	close(shutdown)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		w.logger.Warn("HTTP server shutdown error", "error", err)
	}
	for _, info := range w.snapshot() {
		_ = w.send(info, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
		w.removeClient(info)
	}
	w.wg.Wait()
}

// NewOutput creates a WebSocket output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "WebSocketOutput"); err != nil {
		return nil, err
	}
	return New(cfg, OutputDeps{MetricsRegistry: deps.MetricsRegistry, Logger: deps.GetLogger()}), nil
}

// Register registers the WebSocket output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "websocket",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "websocket",
		Description: "Serves a WebSocket endpoint and broadcasts items to clients",
		Version:     "0.1.0",
	})
}
