package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/buffer"
	"github.com/c360/ratstreams/rat"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "RATSTREAMS"

// Defaults
const (
	DefaultGroup         = "ratstreams"
	DefaultStopTimeout   = 10 * time.Second
	DefaultMetricsPort   = 9090
	DefaultMetricsPath   = "/metrics"
	DefaultReconnectWait = 2 * time.Second
)

// Queue overflow policies
const (
	OverflowReject     = "reject"
	OverflowDropOldest = "drop_oldest"
	OverflowDropNewest = "drop_newest"
	OverflowBlock      = "block"
)

// Config is the description of one rat group.
type Config struct {
	Version     string        `json:"version"`
	Group       string        `json:"group"`
	StopTimeout time.Duration `json:"stop_timeout"`

	NATS    NATSConfig    `json:"nats"`
	Metrics MetricsConfig `json:"metrics"`

	Queues []QueueConfig `json:"queues,omitempty"`
	// LogSink receives the log entries of every rat; unset means the
	// process log.
	LogSink   *component.Spec  `json:"log_sink,omitempty"`
	Rats      []RatConfig      `json:"rats,omitempty"`
	Templates []TemplateConfig `json:"templates,omitempty"`
}

// NATSConfig defines NATS connection settings. No URLs means no connection.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	Name          string        `json:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// Enabled reports whether a NATS connection is configured.
func (n NATSConfig) Enabled() bool {
	return len(n.URLs) > 0
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// QueueConfig declares a storage queue of the group.
type QueueConfig struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity,omitempty"` // 0 is unbounded
	Overflow string `json:"overflow,omitempty"` // default reject
}

// Policy maps Overflow to the buffer policy.
func (q QueueConfig) Policy() (buffer.OverflowPolicy, error) {
	switch q.Overflow {
	case "", OverflowReject:
		return buffer.Reject, nil
	case OverflowDropOldest:
		return buffer.DropOldest, nil
	case OverflowDropNewest:
		return buffer.DropNewest, nil
	case OverflowBlock:
		return buffer.Block, nil
	default:
		return buffer.Reject, errors.WrapInvalid(
			fmt.Errorf("%w: queue %s: unknown overflow policy %q", errors.ErrInvalidConfig, q.Name, q.Overflow),
			"QueueConfig", "Policy", "parse overflow")
	}
}

// RatConfig describes one concrete rat.
type RatConfig struct {
	Name   string           `json:"name"`
	Input  component.Spec   `json:"input"`
	Steps  []component.Spec `json:"steps,omitempty"`
	Output component.Spec   `json:"output"`

	FlowErrorQueue string `json:"flow_error_queue,omitempty"`
	SendErrorQueue string `json:"send_error_queue,omitempty"`
	ShowInControl  bool   `json:"show_in_control,omitempty"`
	Mode           string `json:"mode,omitempty"`          // continuous or manual
	InitialState   string `json:"initial_state,omitempty"` // running or paused
	PauseInterval  string `json:"pause_interval,omitempty"`
	WaitInterval   string `json:"wait_interval,omitempty"`
}

// Validate checks the rat without building adapters.
func (r RatConfig) Validate() error {
	if err := component.ValidateComponentName(r.Name); err != nil {
		return errors.Wrap(err, "RatConfig", "Validate", "rat name")
	}
	if r.Input.Type == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rat %s has no input type", errors.ErrMissingConfig, r.Name),
			"RatConfig", "Validate", "check input")
	}
	if r.Output.Type == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rat %s has no output type", errors.ErrMissingConfig, r.Name),
			"RatConfig", "Validate", "check output")
	}
	for i, s := range r.Steps {
		if s.Type == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: rat %s step #%d has no type", errors.ErrMissingConfig, r.Name, i+1),
				"RatConfig", "Validate", "check steps")
		}
	}
	if _, err := rat.ParseMode(r.Mode); err != nil {
		return err
	}
	if _, err := rat.ParseInitialState(r.InitialState); err != nil {
		return err
	}
	if _, err := component.ParseDuration(r.PauseInterval, 0, "pause_interval"); err != nil {
		return err
	}
	_, err := component.ParseDuration(r.WaitInterval, 0, "wait_interval")
	return err
}

// TemplateConfig describes a rat replicated once per input queue.
type TemplateConfig struct {
	Name         string           `json:"name"`
	Inputs       []string         `json:"inputs"`
	Output       string           `json:"output"`
	PollInterval string           `json:"poll_interval,omitempty"`
	PollTimeout  string           `json:"poll_timeout,omitempty"`
	Steps        []component.Spec `json:"steps,omitempty"`

	FlowErrorQueue string `json:"flow_error_queue,omitempty"`
	SendErrorQueue string `json:"send_error_queue,omitempty"`
	ShowInControl  bool   `json:"show_in_control,omitempty"`
	Mode           string `json:"mode,omitempty"`
	InitialState   string `json:"initial_state,omitempty"`
}

// Validate checks the template without building steps.
func (t TemplateConfig) Validate() error {
	if err := component.ValidateComponentName(t.Name); err != nil {
		return errors.Wrap(err, "TemplateConfig", "Validate", "template name")
	}
	if len(t.Inputs) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: template %s has no inputs", errors.ErrMissingConfig, t.Name),
			"TemplateConfig", "Validate", "check inputs")
	}
	if t.Output == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: template %s has no output", errors.ErrMissingConfig, t.Name),
			"TemplateConfig", "Validate", "check output")
	}
	if _, err := rat.ParseMode(t.Mode); err != nil {
		return err
	}
	if _, err := rat.ParseInitialState(t.InitialState); err != nil {
		return err
	}
	if _, err := component.ParseDuration(t.PollInterval, 0, "poll_interval"); err != nil {
		return err
	}
	_, err := component.ParseDuration(t.PollTimeout, 0, "poll_timeout")
	return err
}

// Validate checks the whole configuration. Template inputs are checked
// again by the expansion.
func (c *Config) Validate() error {
	if err := component.ValidateComponentName(c.Group); err != nil {
		return errors.Wrap(err, "Config", "Validate", "group name")
	}
	if c.StopTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stop_timeout must not be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check stop timeout")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metrics port %d outside valid range 1-65535", errors.ErrInvalidConfig, c.Metrics.Port),
			"Config", "Validate", "check metrics port")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metrics path must start with /", errors.ErrInvalidConfig),
			"Config", "Validate", "check metrics path")
	}
	for _, u := range c.NATS.URLs {
		if !strings.HasPrefix(u, "nats://") && !strings.HasPrefix(u, "tls://") {
			return errors.WrapInvalid(
				fmt.Errorf("%w: NATS URL %q must use nats:// or tls://", errors.ErrInvalidConfig, u),
				"Config", "Validate", "check NATS URLs")
		}
	}

	queues := make(map[string]struct{}, len(c.Queues))
	for _, q := range c.Queues {
		if err := component.ValidateComponentName(q.Name); err != nil {
			return errors.Wrap(err, "Config", "Validate", "queue name")
		}
		if _, dup := queues[q.Name]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate queue %q", errors.ErrInvalidConfig, q.Name),
				"Config", "Validate", "check queues")
		}
		queues[q.Name] = struct{}{}
		if q.Capacity < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: queue %s capacity must not be negative", errors.ErrInvalidConfig, q.Name),
				"Config", "Validate", "check queues")
		}
		if _, err := q.Policy(); err != nil {
			return err
		}
	}

	if c.LogSink != nil && c.LogSink.Type == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: log_sink needs a type", errors.ErrMissingConfig),
			"Config", "Validate", "check log sink")
	}

	names := make(map[string]struct{}, len(c.Rats))
	for _, r := range c.Rats {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := names[r.Name]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate rat %q", errors.ErrInvalidConfig, r.Name),
				"Config", "Validate", "check rats")
		}
		names[r.Name] = struct{}{}
	}
	for _, t := range c.Templates {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if len(c.Rats) == 0 && len(c.Templates) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: no rats or templates configured", errors.ErrMissingConfig),
			"Config", "Validate", "check rats")
	}
	return nil
}

// String returns a JSON representation with credentials masked.
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of environment overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment, then validates
// when enabled.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration every layer is merged onto.
func Defaults() *Config {
	return &Config{
		Version:     "1.0.0",
		Group:       DefaultGroup,
		StopTimeout: DefaultStopTimeout,
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: DefaultReconnectWait,
		},
		Metrics: MetricsConfig{
			Port: DefaultMetricsPort,
			Path: DefaultMetricsPath,
		},
	}
}

// loadRaw decodes one layer into a generic map with durations converted.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
		if d := mapDepth(raw); d > maxJSONDepth {
			return nil, fmt.Errorf("YAML nesting too deep: %d > %d", d, maxJSONDepth)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts the duration strings of typed fields to
// nanoseconds for JSON unmarshalling. Adapter options keep their strings.
func parseDurations(data map[string]any) error {
	convert := func(m map[string]any, key string) error {
		s, ok := m[key].(string)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		m[key] = d.Nanoseconds()
		return nil
	}

	if err := convert(data, "stop_timeout"); err != nil {
		return err
	}
	if nats, ok := data["nats"].(map[string]any); ok {
		if err := convert(nats, "reconnect_wait"); err != nil {
			return err
		}
	}
	return nil
}

// mergeFromMap overrides only the fields present in the map.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(suffix string) (string, bool, error) {
		key := l.envPrefix + "_" + suffix
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, err
		}
		return val, true, nil
	}

	if val, ok, err := get("GROUP"); err != nil {
		return err
	} else if ok {
		cfg.Group = val
	}
	if val, ok, err := get("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok, err := get("NATS_USERNAME"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Username = val
	}
	if val, ok, err := get("NATS_PASSWORD"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Password = val
	}
	if val, ok, err := get("NATS_TOKEN"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Token = val
	}
	if val, ok, err := get("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = port
		cfg.Metrics.Enabled = true
	}
	return nil
}
