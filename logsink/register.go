package logsink

import (
	"encoding/json"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
)

// QueueConfig holds configuration for the queue sink
type QueueConfig struct {
	Queue string `json:"queue"`
}

// Validate checks the configuration for errors
func (c *QueueConfig) Validate() error {
	if c.Queue == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "QueueConfig", "Validate", "queue is required")
	}
	return component.ValidateComponentName(c.Queue)
}

// NATSConfig holds configuration for the NATS sink
type NATSConfig struct {
	// Group is the subject segment after "logs."; defaults to the group name
	// of the storage namespace.
	Group string `json:"group,omitempty"`
}

func newSlog(_ json.RawMessage, deps component.Dependencies) (any, error) {
	return Slog{Logger: deps.GetLoggerWithComponent("logsink")}, nil
}

func newQueue(raw json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg QueueConfig
	if err := component.Decode(raw, &cfg, "QueueSink"); err != nil {
		return nil, err
	}
	if deps.Storage == nil {
		return nil, errors.WrapFatal(errors.ErrStorageUnavailable, "QueueSink", "Factory", "storage required")
	}
	q, err := deps.Storage.CreateQueue(cfg.Queue)
	if err != nil {
		return nil, errors.Wrap(err, "QueueSink", "Factory", "create queue "+cfg.Queue)
	}
	return Queue{Queue: q}, nil
}

func newNATS(raw json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg NATSConfig
	if err := component.Decode(raw, &cfg, "NATSSink"); err != nil {
		return nil, err
	}
	if deps.NATSClient == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "NATSSink", "Factory", "NATS client required")
	}
	group := cfg.Group
	if group == "" && deps.Storage != nil {
		group = deps.Storage.Name()
	}
	if group == "" {
		group = "default"
	}
	return NewNATS(deps.NATSClient, group), nil
}

// Register registers the slog, queue and nats sinks with the given registry
func Register(registry *component.Registry) error {
	regs := []component.RegistrationConfig{
		{
			Name:        "slog",
			Factory:     newSlog,
			Protocol:    "log",
			Description: "Writes log entries to the process logger",
		},
		{
			Name:        "queue",
			Factory:     newQueue,
			Protocol:    "internal",
			Description: "Pushes log entries onto a group queue",
		},
		{
			Name:        "nats",
			Factory:     newNATS,
			Protocol:    "nats",
			Description: "Publishes log entries as JSON on logs.<group>.<source>",
		},
	}
	for _, reg := range regs {
		reg.Kind = component.KindSink
		reg.Version = "0.1.0"
		if err := registry.RegisterWithConfig(reg); err != nil {
			return err
		}
	}
	return nil
}
