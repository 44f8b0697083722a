// Package kafkaout provides an output producing items to a Kafka topic with
// franz-go. Every transmit waits for the broker acknowledgement.
package kafkaout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/payload"
	"github.com/c360/ratstreams/rat"
)

// Producer is the part of *kgo.Client the output uses. Request lets the
// output create its topic.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
	Close()
}

var _ Producer = (*kgo.Client)(nil)

// Dialer creates a producer. It is called on every SetUp after a stop.
type Dialer func(cfg Config) (Producer, error)

// errTopicAlreadyExists is the Kafka protocol error code for TOPIC_ALREADY_EXISTS
const errTopicAlreadyExists = 36

// Config holds configuration for the Kafka output
type Config struct {
	Brokers           []string `json:"brokers"`
	Topic             string   `json:"topic"`
	CreateTopic       bool     `json:"create_topic,omitempty"`
	Partitions        int32    `json:"partitions,omitempty"`
	ReplicationFactor int16    `json:"replication_factor,omitempty"`
	RetryTimeout      string   `json:"retry_timeout,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "brokers are required")
	}
	if c.Topic == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "topic is required")
	}
	if c.Partitions < 0 || c.ReplicationFactor < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"partitions and replication_factor must not be negative")
	}
	if _, err := component.ParseDuration(c.RetryTimeout, 0, "retry_timeout"); err != nil {
		return err
	}
	return nil
}

// Dial builds a kgo client from the configuration.
func Dial(cfg Config) (Producer, error) {
	retryTimeout, _ := component.ParseDuration(cfg.RetryTimeout, 20*time.Second, "retry_timeout")
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RetryTimeout(retryTimeout),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Output produces each item as one record value.
type Output struct {
	rat.OutputBase

	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	client Producer
}

var _ rat.Output = (*Output)(nil)

// New creates a Kafka output. A nil dial uses Dial.
func New(cfg Config, dial Dialer, logger *slog.Logger) *Output {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{cfg: cfg, dial: dial, logger: logger.With("component", "kafka-output", "topic", cfg.Topic)}
}

// Accepts implements rat.Output.
func (o *Output) Accepts() []reflect.Type {
	return rat.Types(rat.Unknown)
}

// SetUp creates the client and, if configured, the topic.
func (o *Output) SetUp(owner rat.Owner) error {
	if err := o.OutputBase.SetUp(owner); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		client, err := o.dial(o.cfg)
		if err != nil {
			return errors.WrapInvalid(err, "Output", "SetUp", "create Kafka client")
		}
		o.client = client
	}
	if !o.cfg.CreateTopic {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := o.createTopic(ctx); err != nil {
		return errors.WrapTransient(err, "Output", "SetUp", "create topic "+o.cfg.Topic)
	}
	return nil
}

func (o *Output) createTopic(ctx context.Context) error {
	topic := kmsg.NewCreateTopicsRequestTopic()
	topic.Topic = o.cfg.Topic
	topic.NumPartitions = max(o.cfg.Partitions, 1)
	topic.ReplicationFactor = max(o.cfg.ReplicationFactor, 1)

	req := kmsg.NewPtrCreateTopicsRequest()
	req.Topics = append(req.Topics, topic)

	resp, err := req.RequestWith(ctx, o.client)
	if err != nil {
		return err
	}
	for _, t := range resp.Topics {
		if t.ErrorCode != 0 && t.ErrorCode != errTopicAlreadyExists {
			return fmt.Errorf("topic %s: error code %d", t.Topic, t.ErrorCode)
		}
	}
	return nil
}

// Transmit produces the held item and waits for the acknowledgement.
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
			return errors.WrapTransient(errors.ErrNotStarted, "Output", "Transmit", "produce after stop")
		}

		record := &kgo.Record{Topic: o.cfg.Topic, Value: data}
		if err := client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return errors.WrapTransient(err, "Output", "Transmit", "produce to "+o.cfg.Topic)
		}
		return nil
	})
}

// StopExecution closes the client. A later SetUp dials again.
func (o *Output) StopExecution() {
	o.OutputBase.StopExecution()

	o.mu.Lock()
	client := o.client
	o.client = nil
	o.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

// NewOutput creates a Kafka output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "KafkaOutput"); err != nil {
		return nil, err
	}
	return New(cfg, nil, deps.GetLogger()), nil
}

// Register registers the Kafka output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "kafka",
		Kind:        component.KindOutput,
		Factory:     NewOutput,
		Protocol:    "kafka",
		Description: "Produces items to a Kafka topic",
		Version:     "0.1.0",
	})
}
