package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/storage"
)

// Slog writes entries to a structured logger at warn level.
type Slog struct {
	Logger *slog.Logger
}

// Log implements Sink.
func (s Slog) Log(ctx context.Context, e Entry) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, e.Message[KeyErrors],
		"entry_id", e.ID,
		"source", e.Source,
		"type", e.Type,
		"status", string(e.Status),
		"item", e.Message[KeyID])
	return nil
}

// Queue pushes entries onto a storage queue for later inspection.
type Queue struct {
	Queue *storage.Queue
}

// Log implements Sink.
func (q Queue) Log(_ context.Context, e Entry) error {
	if q.Queue == nil {
		return errors.WrapInvalid(errors.ErrQueueNotFound, "QueueSink", "Log", "resolve queue")
	}
	return q.Queue.Push(e)
}

// Publisher is satisfied by *natsclient.Client. A bare *nats.Conn is not:
// its Publish takes no context.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATS publishes entries as JSON on logs.<group>.<source>.
type NATS struct {
	publisher Publisher
	group     string
}

// NewNATS creates a sink publishing for the given group.
func NewNATS(p Publisher, group string) *NATS {
	return &NATS{publisher: p, group: group}
}

// Subject returns the subject an entry from source is published on.
func (n *NATS) Subject(source string) string {
	return fmt.Sprintf("logs.%s.%s", n.group, source)
}

// Log implements Sink.
func (n *NATS) Log(ctx context.Context, e Entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "NATSSink", "Log", "marshal entry")
	}
	if err := n.publisher.Publish(ctx, n.Subject(e.Source), data); err != nil {
		return errors.WrapTransient(err, "NATSSink", "Log", "publish entry")
	}
	return nil
}
