// Package logsink defines the log entries rats emit for per-item failures and
// the sinks that persist them.
//
// Entries are never thrown away: when no sink is configured, or the sink
// fails, Emit writes the entry to the process log instead.
package logsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/ratstreams/errors"
)

// Status of a log entry
type Status string

const (
	// StatusNew marks an entry nobody has looked at yet
	StatusNew Status = "new"
)

// Message keys set by NewEntry
const (
	KeyErrors = "errors"
	KeyID     = "id"
)

// Entry is one record handed to a sink.
type Entry struct {
	ID        string            `json:"id" yaml:"id"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Source    string            `json:"source" yaml:"source"`
	Type      string            `json:"type" yaml:"type"`
	Status    Status            `json:"status" yaml:"status"`
	Message   map[string]string `json:"message" yaml:"message"`
}

// NewEntry builds an entry for a failure reported by source. typ is the stage
// tag ("receive", "transform/transmit", "send"), id identifies the item.
func NewEntry(source, typ, id, msg string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Type:      typ,
		Status:    StatusNew,
		Message: map[string]string{
			KeyErrors: msg,
			KeyID:     id,
		},
	}
}

// Sink persists or displays log entries.
type Sink interface {
	Log(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

// Log calls f.
func (f SinkFunc) Log(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// Emit hands e to sink and falls back to the process log when there is no
// sink or the sink fails.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, e Entry) {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		logger.Info("LOG: "+e.Message[KeyID]+" - "+e.Message[KeyErrors],
			"source", e.Source, "type", e.Type)
		return
	}
	if err := sink.Log(ctx, e); err != nil {
		logger.Warn("Log sink failed, writing entry to process log",
			"error", err,
			"source", e.Source,
			"type", e.Type,
			"id", e.Message[KeyID],
			"message", e.Message[KeyErrors])
	}
}

// serialized guards a shared sink with a mutex.
type serialized struct {
	mu   sync.Mutex
	sink Sink
}

// Serialized wraps s so concurrent rats never call it at the same time.
// Wrapping an already serialized sink returns it unchanged.
func Serialized(s Sink) Sink {
	if s == nil {
		return nil
	}
	if _, ok := s.(*serialized); ok {
		return s
	}
	return &serialized{sink: s}
}

func (s *serialized) Log(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Log(ctx, e)
}

// Multi fans an entry out to several sinks. All sinks are called; their
// errors are joined.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Entry) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Log(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
