package component

import (
	"log/slog"

	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/natsclient"
	"github.com/c360/ratstreams/storage"
)

// Dependencies are handed to every factory.
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client for messaging adapters (can be nil)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Storage         *storage.Storage        // Group queue namespace (can be nil)
	Registry        *Registry               // For adapters that wrap other adapters
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
