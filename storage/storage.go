// Package storage holds the named queues shared by the rats of one group.
//
// Queues are the only state shared across rats. They serve as DeQueue/EnQueue
// adapters and as destinations for error containers. Every operation is safe
// for concurrent producers and consumers.
package storage

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/metric"
)

// Storage is a namespace of queues scoped to one group.
type Storage struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics

	mu     sync.RWMutex
	queues map[string]*Queue
}

// Deps carries the optional collaborators of a Storage.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// New creates an empty namespace.
func New(name string, deps Deps) *Storage {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *metric.Metrics
	if deps.MetricsRegistry != nil {
		metrics = deps.MetricsRegistry.CoreMetrics()
	}

	return &Storage{
		name:    name,
		logger:  logger.With("component", "storage", "namespace", name),
		metrics: metrics,
		queues:  make(map[string]*Queue),
	}
}

// Name returns the namespace name.
func (s *Storage) Name() string {
	return s.name
}

// CreateQueue returns the queue with the given name, creating it if needed.
// The options of an existing queue are left unchanged.
func (s *Storage) CreateQueue(name string, opts ...QueueOption) (*Queue, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Storage", "CreateQueue", "queue name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[name]; ok {
		return q, nil
	}

	q, err := newQueue(name, s.metrics, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Storage", "CreateQueue", "create queue "+name)
	}
	s.queues[name] = q
	s.logger.Debug("Queue created", "queue", name, "capacity", q.Capacity())
	return q, nil
}

// Queue looks up a queue by name.
func (s *Storage) Queue(name string) (*Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[name]
	return q, ok
}

// Has reports whether a queue exists.
func (s *Storage) Has(name string) bool {
	_, ok := s.Queue(name)
	return ok
}

// Names returns the queue names in sorted order.
func (s *Storage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove closes and forgets a queue. It reports whether the queue existed.
func (s *Storage) Remove(name string) bool {
	s.mu.Lock()
	q, ok := s.queues[name]
	delete(s.queues, name)
	s.mu.Unlock()

	if ok {
		q.Close()
	}
	return ok
}

// Close closes every queue, waking all pollers.
func (s *Storage) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.queues {
		q.Close()
	}
}
