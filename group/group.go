// Package group runs an ordered set of rats that share a storage namespace.
//
// Templates are expanded into concrete rats when the group is set up, so the
// set of rats is fixed before any of them runs.
package group

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/logsink"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/rat"
	"github.com/c360/ratstreams/storage"
)

// Deps are the shared collaborators of a group.
type Deps struct {
	// Storage is the queue namespace; nil creates one named after the group.
	Storage         *storage.Storage
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Entry is either a concrete rat or a template.
type Entry struct {
	Config   *rat.Config
	Template *Template
}

// Group owns the rats of one pipeline.
type Group struct {
	name     string
	storage  *storage.Storage
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	mu      sync.Mutex
	entries []Entry
	rats    []*rat.Rat
	byName  map[string]*rat.Rat
	setUp   bool
}

// New creates an empty group.
func New(name string, deps Deps) *Group {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "group", "group", name)

	store := deps.Storage
	if store == nil {
		store = storage.New(name, storage.Deps{Logger: logger, MetricsRegistry: deps.MetricsRegistry})
	}
	return &Group{
		name:     name,
		storage:  store,
		logger:   logger,
		registry: deps.MetricsRegistry,
		byName:   make(map[string]*rat.Rat),
	}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Storage returns the queue namespace shared by the rats.
func (g *Group) Storage() *storage.Storage { return g.storage }

// EnsureQueue creates a queue unless it exists. capacity 0 is unbounded.
func (g *Group) EnsureQueue(name string, capacity int) (*storage.Queue, error) {
	return g.storage.CreateQueue(name, storage.WithCapacity(capacity))
}

func (g *Group) add(e Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.setUp {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Group", "Add", "add to "+g.name)
	}
	g.entries = append(g.entries, e)
	return nil
}

// Add appends a rat. Rats can only be added before SetUp.
func (g *Group) Add(cfg rat.Config) error {
	return g.add(Entry{Config: &cfg})
}

// AddTemplate appends a template that SetUp expands in place.
func (g *Group) AddTemplate(t Template) error {
	return g.add(Entry{Template: &t})
}

// expand replaces every template by its rats, keeping the entry order.
func (g *Group) expand() ([]rat.Config, error) {
	var configs []rat.Config
	for _, e := range g.entries {
		switch {
		case e.Template != nil:
			expanded, err := Expand(*e.Template)
			if err != nil {
				return nil, errors.Wrap(err, "Group", "SetUp", "expand template "+e.Template.Name)
			}
			g.logger.Debug("Template expanded", "template", e.Template.Name, "rats", len(expanded))
			configs = append(configs, expanded...)
		case e.Config != nil:
			configs = append(configs, *e.Config)
		}
	}
	return configs, nil
}

// serializer hands out one serialized wrapper per distinct sink so rats
// sharing a sink also share its lock.
type serializer map[logsink.Sink]logsink.Sink

func (s serializer) wrap(sink logsink.Sink) logsink.Sink {
	if sink == nil {
		return nil
	}
	if !reflect.TypeOf(sink).Comparable() {
		return logsink.Serialized(sink)
	}
	if w, ok := s[sink]; ok {
		return w
	}
	w := logsink.Serialized(sink)
	s[sink] = w
	return w
}

// SetUp expands templates, then builds and initializes every rat in order.
// The first failure aborts and names the rat; rats already set up are
// released. A group is set up once.
func (g *Group) SetUp() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.setUp {
		return nil
	}

	configs, err := g.expand()
	if err != nil {
		return err
	}

	sinks := serializer{}
	rats := make([]*rat.Rat, 0, len(configs))
	byName := make(map[string]*rat.Rat, len(configs))
	release := func() {
		for i := len(rats) - 1; i >= 0; i-- {
			rats[i].Release()
		}
	}
	for _, cfg := range configs {
		if _, dup := byName[cfg.Name]; dup {
			release()
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate rat name %q", errors.ErrInvalidConfig, cfg.Name),
				"Group", "SetUp", "register rat")
		}
		cfg.LogSink = sinks.wrap(cfg.LogSink)

		r, err := rat.New(cfg, rat.Deps{Storage: g.storage, Logger: g.logger, MetricsRegistry: g.registry})
		if err != nil {
			release()
			return errors.Wrap(err, "Group", "SetUp", "build rat "+cfg.Name)
		}
		if err := r.Initialize(); err != nil {
			release()
			return errors.Wrap(err, "Group", "SetUp", "set up rat "+cfg.Name)
		}
		rats = append(rats, r)
		byName[cfg.Name] = r
	}

	g.rats, g.byName, g.setUp = rats, byName, true
	g.logger.Info("Group set up", "rats", len(rats))
	return nil
}

// Start sets the group up if needed and starts every continuous rat. Manual
// rats wait for StartRat.
func (g *Group) Start(ctx context.Context) error {
	if err := g.SetUp(); err != nil {
		return err
	}

	started := 0
	for _, r := range g.Rats() {
		if r.Mode() == rat.ModeManual {
			continue
		}
		if err := r.Start(ctx); err != nil {
			return errors.Wrap(err, "Group", "Start", "start rat "+r.Name())
		}
		started++
	}
	g.logger.Info("Group started", "started", started)
	return nil
}

// StartRat starts a single rat, which is how manual rats run.
func (g *Group) StartRat(ctx context.Context, name string) error {
	r, ok := g.Rat(name)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rat %q", errors.ErrUnknownComponent, name), "Group", "StartRat", "look up rat")
	}
	return r.Start(ctx)
}

// Stop stops all rats in parallel, asking them in reverse order, and waits
// up to timeout for each. Failures are joined.
func (g *Group) Stop(timeout time.Duration) error {
	rats := g.Rats()
	start := time.Now()

	var (
		eg   errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for i := len(rats) - 1; i >= 0; i-- {
		r := rats[i]
		eg.Go(func() error {
			if err := r.Stop(timeout); err != nil {
				g.logger.Error("Rat stop failed", "rat", r.Name(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop rat %s: %w", r.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	g.logger.Info("Group stopped",
		"rats", len(rats),
		"duration_ms", time.Since(start).Milliseconds(),
		"error_count", len(errs))
	return errors.Join(errs...)
}

// Close stops the group and closes its queues.
func (g *Group) Close(timeout time.Duration) error {
	err := g.Stop(timeout)
	g.storage.Close()
	return err
}

// Rat looks up a rat by name. Only set-up groups have rats.
func (g *Group) Rat(name string) (*rat.Rat, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byName[name]
	return r, ok
}

// Rats returns the rats in group order.
func (g *Group) Rats() []*rat.Rat {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*rat.Rat(nil), g.rats...)
}

// Controlled returns the rats an operator should see.
func (g *Group) Controlled() []*rat.Rat {
	var out []*rat.Rat
	for _, r := range g.Rats() {
		if r.ShowInControl() {
			out = append(out, r)
		}
	}
	return out
}

// Pause pauses every rat.
func (g *Group) Pause() {
	for _, r := range g.Rats() {
		r.Pause()
	}
}

// Resume resumes every rat.
func (g *Group) Resume() {
	for _, r := range g.Rats() {
		r.Resume()
	}
}

// States reports the state of every rat by name.
func (g *Group) States() map[string]rat.State {
	rats := g.Rats()
	states := make(map[string]rat.State, len(rats))
	for _, r := range rats {
		states[r.Name()] = r.State()
	}
	return states
}
