// Package dirwatch provides a buffered input that emits the paths of files
// created or written in a directory.
package dirwatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// Config holds configuration for the directory watch input
type Config struct {
	Dir            string `json:"dir"`
	Pattern        string `json:"pattern,omitempty"`
	Existing       bool   `json:"existing,omitempty"`
	Create         bool   `json:"create,omitempty"`
	BufferCapacity int    `json:"buffer_capacity,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "dir is required")
	}
	if c.Pattern != "" {
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "compile pattern")
		}
	}
	return nil
}

// Source watches one directory, non-recursively.
type Source struct {
	cfg     Config
	pattern *regexp.Regexp
	logger  *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	primed  bool
}

var _ rat.Source = (*Source)(nil)

// NewSource creates a directory watch source. cfg must be valid.
func NewSource(cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{cfg: cfg, logger: logger.With("component", "dirwatch-input", "dir", cfg.Dir)}
	if cfg.Pattern != "" {
		s.pattern = regexp.MustCompile(cfg.Pattern)
	}
	return s
}

// Generates is the file path.
func (s *Source) Generates() reflect.Type {
	return rat.TypeOf[string]()
}

func (s *Source) matches(path string) bool {
	return s.pattern == nil || s.pattern.MatchString(filepath.Base(path))
}

// Open starts watching the directory.
func (s *Source) Open(rat.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	if s.cfg.Create {
		if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
			return errors.WrapFatal(err, "Source", "Open", "create watched directory")
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapFatal(err, "Source", "Open", "create watcher")
	}
	if err := watcher.Add(s.cfg.Dir); err != nil {
		watcher.Close()
		return errors.WrapInvalid(err, "Source", "Open", "watch "+s.cfg.Dir)
	}
	s.watcher = watcher
	return nil
}

// existing lists matching regular files already in the directory, sorted by
// name. Only the first run after construction emits them.
func (s *Source) existing() []string {
	s.mu.Lock()
	if !s.cfg.Existing || s.primed {
		s.mu.Unlock()
		return nil
	}
	s.primed = true
	s.mu.Unlock()

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		s.logger.Warn("Failed to list watched directory", "error", err)
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && s.matches(e.Name()) {
			paths = append(paths, filepath.Join(s.cfg.Dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}

// Run emits paths until ctx is done or the watcher is closed.
func (s *Source) Run(ctx context.Context, emit func(item any) error) error {
	s.mu.Lock()
	watcher := s.watcher
	s.mu.Unlock()
	if watcher == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Source", "Run", "run before open")
	}

	for _, path := range s.existing() {
		if err := emit(path); err != nil {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !s.matches(event.Name) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || !info.Mode().IsRegular() {
				continue
			}
			if err := emit(event.Name); err != nil {
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	if err != nil {
		return errors.Wrap(err, "Source", "Close", "close watcher")
	}
	return nil
}

// NewInput creates a buffered directory watch input from configuration
func NewInput(rawConfig json.RawMessage, deps component.Dependencies) (any, error) {
	var cfg Config
	if err := component.Decode(rawConfig, &cfg, "DirWatchInput"); err != nil {
		return nil, err
	}
	return rat.NewBuffered(NewSource(cfg, deps.GetLogger()), cfg.BufferCapacity), nil
}

// Register registers the directory watch input with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "dirwatch",
		Kind:        component.KindInput,
		Factory:     NewInput,
		Protocol:    "file",
		Description: "Emits paths of files created or written in a directory",
		Version:     "0.1.0",
	})
}
