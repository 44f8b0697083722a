// Package component provides the factory registry adapters, stage steps and
// log sinks are instantiated through when a group is built from
// configuration.
package component

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/c360/ratstreams/errors"
)

// Kind is the role a registered factory fills.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
	KindStep   Kind = "step"
	KindSink   Kind = "sink"
)

// Factory creates a component from raw JSON options. Factories do no I/O;
// connections are opened in SetUp.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (any, error)

// Spec selects a factory and carries its options.
type Spec struct {
	Type   string          `json:"type" yaml:"type"`
	Config json.RawMessage `json:"config,omitempty" yaml:"config,omitempty"`
}

// Info is the metadata of a registration.
type Info struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Protocol    string `json:"protocol"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// RegistrationConfig is the argument of RegisterWithConfig.
type RegistrationConfig struct {
	Name        string  // Factory name (e.g., "queue", "kafka")
	Kind        Kind    // input, output, step or sink
	Factory     Factory // Factory function to create instances
	Protocol    string  // Technical protocol (tcp, nats, redis, file, ...)
	Description string  // Human-readable description
	Version     string  // Component version (semver recommended)
}

type registration struct {
	info    Info
	factory Factory
}

// Registry holds factories by kind and name.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]*registration
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]map[string]*registration)}
}

// RegisterWithConfig registers a factory. Names are unique per kind.
func (r *Registry) RegisterWithConfig(cfg RegistrationConfig) error {
	if err := ValidateComponentName(cfg.Name); err != nil {
		return errors.Wrap(err, "Registry", "RegisterWithConfig", "factory name validation")
	}
	switch cfg.Kind {
	case KindInput, KindOutput, KindStep, KindSink:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown kind %q", errors.ErrInvalidConfig, cfg.Kind),
			"Registry", "RegisterWithConfig", "kind validation")
	}
	if cfg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig", "factory function validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName := r.factories[cfg.Kind]
	if byName == nil {
		byName = make(map[string]*registration)
		r.factories[cfg.Kind] = byName
	}
	if _, exists := byName[cfg.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%s factory '%s' is already registered", cfg.Kind, cfg.Name),
			"Registry", "RegisterWithConfig", "duplicate factory check")
	}

	byName[cfg.Name] = &registration{
		info: Info{
			Name:        cfg.Name,
			Kind:        cfg.Kind,
			Protocol:    cfg.Protocol,
			Description: cfg.Description,
			Version:     cfg.Version,
		},
		factory: cfg.Factory,
	}
	return nil
}

// Has reports whether a factory is registered.
func (r *Registry) Has(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind][name]
	return ok
}

// ListAvailable returns the registrations of one kind sorted by name.
func (r *Registry) ListAvailable(kind Kind) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.factories[kind]))
	for _, reg := range r.factories[kind] {
		infos = append(infos, reg.info)
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return infos
}

// Build runs the factory named by spec.
func (r *Registry) Build(kind Kind, spec Spec, deps Dependencies) (any, error) {
	if err := ValidateFactoryConfig(spec.Config); err != nil {
		return nil, errors.Wrap(err, "Registry", "Build", "config security validation")
	}

	r.mu.RLock()
	reg, ok := r.factories[kind][spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s '%s'", errors.ErrUnknownComponent, kind, spec.Type),
			"Registry", "Build", "factory lookup")
	}

	if deps.Registry == nil {
		deps.Registry = r
	}
	c, err := reg.factory(spec.Config, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Build", fmt.Sprintf("create %s %s", kind, spec.Type))
	}
	return c, nil
}

// Create builds a component and checks that it implements T.
func Create[T any](r *Registry, kind Kind, spec Spec, deps Dependencies) (T, error) {
	var zero T
	c, err := r.Build(kind, spec, deps)
	if err != nil {
		return zero, err
	}
	v, ok := c.(T)
	if !ok {
		return zero, errors.WrapFatal(
			fmt.Errorf("%s factory '%s' returned %T", kind, spec.Type, c),
			"Registry", "Create", "type check")
	}
	return v, nil
}

// Decode unmarshals factory options into target, leaving defaults in place
// when raw is empty.
func Decode(raw json.RawMessage, target any, component string) error {
	if err := SafeUnmarshal(raw, target); err != nil {
		return errors.WrapInvalid(err, component, "Factory", "config unmarshal")
	}
	return nil
}
