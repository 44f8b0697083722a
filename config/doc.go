// Package config loads the description of a rat group.
//
// A configuration names the group, its NATS connection and metrics
// endpoint, the storage queues to create, an optional log sink, and the rats
// and templates to run. Adapters and steps are given as a type plus raw
// options and are instantiated through a component.Registry.
//
// # Loading
//
// Layers are merged in order, later files overriding earlier ones key by
// key. JSON and YAML are chosen by file extension:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Environment variables with the RATSTREAMS_ prefix override the group name,
// the NATS connection and the metrics port after all layers are merged.
//
// # Building
//
// Build turns a validated configuration into a group ready to start:
//
//	registry := component.NewRegistry()
//	_ = componentregistry.Register(registry)
//
//	g, err := config.Build(cfg, config.BuildDeps{Registry: registry, Logger: logger})
//
// Rats come first in the group, in file order, followed by the rats each
// template expands to.
package config
