package config

import (
	"fmt"
	"log/slog"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/group"
	"github.com/c360/ratstreams/logsink"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/natsclient"
	"github.com/c360/ratstreams/rat"
	"github.com/c360/ratstreams/storage"
	"github.com/c360/ratstreams/transform"
)

// BuildDeps are the collaborators Build hands to factories.
type BuildDeps struct {
	Registry        *component.Registry
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Build creates the group described by cfg: queues first, then the log sink,
// then every rat and template in file order. The group is not set up.
func Build(cfg *Config, deps BuildDeps) (*group.Group, error) {
	if deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Config", "Build", "registry required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := group.New(cfg.Group, group.Deps{Logger: logger, MetricsRegistry: deps.MetricsRegistry})

	for _, q := range cfg.Queues {
		policy, err := q.Policy()
		if err != nil {
			return nil, err
		}
		_, err = g.Storage().CreateQueue(q.Name,
			storage.WithCapacity(q.Capacity), storage.WithOverflowPolicy(policy))
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Build", "create queue "+q.Name)
		}
	}

	compDeps := component.Dependencies{
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger,
		Storage:         g.Storage(),
		Registry:        deps.Registry,
	}

	var sink logsink.Sink
	if cfg.LogSink != nil {
		s, err := component.Create[logsink.Sink](deps.Registry, component.KindSink, *cfg.LogSink, compDeps)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Build", "build log sink")
		}
		sink = s
	}

	for _, rc := range cfg.Rats {
		rcfg, err := buildRat(rc, deps.Registry, compDeps)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Build", "build rat "+rc.Name)
		}
		rcfg.LogSink = sink
		if err := g.Add(rcfg); err != nil {
			return nil, err
		}
	}

	for _, tc := range cfg.Templates {
		tpl, err := buildTemplate(tc, deps.Registry, compDeps)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Build", "build template "+tc.Name)
		}
		tpl.LogSink = sink
		if err := g.AddTemplate(tpl); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func buildStage(specs []component.Spec, registry *component.Registry, deps component.Dependencies) (rat.Stage, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	steps := make([]transform.Step, 0, len(specs))
	for i, spec := range specs {
		step, err := component.Create[transform.Step](registry, component.KindStep, spec, deps)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Build", fmt.Sprintf("build step #%d", i+1))
		}
		steps = append(steps, step)
	}
	return transform.New(steps...), nil
}

func buildRat(rc RatConfig, registry *component.Registry, deps component.Dependencies) (rat.Config, error) {
	if err := rc.Validate(); err != nil {
		return rat.Config{}, err
	}
	mode, _ := rat.ParseMode(rc.Mode)
	state, _ := rat.ParseInitialState(rc.InitialState)
	pause, _ := component.ParseDuration(rc.PauseInterval, 0, "pause_interval")
	wait, _ := component.ParseDuration(rc.WaitInterval, 0, "wait_interval")

	in, err := component.Create[rat.Input](registry, component.KindInput, rc.Input, deps)
	if err != nil {
		return rat.Config{}, errors.Wrap(err, "Config", "Build", "build input")
	}
	stage, err := buildStage(rc.Steps, registry, deps)
	if err != nil {
		return rat.Config{}, err
	}
	out, err := component.Create[rat.Output](registry, component.KindOutput, rc.Output, deps)
	if err != nil {
		return rat.Config{}, errors.Wrap(err, "Config", "Build", "build output")
	}

	return rat.Config{
		Name:           rc.Name,
		Input:          in,
		Stage:          stage,
		Output:         out,
		FlowErrorQueue: rc.FlowErrorQueue,
		SendErrorQueue: rc.SendErrorQueue,
		ShowInControl:  rc.ShowInControl,
		Mode:           mode,
		InitialState:   state,
		PauseInterval:  pause,
		WaitInterval:   wait,
	}, nil
}

func buildTemplate(tc TemplateConfig, registry *component.Registry, deps component.Dependencies) (group.Template, error) {
	if err := tc.Validate(); err != nil {
		return group.Template{}, err
	}
	mode, _ := rat.ParseMode(tc.Mode)
	state, _ := rat.ParseInitialState(tc.InitialState)
	interval, _ := component.ParseDuration(tc.PollInterval, 0, "poll_interval")
	timeout, _ := component.ParseDuration(tc.PollTimeout, 0, "poll_timeout")

	stage, err := buildStage(tc.Steps, registry, deps)
	if err != nil {
		return group.Template{}, err
	}

	return group.Template{
		Name:           tc.Name,
		Inputs:         append([]string(nil), tc.Inputs...),
		Output:         tc.Output,
		PollInterval:   interval,
		PollTimeout:    timeout,
		Stage:          stage,
		FlowErrorQueue: tc.FlowErrorQueue,
		SendErrorQueue: tc.SendErrorQueue,
		ShowInControl:  tc.ShowInControl,
		Mode:           mode,
		InitialState:   state,
	}, nil
}
