// Package main runs a group of rats described by a configuration file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/componentregistry"
	"github.com/c360/ratstreams/config"
	cerrors "github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/group"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/natsclient"
	"github.com/c360/ratstreams/rat"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ratstreams"
)

const natsConnectTimeout = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args, stdout)
	if shouldExit || err != nil {
		return err
	}

	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return err
	}
	if cliCfg.ListComponents {
		printComponents(stdout, registry)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if cliCfg.ShutdownTimeout > 0 {
		cfg.StopTimeout = cliCfg.ShutdownTimeout
	}
	logger.Info("Configuration loaded", "config", cfg.String())

	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	metricsRegistry := metric.NewMetricsRegistry()

	natsClient, err := connectToNATS(ctx, cfg.NATS, metricsRegistry, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer closeNATS(natsClient, logger)
	}

	g, err := config.Build(cfg, config.BuildDeps{
		Registry:        registry,
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry, healthCheck(g, natsClient))
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Metrics server started", "address", server.Address())
	}

	return runWithSignalHandling(ctx, g, server, cfg.StopTimeout, logger)
}

func initializeCLI(args []string, stdout io.Writer) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil, true, nil
		}
		return nil, nil, true, err
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (build %s)\n", appName, Version, BuildTime)
		return cliCfg, nil, true, nil
	}
	if cliCfg.ShowHelp {
		cliCfg.usage()
		return cliCfg, nil, true, nil
	}

	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, true, err
	}

	logger := setupLogger(os.Stderr, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("Starting ratstreams", "version", Version, "config", strings.Join(cliCfg.ConfigPaths, ","))
	return cliCfg, logger, false, nil
}

func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	for _, path := range cliCfg.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// connectToNATS returns nil when no URLs are configured.
func connectToNATS(
	ctx context.Context, cfg config.NATSConfig, registry *metric.MetricsRegistry, logger *slog.Logger,
) (*natsclient.Client, error) {
	if !cfg.Enabled() {
		logger.Debug("NATS not configured, skipping connection")
		return nil, nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithTimeout(natsConnectTimeout),
		natsclient.WithName(appName),
		natsclient.WithDrainTimeout(5 * time.Second),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				logger.Info("NATS connection healthy")
			} else {
				logger.Warn("NATS connection unhealthy")
			}
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.Name))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	logger.Info("Connected to NATS", "url", client.URL())
	return client, nil
}

func closeNATS(client *natsclient.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil {
		logger.Warn("Failed to close NATS connection", "error", err)
	}
}

// healthCheck fails while any rat is failed or NATS is unhealthy.
func healthCheck(g *group.Group, client *natsclient.Client) metric.HealthFunc {
	return func() error {
		var failed []string
		for name, state := range g.States() {
			if state == rat.StateFailed {
				failed = append(failed, name)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("rats failed: %s", strings.Join(failed, ", "))
		}
		if client != nil && !client.IsHealthy() {
			return cerrors.ErrConnectionLost
		}
		return nil
	}
}

func runWithSignalHandling(
	ctx context.Context, g *group.Group, server *metric.Server, stopTimeout time.Duration, logger *slog.Logger,
) error {
	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := g.Start(signalCtx); err != nil {
		_ = g.Close(stopTimeout)
		return fmt.Errorf("start group %s: %w", g.Name(), err)
	}
	logger.Info("Group started", "group", g.Name(), "rats", len(g.Rats()))

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")
	return shutdown(g, server, stopTimeout, logger)
}

func shutdown(g *group.Group, server *metric.Server, stopTimeout time.Duration, logger *slog.Logger) error {
	start := time.Now()
	err := g.Close(stopTimeout)
	if err != nil {
		logger.Error("Group shutdown incomplete", "error", err)
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := server.Stop(ctx); serr != nil {
			logger.Warn("Failed to stop metrics server", "error", serr)
		}
	}

	logger.Info("Shutdown complete", "duration", time.Since(start))
	return err
}

func printComponents(w io.Writer, registry *component.Registry) {
	for _, kind := range []component.Kind{
		component.KindInput, component.KindOutput, component.KindStep, component.KindSink,
	} {
		_, _ = fmt.Fprintf(w, "%ss:\n", kind)
		for _, info := range registry.ListAvailable(kind) {
			_, _ = fmt.Fprintf(w, "  %-12s %s\n", info.Name, info.Description)
		}
	}
}
