// Package main implements the instrumentd entry point. Instrumentd polls
// bench multimeters over SCPI, assembles time-aligned frames, and serves
// the readings to live consumers and a REST control surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/component"
	"github.com/TaskforceCobra/instrument-contoller/config"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	gwhttp "github.com/TaskforceCobra/instrument-contoller/gateway/http"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/natsclient"
	"github.com/TaskforceCobra/instrument-contoller/output/export"
	"github.com/TaskforceCobra/instrument-contoller/output/graph"
	"github.com/TaskforceCobra/instrument-contoller/output/natspub"
	"github.com/TaskforceCobra/instrument-contoller/output/table"
	"github.com/TaskforceCobra/instrument-contoller/output/websocket"
	"github.com/TaskforceCobra/instrument-contoller/pkg/security"
	"github.com/TaskforceCobra/instrument-contoller/transport"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "instrumentd"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	if cliCfg.DumpConfig {
		fmt.Println(config.Defaults().String())
		return nil
	}

	// Load and validate configuration
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	registry := metric.NewMetricsRegistry()

	// NATS connects before the components that publish through it; a broker
	// the operator asked for but cannot be reached fails startup.
	var natsClient *natsclient.Client
	if cfg.NATS.Enabled {
		natsClient, err = connectNATS(ctx, cfg, registry)
		if err != nil {
			return err
		}
		defer func() { _ = natsClient.Close(context.Background()) }()
	}

	// benchLog mirrors lifecycle notices to logs.{engine_id}.{component} on
	// the broker for remote bench monitors. Without NATS it is a no-op; the
	// nil slog handle leaves local logging to slog alone.
	benchLog := component.NewLogger(appName, cfg.Engine.ID, nil, nil)
	if natsClient != nil {
		benchLog = component.NewLogger(appName, cfg.Engine.ID, natsClient.GetConnection(), nil)
	}

	eng, err := buildEngine(cfg, registry, logger)
	if err != nil {
		return err
	}

	r := newRunner(logger)
	r.Add(eng)

	stream, err := attachSinks(r, cfg, eng, natsClient, registry, logger)
	if err != nil {
		return err
	}

	if cfg.Gateway.Enabled {
		r.Add(buildGateway(cfg, eng, r.Components(), stream, registry, logger))
	}

	if err := r.InitializeAll(); err != nil {
		return err
	}

	stopMetrics := startMetricsServer(cliCfg, registry, cfg.Security)
	defer stopMetrics()

	// Run application with signal handling
	return runWithSignalHandling(ctx, r, benchLog, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting instrumentd (multimeter acquisition engine)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig builds the effective configuration: built-in defaults, then the
// named file when one was given, then INSTRUMENTD_ environment overrides,
// schema-validated.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	if path != "" {
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// connectNATS creates the shared NATS client from config and waits for the
// first connection. The client is injected into the publishing sink; the
// daemon owns it and closes it after every component has stopped.
func connectNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return client, nil
}

// buildEngine creates the acquisition coordinator with the built-in
// transports and registers every configured device.
func buildEngine(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*engine.Engine, error) {
	eng, err := engine.New(engine.Deps{
		Config: engine.Config{
			ID:              cfg.Engine.ID,
			FrameTick:       cfg.Engine.FrameTick,
			ShutdownTimeout: cfg.Engine.ShutdownTimeout,
			WorkerQueue:     cfg.Engine.WorkerQueue,
			ConsumerQueue:   cfg.Engine.ConsumerQueue,
			ScanWorkers:     cfg.Engine.Scan.Workers,
			ScanCacheTTL:    cfg.Engine.Scan.CacheTTL,
		},
		Transports:      transport.NewDefaultRegistry(),
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	// Disabled devices register too: they show in snapshots but no worker
	// polls them until the operator enables them.
	for _, dc := range cfg.Devices {
		if err := eng.RegisterDevice(dc.Runtime()); err != nil {
			return nil, fmt.Errorf("register device %s: %w", dc.ID, err)
		}
	}

	return eng, nil
}

// attachSinks builds the consumers enabled in config and subscribes them to
// the engine. Lifecycle-bearing sinks join the runner; the returned stream
// handler is non-nil when the WebSocket hub is enabled.
func attachSinks(
	r *runner,
	cfg *config.Config,
	eng *engine.Engine,
	natsClient *natsclient.Client,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (http.Handler, error) {
	if cfg.Outputs.Table.Enabled {
		if err := eng.RegisterConsumer("table", table.New()); err != nil {
			return nil, fmt.Errorf("register table sink: %w", err)
		}
	}

	if cfg.Outputs.Graph.Enabled {
		sink, err := graph.New(graph.Config{
			Window:    time.Duration(cfg.Outputs.Graph.WindowSeconds) * time.Second,
			MaxPoints: cfg.Outputs.Graph.MaxPoints,
		})
		if err != nil {
			return nil, fmt.Errorf("create graph sink: %w", err)
		}
		if err := eng.RegisterConsumer("graph", sink); err != nil {
			return nil, fmt.Errorf("register graph sink: %w", err)
		}
	}

	if cfg.Outputs.Export.Enabled {
		buf, err := export.New(export.Deps{
			Config:          export.Config{Capacity: cfg.Outputs.Export.Capacity},
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create export buffer: %w", err)
		}
		if err := eng.RegisterConsumer("export", buf); err != nil {
			return nil, fmt.Errorf("register export buffer: %w", err)
		}
	}

	var stream http.Handler
	if cfg.Outputs.WebSocket.Enabled {
		hub, err := websocket.New(websocket.Deps{
			Config:          websocket.Config{Path: cfg.Outputs.WebSocket.Path},
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create websocket hub: %w", err)
		}
		if err := eng.RegisterConsumer("websocket", hub); err != nil {
			return nil, fmt.Errorf("register websocket hub: %w", err)
		}
		r.Add(hub)
		stream = hub.Handler()
	}

	if cfg.NATS.Enabled {
		pub := natspub.New(natspub.Deps{
			Config: natspub.Config{
				URL:           strings.Join(cfg.NATS.URLs, ","),
				SubjectPrefix: cfg.NATS.SubjectPrefix,
				EngineID:      cfg.Engine.ID,
			},
			Client:          natsClient,
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err := eng.RegisterConsumer("natspub", pub); err != nil {
			return nil, fmt.Errorf("register NATS sink: %w", err)
		}
		r.Add(pub)
	}

	return stream, nil
}

// buildGateway creates the REST control surface around the engine. The
// components list feeds /healthz; the stream handler mounts the live
// WebSocket feed on the gateway listener.
func buildGateway(
	cfg *config.Config,
	eng *engine.Engine,
	components []component.Component,
	stream http.Handler,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) *gwhttp.Gateway {
	return gwhttp.New(gwhttp.Deps{
		Config: gwhttp.Config{
			BindAddr:   cfg.Gateway.BindAddr,
			Port:       cfg.Gateway.Port,
			StreamPath: cfg.Outputs.WebSocket.Path,
			Security:   cfg.Security,
		},
		Engine:          eng,
		Components:      components,
		Stream:          stream,
		MetricsRegistry: registry,
		Logger:          logger,
	})
}

// startMetricsServer runs the standalone Prometheus listener when a port was
// given. The returned func stops it; a clean stop makes Start return nil.
func startMetricsServer(cliCfg *CLIConfig, registry *metric.MetricsRegistry, securityCfg security.Config) func() {
	if cliCfg.MetricsPort == 0 {
		return func() {}
	}

	srv := metric.NewServer(cliCfg.MetricsPort, "/metrics", registry, securityCfg)
	go func() {
		slog.Info("Metrics server listening", "address", srv.Address())
		if err := srv.Start(); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		if err := srv.Stop(); err != nil {
			slog.Warn("Metrics server stop failed", "error", err)
		}
	}
}

// runWithSignalHandling starts all components and blocks until a shutdown
// signal arrives, then stops them in reverse order. Lifecycle notices go to
// benchLog as well, which carries them to the broker when one is connected.
func runWithSignalHandling(ctx context.Context, r *runner, benchLog *component.Logger, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := r.StartAll(signalCtx); err != nil {
		_ = r.StopAll(shutdownTimeout)
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("instrumentd started", "components", r.Names())
	benchLog.Info("acquisition engine started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := r.StopAll(shutdownTimeout); err != nil {
		benchLog.Error("graceful shutdown failed", err)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("instrumentd shutdown complete")
	benchLog.Info("acquisition engine shutdown complete")
	return nil
}

// printHelp prints help information
func printHelp() {
	printDetailedHelp()
}
