package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/admission/internal/config"
	"github.com/vyrodovalexey/admission/internal/gateway"
	"github.com/vyrodovalexey/admission/internal/observability"
)

// application holds all application components.
type application struct {
	config  *config.GatewayConfig
	gateway *gateway.Gateway
	metrics *observability.Metrics
	tracer  *observability.Tracer
	reloads *reloadMetrics
	logger  observability.Logger
}

// reloadMetrics counts configuration reloads by result.
type reloadMetrics struct {
	total       *prometheus.CounterVec
	lastSuccess prometheus.Gauge
}

func newReloadMetrics(m *observability.Metrics, namespace string) *reloadMetrics {
	rm := &reloadMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration reloads by result",
			},
			[]string{"result"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_reload_last_success_timestamp_seconds",
				Help:      "Unix time of the last applied configuration",
			},
		),
	}
	if reg := m.Registry(); reg != nil {
		reg.MustRegister(rm.total, rm.lastSuccess)
	}
	return rm
}

func (rm *reloadMetrics) record(err error) {
	if err != nil {
		rm.total.WithLabelValues("failure").Inc()
		return
	}
	rm.total.WithLabelValues("success").Inc()
	rm.lastSuccess.SetToCurrentTime()
}

// run loads the configuration, serves until ctx is done and shuts down.
func run(ctx context.Context, flags cliFlags, logger observability.Logger) error {
	path, err := config.ResolveConfigPath(flags.configPath)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(path, logger)
	if err != nil {
		return err
	}
	logger = loggerFromConfig(flags, cfg, logger)

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := app.gateway.Start(ctx); err != nil {
		_ = app.gateway.Close()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	var watcher *config.Watcher
	if flags.watch {
		watcher = app.startConfigWatcher(ctx, path)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	return app.shutdown(watcher)
}

// loadConfig loads and validates the configuration file.
func loadConfig(path string, logger observability.Logger) (*config.GatewayConfig, error) {
	logger.Info("starting admission gateway",
		observability.String("version", version),
		observability.String("config", path),
	)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("configuration loaded",
		observability.String("address", cfg.Server.Address),
		observability.Int("routes", len(cfg.Routes)),
		observability.Int("schemas", len(cfg.Schemas)),
		observability.String("store", cfg.RateLimit.Store.Type),
		observability.Strings("allowed_origins", cfg.CORS.AllowOrigins),
	)

	return cfg, nil
}

// loggerFromConfig rebuilds the logger with the configured level, format
// and output unless the level was set on the command line.
func loggerFromConfig(flags cliFlags, cfg *config.GatewayConfig, logger observability.Logger) observability.Logger {
	if flags.logLevel != "" {
		return logger
	}

	configured, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		logger.Warn("keeping default logger", observability.Error(err))
		return logger
	}
	observability.SetGlobalLogger(configured)
	return configured
}

// newApplication builds metrics, tracing and the gateway.
func newApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		app.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}
	app.reloads = newReloadMetrics(app.metrics, cfg.Metrics.Namespace)

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	gw, err := gateway.New(ctx, cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(app.metrics),
		gateway.WithTracer(tracer),
		gateway.WithVersion(version),
	)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}
	app.gateway = gw

	return app, nil
}

// startConfigWatcher watches path and applies valid changes to the
// gateway. A watcher that cannot start is logged and skipped.
func (app *application) startConfigWatcher(ctx context.Context, path string) *config.Watcher {
	watcher, err := config.NewWatcher(path, app.handleReload,
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(err error) { app.reloads.record(err) }),
	)
	if err != nil {
		app.logger.Warn("configuration watcher disabled", observability.Error(err))
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		app.logger.Warn("configuration watcher disabled", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}

// handleReload applies a reloaded configuration.
func (app *application) handleReload(cfg *config.GatewayConfig) {
	start := time.Now()
	err := app.gateway.Reload(cfg)
	app.reloads.record(err)

	if err != nil {
		app.logger.Error("failed to apply configuration", observability.Error(err))
		return
	}
	app.logger.Info("configuration applied",
		observability.Duration("duration", time.Since(start)),
	)
}
