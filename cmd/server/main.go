package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/api"
	"github.com/dockhand/dockhand/internal/compose"
	"github.com/dockhand/dockhand/internal/config"
	"github.com/dockhand/dockhand/internal/docker"
	"github.com/dockhand/dockhand/internal/health"
	"github.com/dockhand/dockhand/internal/logstream"
	"github.com/dockhand/dockhand/internal/telemetry"
	"github.com/dockhand/dockhand/internal/tracing"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	fmt.Printf("dockhand %s (%s) built on %s\n", Version, Commit, BuildDate)

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := initLogger(cfg)
	logger.WithFields(logrus.Fields{
		"version":    Version,
		"commit":     Commit,
		"build_date": BuildDate,
	}).Info("starting dockhand")

	gateway := docker.NewGateway(cfg.Docker.Host, logger)

	manager := compose.NewManager(compose.Settings{
		ComposeBinary:       cfg.Docker.ComposeBinary,
		DiscoveryRoots:      cfg.Docker.DiscoveryRoots,
		ConfigCacheTTL:      cfg.Docker.ConfigCacheTTL,
		DefaultInternalPort: cfg.Docker.DefaultInternalPort,
	}, gateway, nil, logger)

	healthMonitor := health.NewMonitor(health.Settings{
		PollInterval: cfg.Telemetry.HealthPollInterval,
		HTTPTimeout:  cfg.Telemetry.HTTPTimeout,
	}, manager, logger)

	aggregator := telemetry.NewAggregator(telemetry.Settings{
		PollInterval: cfg.Telemetry.MetricsPollInterval,
		HTTPTimeout:  cfg.Telemetry.HTTPTimeout,
	}, manager, logger)

	traceService := tracing.NewService(tracing.Settings{
		ProviderURL: cfg.Telemetry.TraceProviderURL,
		HTTPTimeout: cfg.Telemetry.TraceHTTPTimeout,
		TailLines:   cfg.Telemetry.LogCorrelationTailLines,
	}, manager, logger)

	streamer := logstream.NewStreamer(gateway, logger)

	server, err := api.NewServer(&api.ServerConfig{
		Config:    cfg,
		Logger:    logger,
		Compose:   manager,
		Health:    healthMonitor,
		Telemetry: aggregator,
		Traces:    traceService,
		Logs:      streamer,
		Gateway:   gateway,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize api server")
	}

	healthMonitor.Start()
	aggregator.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("http server failed")
		}
	}

	// Shutdown order: polling loops first so no sweep races the teardown,
	// then the HTTP listener, then the outbound clients.
	healthMonitor.Stop()
	aggregator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server shutdown failed")
	}

	traceService.Close()
	if err := manager.Close(); err != nil {
		logger.WithError(err).Warn("compose manager close failed")
	}

	logger.Info("dockhand stopped")
}

// initLogger configures logrus from the logging section.
func initLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch cfg.Logging.Output {
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		logger.SetOutput(os.Stdout)
	}

	return logger
}
