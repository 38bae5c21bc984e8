// Package api exposes the observability control plane over HTTP: service
// discovery and topology, health and telemetry snapshots, trace lookup,
// lifecycle commands, and live log streaming.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/config"
	"github.com/dockhand/dockhand/internal/docker"
	"github.com/dockhand/dockhand/internal/logstream"
	"github.com/dockhand/dockhand/internal/middleware"
	"github.com/dockhand/dockhand/internal/models"
)

// ComposeService is the façade surface the API depends on.
type ComposeService interface {
	DiscoveredServices(ctx context.Context, includeStatus bool) ([]models.ServiceMetadata, error)
	URLIndex(ctx context.Context) ([]models.ServiceURLs, error)
	DependencyGraph(ctx context.Context) (*models.DependencyGraph, error)
	StartServices(ctx context.Context, services []string) error
	StopServices(ctx context.Context, services []string) error
	RestartServices(ctx context.Context, services []string) error
}

// HealthSource provides the most recent health sweep results.
type HealthSource interface {
	Latest() map[string]models.HealthSnapshot
}

// TelemetrySource provides the most recent metrics sweep results.
type TelemetrySource interface {
	Latest() map[string][]models.EndpointMetrics
}

// TraceFetcher retrieves one trace or its log correlation fallback.
type TraceFetcher interface {
	FetchTrace(ctx context.Context, traceID string) (*models.TraceResponse, error)
}

// LogStreamer resolves a service to containers and follows their logs.
type LogStreamer interface {
	StreamServiceLogs(ctx context.Context, service string, tail int) (<-chan logstream.Line, error)
}

// Server wires the controllers into a gin engine and owns the HTTP
// listener lifecycle.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     *config.Config
	logger     *logrus.Logger

	services  *ServicesController
	observe   *ObservabilityController
	logs      *LogsController
	system    *SystemController
	limiter   *middleware.RateLimiter
	startedAt time.Time
}

// ServerConfig carries the server's dependencies.
type ServerConfig struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Compose   ComposeService
	Health    HealthSource
	Telemetry TelemetrySource
	Traces    TraceFetcher
	Logs      LogStreamer
	Gateway   docker.Gateway
}

// NewServer validates dependencies and builds the routing table.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Compose == nil {
		return nil, errors.New("compose service is required")
	}
	if cfg.Health == nil {
		return nil, errors.New("health source is required")
	}
	if cfg.Telemetry == nil {
		return nil, errors.New("telemetry source is required")
	}
	if cfg.Traces == nil {
		return nil, errors.New("trace fetcher is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("docker gateway is required")
	}

	server := &Server{
		config:    cfg.Config,
		logger:    cfg.Logger,
		services:  NewServicesController(cfg.Compose, cfg.Logger),
		observe:   NewObservabilityController(cfg.Health, cfg.Telemetry, cfg.Traces, cfg.Logger),
		logs:      NewLogsController(cfg.Logs, cfg.Logger),
		system:    NewSystemController(cfg.Gateway, cfg.Logger),
		startedAt: time.Now(),
	}
	registerValidators()
	server.setupRouter()
	return server, nil
}

// registerValidators installs the servicename binding tag used by
// LifecycleRequest so raw shell-unsafe names never reach the Compose CLI.
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("servicename", func(fl validator.FieldLevel) bool { //nolint:errcheck
			return serviceNamePattern.MatchString(fl.Field().String())
		})
	}
}

func (s *Server) setupRouter() {
	switch s.config.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(s.logger),
		middleware.Recovery(s.logger),
	)
	if s.config.Server.EnableCORS {
		corsConfig := middleware.DefaultCORSConfig()
		if len(s.config.Server.AllowedOrigins) > 0 {
			corsConfig.AllowOrigins = s.config.Server.AllowedOrigins
		}
		router.Use(middleware.CORSWithConfig(corsConfig))
	}

	router.GET("/healthz", s.healthz)

	var lifecycleGuards []gin.HandlerFunc
	if s.config.Server.RateLimiting.Enabled {
		s.limiter = middleware.NewRateLimiter(
			s.config.Server.RateLimiting.RequestsPerSecond,
			s.config.Server.RateLimiting.Burst,
		)
		lifecycleGuards = append(lifecycleGuards, s.limiter.Middleware())
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/services", s.services.List)
		apiGroup.GET("/services/urls", s.services.URLs)
		apiGroup.GET("/topology", s.services.Topology)
		apiGroup.POST("/services/lifecycle", append(lifecycleGuards, s.services.Lifecycle)...)

		apiGroup.GET("/health/services", s.observe.Health)
		apiGroup.GET("/telemetry/services", s.observe.Telemetry)
		apiGroup.GET("/traces/:traceID", s.observe.Trace)

		apiGroup.GET("/logs/:service/stream", s.logs.Stream)
		apiGroup.GET("/logs/:service/ws", s.logs.WebSocket)

		apiGroup.GET("/diagnostics", s.system.Diagnostics)
		apiGroup.GET("/services/:service/stats", s.system.ServiceStats)
	}

	s.router = router
}

// healthz reports process liveness, not stack health.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	// No WriteTimeout: the log streaming endpoints hold their response
	// open indefinitely.
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.config.Server.ReadTimeout,
	}

	s.logger.WithField("addr", addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
