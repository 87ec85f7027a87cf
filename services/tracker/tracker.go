// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker provides the cell update service for MOTK production
// tracking.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, the per-key update guard, the batch
// coordinator, the Badger-backed cell store, the committed-update feed,
// and observability infrastructure.
//
// # Usage
//
//	cfg := tracker.Config{Port: 12410, DataDir: "./data/cells"}
//	svc, err := tracker.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/batch"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/feed"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/guard"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/middleware"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/observability"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the tracker service.
//
// # Description
//
// Service abstracts the tracker lifecycle, enabling testing and
// alternative implementations. Run() blocks and should only be called
// once per instance.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// Callers must not modify the router after construction.
	Router() *gin.Engine

	// Close releases all resources without starting the server. Useful
	// for tests that only exercise the router. Run() performs the same
	// cleanup on exit.
	Close()
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds tracker service configuration options.
//
// # Description
//
// Config centralizes all configuration for the tracker service.
// Values can be populated from environment variables, config files,
// or programmatically for testing. All fields have sensible defaults.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Ephemeral instance for tests
//	cfg := Config{InMemory: true, DisableTracing: true}
type Config struct {
	// Port is the HTTP server port. Default: 12410
	Port int

	// DataDir is the Badger database directory for cell values.
	// Default: "./data/cells". Ignored when InMemory is true.
	DataDir string

	// InMemory runs the cell store without disk persistence.
	// Default: false
	InMemory bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "motk-otel-collector:4317"
	OTelEndpoint string

	// DisableTracing skips OTLP tracer setup entirely.
	// Default: false
	DisableTracing bool

	// DisableMetrics turns off the Prometheus /metrics endpoint and
	// counter registration. Default: false
	DisableMetrics bool

	// LockIdleTTL is how long an unused per-key lock survives before
	// eviction. Default: 5 minutes
	LockIdleTTL time.Duration

	// LockSweepInterval is how often idle locks are evicted.
	// Default: 1 minute
	LockSweepInterval time.Duration

	// RateLimit configures the per-client request limiter.
	// Zero values use middleware defaults.
	RateLimit middleware.RateLimitConfig

	// DisableRateLimit turns off the request limiter entirely.
	// Default: false
	DisableRateLimit bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	cells         *store.BadgerStore
	locks         *guard.KeyLockTable
	guard         *guard.Guard
	coordinator   *batch.Coordinator
	hub           *feed.Hub
	limiter       *middleware.RateLimiter
	tracerCleanup func(context.Context)
	closeOnce     sync.Once
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new tracker Service with the given configuration.
//
// # Description
//
// New initializes all tracker components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing (unless disabled)
//  3. Initializes Prometheus metrics (unless disabled)
//  4. Opens the Badger cell store
//  5. Creates the key lock table, update guard, and batch coordinator
//  6. Creates the committed-update feed hub
//  7. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run tracker service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	cfg := Config{Port: 12410}
//	svc, err := New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if !s.config.DisableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var metrics *observability.Metrics
	if !s.config.DisableMetrics {
		// The Prometheus registry is process-global, so a second
		// instance in the same process reuses the first registration.
		if observability.DefaultMetrics != nil {
			metrics = observability.DefaultMetrics
		} else {
			metrics = observability.InitMetrics()
			slog.Info("Initialized Prometheus metrics for cell updates")
		}
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open cell store: %w", err)
	}

	s.locks = guard.NewKeyLockTable(guard.TableConfig{
		IdleTTL:       s.config.LockIdleTTL,
		SweepInterval: s.config.LockSweepInterval,
	})

	g, err := guard.New(s.cells, s.locks, metrics)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create update guard: %w", err)
	}
	s.guard = g

	s.coordinator, err = batch.NewCoordinator(s.guard, metrics)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create batch coordinator: %w", err)
	}

	s.hub = feed.NewHub()

	if !s.config.DisableRateLimit {
		s.limiter = middleware.NewRateLimiter(s.config.RateLimit)
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting tracker server",
		"port", s.config.Port,
		"in_memory", s.config.InMemory,
	)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases all resources held by the service.
func (s *service) Close() {
	s.cleanup()
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12410
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/cells"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "motk-otel-collector:4317"
	}
	if cfg.LockIdleTTL == 0 {
		cfg.LockIdleTTL = 5 * time.Minute
	}
	if cfg.LockSweepInterval == 0 {
		cfg.LockSweepInterval = time.Minute
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("tracker-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the Badger-backed cell store.
func (s *service) initStore() error {
	var cfg store.Config
	if s.config.InMemory {
		cfg = store.InMemoryConfig()
	} else {
		cfg = store.DefaultConfig()
		cfg.Path = s.config.DataDir
	}

	cells, err := store.Open(cfg)
	if err != nil {
		return err
	}
	s.cells = cells

	slog.Info("Cell store opened",
		"path", cfg.Path,
		"in_memory", cfg.InMemory,
	)
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("tracker-service"))
	if s.limiter != nil {
		s.router.Use(s.limiter.Handler())
	}

	handlers := NewHandlers(s.guard, s.coordinator, s.cells, s.hub, s.locks)

	s.router.GET("/health", handlers.HandleHealth)
	s.router.GET("/ready", handlers.HandleReady)
	if !s.config.DisableMetrics {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/v1")
	RegisterRoutes(v1, handlers)
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure. Safe to call
// with partially initialized state.
func (s *service) cleanup() {
	s.closeOnce.Do(s.closeAll)
}

func (s *service) closeAll() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.locks != nil {
		s.locks.Close()
	}
	if s.cells != nil {
		if err := s.cells.Close(); err != nil {
			slog.Warn("cell store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
