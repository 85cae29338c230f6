package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/api/handlers"
	"github.com/tools-aigc/toolflow/cache"
	"github.com/tools-aigc/toolflow/config"
	"github.com/tools-aigc/toolflow/dispatch"
	"github.com/tools-aigc/toolflow/internal/metrics"
	"github.com/tools-aigc/toolflow/internal/telemetry"
	"github.com/tools-aigc/toolflow/session"
	"github.com/tools-aigc/toolflow/storage"
	"github.com/tools-aigc/toolflow/tools"
	"github.com/tools-aigc/toolflow/tools/openapi"
)

// unauthenticatedPaths are exempt from JWT auth and rate limiting.
var unauthenticatedPaths = []string{"/healthz", "/readyz", "/metrics"}

// Server wires the engine together and owns its lifecycle.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	sessions   *session.Store
	telemetry  *telemetry.Providers
	collector  *metrics.Collector

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer builds the full component graph from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) (*Server, error) {
	collector := metrics.NewCollector("toolflow", nil, logger)

	registry := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(registry, tools.BuiltinConfig{
		Weather: tools.WeatherConfig{
			APIKey:  cfg.Tools.WeatherAPIKey,
			Timeout: cfg.Tools.WeatherTimeout,
		},
		HTTPRequest: tools.HTTPRequestConfig{
			DefaultTimeout: cfg.Tools.HTTPTimeout,
		},
	}, logger); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	resultCache := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: cfg.Cache.DefaultTTL,
	}, logger)

	sessions := session.NewStore(session.Config{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		DefaultDeny:   cfg.Session.DefaultDeny,
	}, logger)

	executor := tools.NewExecutor(registry, logger)
	dispatcher := dispatch.New(registry, executor, resultCache, sessions, dispatch.Config{
		MaxConcurrency:  cfg.Dispatch.MaxConcurrency,
		CacheTTL:        cfg.Dispatch.CacheTTL,
		IncludeMetadata: cfg.Dispatch.IncludeMetadata,
		EventBuffer:     cfg.Dispatch.EventBuffer,
	}, logger, collector)

	var callLog *storage.Store
	db, err := storage.Open(cfg.Database, logger)
	if err != nil {
		logger.Warn("database not available, call log disabled", zap.Error(err))
	} else {
		callLog = storage.NewStore(db, logger, collector)
	}

	generator := openapi.NewGenerator(openapi.GeneratorConfig{
		Timeout: cfg.Tools.HTTPTimeout,
	}, logger)

	mux := http.NewServeMux()
	handlers.NewToolsHandler(registry, dispatcher, generator, logger).RegisterRoutes(mux)
	handlers.NewDispatchHandler(dispatcher, callLog, logger).RegisterRoutes(mux)
	handlers.NewWSHandler(dispatcher, logger).RegisterRoutes(mux)
	handlers.NewSessionHandler(sessions, callLog, logger).RegisterRoutes(mux)
	handlers.NewCacheHandler(resultCache, callLog, logger).RegisterRoutes(mux)
	handlers.NewHealthHandler(registry, sessions, Version).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	ctx, cancel := context.WithCancel(context.Background())

	middlewares := []Middleware{
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(logger),
		MetricsMiddleware(collector),
		OTelTracing(),
		RateLimiter(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst, logger),
	}
	if cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(cfg.Auth, unauthenticatedPaths, logger))
	}

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		sessions:  sessions,
		telemetry: otelProviders,
		collector: collector,
		cancel:    cancel,
		done:      make(chan struct{}),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:      Chain(mux, middlewares...),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	go sessions.Start(ctx)
	go srv.trackSessions(ctx)

	return srv, nil
}

// trackSessions keeps the active-session gauge current.
func (s *Server) trackSessions(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collector.SetActiveSessions(s.sessions.Len())
		}
	}
}

// Start begins serving HTTP in the background.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	go func() {
		defer close(s.done)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then drains the server.
func (s *Server) WaitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	s.logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	s.cancel()
	<-s.done

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
