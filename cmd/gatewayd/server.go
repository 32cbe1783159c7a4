// Package main provides the gatewayd server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/api/handlers"
	"github.com/BaSui01/agentflow/config"
	"github.com/BaSui01/agentflow/internal/database"
	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/server"
	"github.com/BaSui01/agentflow/internal/telemetry"
	"github.com/BaSui01/agentflow/internal/tlsutil"
	"github.com/BaSui01/agentflow/internal/vault"
	"github.com/BaSui01/agentflow/llm/gateway"
)

// Server is the gateway's top-level process: it owns the gateway core
// (providers, slots, router, adapter, prober), the HTTP and metrics
// listeners, and the hot-reload manager for the config that drives them.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	telemetry  *telemetry.Providers
	dbPool     *database.PoolManager
	vault      *vault.Vault

	httpManager    *server.Manager
	metricsManager *server.Manager

	providers *gateway.ProviderRegistry
	slots     *gateway.SlotRegistry
	router    *gateway.Router
	adapter   *gateway.Adapter
	prober    *gateway.Prober

	healthHandler *handlers.HealthHandler

	metricsCollector *metrics.Collector

	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	wg sync.WaitGroup
}

func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers, dbPool *database.PoolManager, v *vault.Vault) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		telemetry:  otel,
		dbPool:     dbPool,
		vault:      v,
	}
}

// Start wires the gateway core, the HTTP route table, and the metrics
// server, then returns — listeners run in background goroutines.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("llm_gateway", s.logger)

	s.initGateway()

	s.router.SetMetrics(s.metricsCollector)
	s.prober.SetMetrics(s.metricsCollector)

	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// initGateway builds the provider registry, slot registry, router, adapter
// and prober — the core dependency chain every HTTP handler sits on top of.
func (s *Server) initGateway() {
	httpClient := tlsutil.SecureHTTPClient(s.cfg.Runtime.ChatTimeout)

	db := s.dbPool.DB()

	s.providers = gateway.NewProviderRegistry(db, s.vault, httpClient, s.logger)
	s.adapter = gateway.NewAdapter(s.vault, httpClient, s.logger)
	s.slots = gateway.NewSlotRegistry(db, s.logger, s.providers.Get)
	s.router = gateway.NewRouter(s.slots, s.providers, s.adapter, s.logger)
	s.prober = gateway.NewProber(s.providers, s.vault, httpClient, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)

	s.logger.Info("Gateway core initialized")
}

func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

func (s *Server) startHTTPServer() error {
	mux := api.NewMux(api.RouteDeps{
		Providers:   s.providers,
		Slots:       s.slots,
		Router:      s.router,
		Prober:      s.prober,
		Adapter:     s.adapter,
		HealthCheck: s.healthHandler,
		Logger:      s.logger,
	})

	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
		s.logger.Info("Configuration API registered")
	}

	var verifier api.TokenVerifier
	if s.cfg.Auth.APIKeyVerifyURL != "" {
		verifier = api.NewHTTPTokenVerifier(s.cfg.Auth.APIKeyVerifyURL)
	} else {
		verifier = api.NewHTTPTokenVerifier("")
	}

	skipAuthPaths := api.AuthSkipPaths()
	skipAuthPaths = append(skipAuthPaths, s.cfg.Auth.SkipPaths...)

	handler := api.Chain(mux,
		api.Recovery(s.logger),
		api.RequestID(),
		api.RequestLogger(s.logger),
		api.OTelTracing(),
		api.MetricsMiddleware(s.metricsCollector),
		api.SecurityHeaders(),
		api.CORS(s.cfg.Server.CORSAllowedOrigins),
		api.RateLimiter(context.Background(), s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		api.BearerOrAPIKeyAuth(s.cfg.Auth.JWT, verifier, skipAuthPaths, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until the HTTP manager catches a termination
// signal, then runs the shutdown sequence.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("Database pool shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
