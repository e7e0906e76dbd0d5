package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/orgrosua/yabe-siul/internal/api/http"
	"github.com/orgrosua/yabe-siul/internal/api/middleware"
	"github.com/orgrosua/yabe-siul/internal/cachestore"
	"github.com/orgrosua/yabe-siul/internal/compiler"
	"github.com/orgrosua/yabe-siul/internal/content"
	"github.com/orgrosua/yabe-siul/internal/httpclient"
	"github.com/orgrosua/yabe-siul/internal/infrastructure/config"
	"github.com/orgrosua/yabe-siul/internal/infrastructure/logging"
	"github.com/orgrosua/yabe-siul/internal/infrastructure/monitoring"
	"github.com/orgrosua/yabe-siul/internal/infrastructure/tracing"
	"github.com/orgrosua/yabe-siul/internal/resolver"
	"github.com/orgrosua/yabe-siul/internal/sandbox"
	"github.com/orgrosua/yabe-siul/internal/store"
	"github.com/orgrosua/yabe-siul/internal/versions"
)

// Server wraps the admin API and the pipeline behind it.
type Server struct {
	router       *gin.Engine
	httpServer   *http.Server
	config       *config.Config
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	tracer       *tracing.Tracer
	store        *store.Store
	host         *sandbox.Host
	nats         *cachestore.NATSInvalidator
	orchestrator *compiler.Orchestrator
}

// NewServer builds every component from cfg.
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	logger.Info("Initializing yabe-siul",
		zap.String("port", cfg.Server.Port),
		zap.String("db", cfg.Store.Path),
		zap.String("cache_dir", cfg.Cache.Dir),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Server{config: cfg, logger: logger, metrics: metrics, store: db}
	if err := s.build(registry); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) build(registry *prometheus.Registry) error {
	cfg, logger, metrics := s.config, s.logger, s.metrics

	clientOpts := func(name string) httpclient.Options {
		return httpclient.Options{
			Timeout:           cfg.HTTP.Timeout,
			Retries:           cfg.HTTP.Retries,
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Breaker:           httpclient.NewBreaker(name),
			Logger:            logger.Component(name),
		}
	}
	registryClient := httpclient.New(clientOpts("registry"))
	generatorClient := httpclient.New(clientOpts("generator"))
	cdnClient := httpclient.New(clientOpts("cdn"))
	plainClient := httpclient.New(httpclient.Options{
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		Logger:  logger.Component("remote"),
	})

	versionRegistry, err := versions.New(registryClient, cfg.Versions.URL, cfg.Versions.Constraint, logger.Component("versions"))
	if err != nil {
		return fmt.Errorf("failed to create version registry: %w", err)
	}

	depResolver := resolver.New(
		resolver.NewRemoteSource(generatorClient, cfg.Resolver.GeneratorURL, cfg.Resolver.DefaultProvider),
		resolver.NewLocalSource(registryClient, cfg.Resolver.CDNURL, cfg.Resolver.RegistryURL),
		s.store,
		resolver.Options{TTL: cfg.Resolver.TTL},
		logger.Logger, metrics,
	)

	compilerDoc, err := sandbox.LoadDocument(cfg.Sandbox.CompilerBootstrap, sandbox.CompilerDocument())
	if err != nil {
		return fmt.Errorf("failed to load compiler bootstrap: %w", err)
	}
	resolverDoc, err := sandbox.LoadDocument(cfg.Sandbox.ConfigResolverBootstrap, sandbox.ConfigResolverDocument())
	if err != nil {
		return fmt.Errorf("failed to load config resolver bootstrap: %w", err)
	}
	s.host = sandbox.NewHost(sandbox.Options{
		ReadyTimeout:   cfg.Sandbox.ReadyTimeout,
		RequestTimeout: cfg.Sandbox.RequestTimeout,
		Loader:         sandbox.NewCachingLoader(sandbox.NewHTTPLoader(cdnClient)),
	}, logger.Logger, metrics)

	providers, err := s.loadProviders(plainClient)
	if err != nil {
		return err
	}

	artifacts, err := cachestore.New(cachestore.Options{
		Dir:         cfg.Cache.Dir,
		Gzip:        cfg.Cache.Gzip,
		Invalidator: s.invalidators(plainClient),
	}, logger.Component("cachestore"), metrics)
	if err != nil {
		return fmt.Errorf("failed to create cache store: %w", err)
	}

	s.orchestrator = compiler.New(compiler.Deps{
		Versions:   versionRegistry,
		Settings:   s.store,
		Providers:  providers,
		Aggregator: content.NewAggregator(logger.Logger, metrics),
		Resolver:   depResolver,
		Compiler:   sandbox.NewCompilerClient(s.host, compilerDoc),
		Store:      artifacts,
	}, logger.Logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	s.tracer = tracing.New("siul", logger.Logger)
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	apihttp.NewHandlers(apihttp.Deps{
		Runner:    s.orchestrator,
		Settings:  s.store,
		Versions:  versionRegistry,
		Providers: providers,
		Artifacts: artifacts,
		Resolver:  sandbox.NewConfigResolver(s.host, resolverDoc),
	}, logger.Logger).Register(router)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Snapshot())
	})

	s.router = router
	return nil
}

// loadProviders reads the provider manifest. Without one, the working
// directory is scanned.
func (s *Server) loadProviders(client *httpclient.Client) (*content.Registry, error) {
	cfg := s.config.Content
	var providers []content.Provider

	manifest, err := content.LoadManifest(cfg.ProvidersFile)
	switch {
	case err == nil:
		providers, err = manifest.Build(client, cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to build providers: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		s.logger.Warn("Provider manifest not found, scanning working directory",
			zap.String("path", cfg.ProvidersFile))
		fs, err := content.NewFilesystemProvider(content.FilesystemOptions{
			ID:        "workdir",
			Name:      "Working directory",
			Enabled:   true,
			Root:      ".",
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		providers = []content.Provider{fs}
	default:
		return nil, err
	}

	registry := content.NewRegistry()
	for _, p := range providers {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
		s.logger.Info("Registered content provider", zap.String("id", p.ID()), zap.Bool("enabled", p.Enabled()))
	}
	return registry, nil
}

func (s *Server) invalidators(client *httpclient.Client) cachestore.Invalidator {
	cfg := s.config.Invalidation
	var out cachestore.Invalidators

	if cfg.NATSURL != "" {
		inv, err := cachestore.NewNATSInvalidator(cfg.NATSURL, cfg.NATSSubject, s.logger.Component("nats"))
		if err != nil {
			s.logger.Warn("NATS invalidation disabled", zap.Error(err))
		} else {
			s.nats = inv
			out = append(out, inv)
		}
	}
	if len(cfg.PurgeWebhooks) > 0 {
		out = append(out, cachestore.NewWebhookInvalidator(client, cfg.PurgeWebhooks))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Compile runs one pipeline pass outside the API.
func (s *Server) Compile(ctx context.Context) compiler.Outcome {
	return s.orchestrator.Run(ctx)
}

// Run serves the admin API until Shutdown.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// every resource.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
		}
	}
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases sandboxes, the broker connection and the database.
func (s *Server) Close() error {
	var errs []error
	if s.host != nil {
		if err := s.host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sandbox host: %w", err))
		}
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if s.tracer != nil {
		s.tracer.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
