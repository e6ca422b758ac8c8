package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
	"github.com/mihaisavezi/gigachat-proxy/internal/gigachat"
	"github.com/mihaisavezi/gigachat-proxy/internal/handlers"
	"github.com/mihaisavezi/gigachat-proxy/internal/hooks"
	"github.com/mihaisavezi/gigachat-proxy/internal/metrics"
	"github.com/mihaisavezi/gigachat-proxy/internal/middleware"
	"github.com/mihaisavezi/gigachat-proxy/internal/modelsync"
	"github.com/mihaisavezi/gigachat-proxy/internal/providers"
	"github.com/mihaisavezi/gigachat-proxy/internal/token"
	"github.com/mihaisavezi/gigachat-proxy/internal/transform"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config    *config.Manager
	logger    *slog.Logger
	metrics   *metrics.Collector
	registry  *providers.Registry
	tokens    *token.Store
	hooks     *hooks.Hooks
	requests  *transform.RequestTransformer
	scheduler *modelsync.Scheduler
	client    *http.Client
	server    *http.Server
}

// New wires every component from the current configuration. Token settings,
// markers and TLS options are read once; a restart picks up changes to them.
func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := configManager.Get()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	client, err := gigachat.NewHTTPClient(cfg.GigaChat.RequestTimeout.Std(), cfg.GigaChat.VerifySSL, cfg.GigaChat.CAFile)
	if err != nil {
		return nil, fmt.Errorf("build vendor http client: %w", err)
	}

	store, err := NewTokenStore(cfg, client, logger, collector)
	if err != nil {
		return nil, err
	}

	registry := cfg.ProviderRegistry()
	requests := transform.NewRequestTransformer(logger, collector)

	s := &Server{
		config:   configManager,
		logger:   logger,
		metrics:  collector,
		registry: registry,
		tokens:   store,
		requests: requests,
		client:   client,
		hooks: hooks.New(hooks.Config{
			Tokens:     store,
			Classifier: transform.NewClassifier(cfg.GigaChat.ModelMarker, cfg.GigaChat.HostMarker),
			Requests:   requests,
			Responses:  transform.NewResponseTransformer(logger, collector),
			Registry:   registry,
			Logger:     logger,
		}),
		scheduler: modelsync.NewScheduler(logger),
	}

	for _, p := range registry.Enabled() {
		if !p.SyncEnabled {
			continue
		}
		s.scheduler.Add(modelsync.NewSyncer(p, registry, client, logger, collector), p.SyncInterval)
	}

	return s, nil
}

// NewTokenStore builds the credential store described by cfg. A nil client
// gets one built from the TLS settings.
func NewTokenStore(cfg *config.Config, client *http.Client, logger *slog.Logger, m *metrics.Collector) (*token.Store, error) {
	g := cfg.GigaChat

	if client == nil {
		var err error
		client, err = gigachat.NewHTTPClient(g.TokenTimeout.Std(), g.VerifySSL, g.CAFile)
		if err != nil {
			return nil, fmt.Errorf("build token http client: %w", err)
		}
	}

	policy, err := token.ParseFallbackPolicy(g.FallbackPolicy)
	if err != nil {
		return nil, err
	}

	issuer := token.NewClient(token.ClientConfig{
		URL:        g.TokenURL,
		Lifetime:   g.TokenLifetime.Std(),
		Timeout:    g.TokenTimeout.Std(),
		HTTPClient: client,
		Logger:     logger,
	})

	return token.NewStore(issuer, token.StoreConfig{
		AuthorizationKey: g.AuthKey,
		Scope:            g.Scope,
		RefreshBuffer:    g.RefreshBuffer.Std(),
		Policy:           policy,
		Logger:           logger,
		Metrics:          m,
	}), nil
}

// Start serves until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.config.Get()
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !cfg.GigaChat.HasAuthKey() {
		s.logger.Warn("No authorization key configured, vendor requests will not carry a token")
	}

	go func() {
		if err := s.scheduler.Start(ctx); err != nil {
			s.logger.Error("Model sync scheduler failed to start", "error", err)
		}
	}()

	go func() {
		if err := s.config.Watch(ctx, s.logger, s.applyConfig); err != nil {
			s.logger.Warn("Config hot reload disabled", "error", err)
		}
	}()

	s.logger.Info("Starting server", "address", listener.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Server is shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.scheduler.Stop()

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.scheduler.Stop()
	return s.server.Shutdown(ctx)
}

// applyConfig refreshes provider routing after a config reload. Handlers read
// the rest of the configuration per request.
func (s *Server) applyConfig(cfg *config.Config) {
	next := cfg.ProviderRegistry()
	for _, name := range next.List() {
		if p, ok := next.Get(name); ok {
			s.registry.Register(p)
		}
	}
	s.logger.Info("Provider configuration reloaded", "enabled", len(s.registry.Enabled()))
}

func (s *Server) Registry() *providers.Registry { return s.registry }

func (s *Server) Tokens() *token.Store { return s.tokens }

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Create handlers
	proxyHandler := handlers.NewProxyHandler(s.config, s.hooks, s.registry, s.client, s.metrics, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)
	modelsHandler := handlers.NewModelsHandler(s.config, s.registry)
	tokenHandler := handlers.NewTokenHandler(s.tokens, s.logger)
	statsHandler := handlers.NewStatsHandler(s.requests)

	// Setup middleware chains
	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	public := middlewareSet.HealthChain()
	chain := middlewareSet.DefaultChain()

	// Apply middleware chains to routes
	mux.Handle("/health", public.Handler(healthHandler))
	mux.Handle("/metrics", public.Handler(s.metrics.Handler()))

	mux.Handle("/v1/chat/completions", chain.Handler(proxyHandler))
	mux.Handle("/chat/completions", chain.Handler(proxyHandler))
	mux.Handle("/v1/models", chain.Handler(modelsHandler))
	mux.Handle("/models", chain.Handler(modelsHandler))
	mux.Handle("/token/info", chain.Handler(http.HandlerFunc(tokenHandler.Info)))
	mux.Handle("/token/refresh", chain.Handler(http.HandlerFunc(tokenHandler.Refresh)))
	mux.Handle("/stats", chain.Handler(statsHandler))
	mux.Handle("/", chain.Handler(http.HandlerFunc(notFound)))

	return mux
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"message":"not found","type":"invalid_request_error"}}`))
}
