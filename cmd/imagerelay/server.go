package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/imagerelay/api/handlers"
	"github.com/BaSui01/imagerelay/config"
	"github.com/BaSui01/imagerelay/imagegen"
	"github.com/BaSui01/imagerelay/internal/journal"
	"github.com/BaSui01/imagerelay/internal/metrics"
	"github.com/BaSui01/imagerelay/internal/relay"
	"github.com/BaSui01/imagerelay/internal/server"
	"github.com/BaSui01/imagerelay/internal/telemetry"
	"github.com/BaSui01/imagerelay/internal/tlsutil"
	"github.com/BaSui01/imagerelay/retry"
)

// =============================================================================
// Server
// =============================================================================

// Server wires configuration, the acquisition pipeline and the HTTP surface.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector *metrics.Collector
	acquirer  *imagegen.Acquirer
	journal   *journal.Journal
	relay     *relay.Relay

	healthHandler      *handlers.HealthHandler
	generateHandler    *handlers.GenerateHandler
	diagnosticsHandler *handlers.DiagnosticsHandler

	rateLimiterCancel context.CancelFunc
}

// NewServer creates a server; nothing is started until Start.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: otelProviders,
	}
}

// =============================================================================
// Startup
// =============================================================================

// Start builds every component and starts the API and metrics listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("imagerelay", s.logger)

	if err := s.initComponents(context.Background()); err != nil {
		return err
	}

	if err := s.startHTTPServer(s.buildHandler()); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("providers", s.acquirer.Providers()),
		zap.Bool("journal_enabled", s.journal != nil),
		zap.Bool("relay_enabled", s.relay != nil),
	)

	return nil
}

func (s *Server) initComponents(ctx context.Context) error {
	if err := s.initAcquirer(); err != nil {
		return fmt.Errorf("failed to init acquirer: %w", err)
	}
	s.initJournal(ctx)
	if err := s.initRelay(); err != nil {
		return fmt.Errorf("failed to init relay: %w", err)
	}
	s.initHandlers()
	return nil
}

// initAcquirer builds the providers and the orchestrator from config.
func (s *Server) initAcquirer() error {
	specs := providerSpecs(s.cfg.Providers)
	client := tlsutil.NewClient(tlsutil.DefaultTransportConfig())

	providers, err := imagegen.NewProviders(specs, client, s.logger)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		if !spec.CredentialSatisfied() {
			s.logger.Warn("provider credential not configured; it will be skipped",
				zap.String("provider", spec.Name))
		}
	}

	acq := s.cfg.Acquisition
	policy := retry.Policy{
		MaxAttempts:    acq.MaxAttempts,
		DefaultDelay:   acq.DefaultBackoff,
		MaxDelay:       acq.MaxBackoff,
		AttemptTimeout: acq.RequestTimeout,
	}

	s.acquirer = imagegen.NewAcquirer(providers, policy,
		imagegen.WithLogger(s.logger),
		imagegen.WithRecorder(s.collector),
		imagegen.WithMaxConcurrent(acq.MaxConcurrent),
		imagegen.WithDeadline(acq.Deadline),
	)
	return nil
}

// initJournal connects the failure journal. A journal that cannot connect is
// logged and left out: it only serves diagnostics.
func (s *Server) initJournal(ctx context.Context) {
	jc := s.cfg.Journal
	if !jc.Enabled {
		return
	}

	j, err := journal.New(ctx, journal.Config{
		Addr:       jc.Addr,
		Password:   jc.Password,
		DB:         jc.DB,
		TLS:        jc.TLS,
		Key:        jc.Key,
		MaxEntries: jc.MaxEntries,
		TTL:        jc.TTL,
	}, s.logger)
	if err != nil {
		s.logger.Warn("failure journal unavailable, continuing without it", zap.Error(err))
		return
	}
	s.journal = j
}

func (s *Server) initRelay() error {
	rc := s.cfg.Relay
	if !rc.Enabled {
		return nil
	}
	if rc.Credential == "" {
		s.logger.Warn("relay credential not configured; relayed requests will fail",
			zap.String("credential_env", rc.CredentialEnv))
	}

	r, err := relay.New(relay.Config{
		Prefix:                rc.Prefix,
		Target:                rc.Target,
		Token:                 rc.Credential,
		ResponseHeaderTimeout: s.cfg.Acquisition.RequestTimeout,
	}, s.logger, relay.WithStatusObserver(s.collector.RecordRelay))
	if err != nil {
		return err
	}
	s.relay = r
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewProvidersHealthCheck(s.acquirer))

	var opts []handlers.GenerateOption
	if s.journal != nil {
		s.healthHandler.RegisterCheck(handlers.NewFuncHealthCheck("journal", s.journal.Ping))
		opts = append(opts, handlers.WithFailureJournal(s.journal, s.collector.RecordJournalWrite))
		s.diagnosticsHandler = handlers.NewDiagnosticsHandler(s.journal, s.logger)
	}

	s.generateHandler = handlers.NewGenerateHandler(s.acquirer, s.logger, opts...)
}

// providerSpecs maps provider config onto the immutable adapter specs.
func providerSpecs(cfgs []config.ProviderConfig) []imagegen.ProviderSpec {
	specs := make([]imagegen.ProviderSpec, 0, len(cfgs))
	for _, p := range cfgs {
		specs = append(specs, imagegen.ProviderSpec{
			Name:           p.Name,
			Adapter:        p.Adapter,
			Endpoint:       p.Endpoint,
			Model:          p.Model,
			EditModel:      p.EditModel,
			Auth:           imagegen.AuthRequirement(p.Auth),
			Credential:     p.Credential,
			Shape:          imagegen.ResponseShape(p.ResponseShape),
			Priority:       p.Priority,
			Width:          p.Width,
			Height:         p.Height,
			RateLimitRPS:   p.RateLimitRPS,
			RateLimitBurst: p.RateLimitBurst,
		})
	}
	return specs
}

// =============================================================================
// HTTP
// =============================================================================

// buildHandler registers the routes and wraps them in the middleware chain.
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/generate", s.generateHandler.HandleGenerate)

	if s.diagnosticsHandler != nil {
		mux.HandleFunc("/api/v1/diagnostics/failures", s.diagnosticsHandler.HandleFailures)
	}

	if s.relay != nil {
		mux.Handle(s.relay.Prefix(), s.relay)
		s.logger.Info("relay registered", zap.String("prefix", s.relay.Prefix()))
	}

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	sc := s.cfg.Server
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(sc.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
		BodyLimit(sc.MaxBodyBytes),
	)
}

func (s *Server) startHTTPServer(handler http.Handler) error {
	sc := s.cfg.Server
	s.httpManager = server.NewManager(handler, server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	sc := s.cfg.Server
	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.ReadTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// =============================================================================
// Shutdown
// =============================================================================

// WaitForShutdown blocks until a signal or server failure, then releases
// every component.
func (s *Server) WaitForShutdown(ctx context.Context) error {
	var err error
	if s.httpManager != nil {
		err = s.httpManager.WaitForShutdown(ctx, s.metricsManager)
	}
	return errors.Join(err, s.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown stops the listeners and releases the journal and telemetry.
// Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown")

	var errs []error

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	s.logger.Info("Graceful shutdown completed")
	return errors.Join(errs...)
}
