// Package server assembles the dialer from configuration and runs its HTTP
// API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/api"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/dialsense/dialsense/internal/config"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/dialsense/dialsense/internal/dialer"
	"github.com/dialsense/dialsense/internal/llm"
	"github.com/dialsense/dialsense/internal/observe"
	"github.com/dialsense/dialsense/internal/quota"
	"github.com/dialsense/dialsense/internal/sweeper"
	"github.com/dialsense/dialsense/internal/telephony"
	"go.uber.org/zap"
)

// Store is what the server needs from persistence.
type Store interface {
	dialer.Store
	Ping(ctx context.Context) error
}

// OpenStore opens the configured store, applying migrations first. The
// returned func releases it.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (Store, func(), error) {
	switch cfg.ResolvedDriver() {
	case config.DriverPostgres:
		if err := database.Migrate(cfg.URL); err != nil {
			return nil, nil, err
		}
		db, err := database.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return database.NewMemory(), func() {}, nil
	}
}

// NewRegistry builds the detectors. The llm-based strategy asks Gemini when
// an API key is configured and falls back to the simulated judge otherwise.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *amd.Registry {
	policy := cfg.AMD.Policy
	env := amd.Env{
		Policy:    &policy,
		Latencies: cfg.AMD.StrategyLatencies(),
		Logger:    logger,
	}
	if cfg.LLM.GeminiAPIKey != "" {
		env.Judge = llm.NewGoogleClient(cfg.LLM.GeminiAPIKey, cfg.LLM.Model)
	}
	return amd.NewRegistry(env)
}

// NewProvider returns the Twilio client, or nil when no credentials are
// configured.
func NewProvider(cfg config.TwilioConfig) (telephony.Provider, error) {
	if !cfg.Configured() {
		return nil, nil
	}
	return telephony.NewTwilio(telephony.TwilioConfig{
		AccountSID: cfg.AccountSID,
		AuthToken:  cfg.AuthToken,
		FromNumber: cfg.PhoneNumber,
		BaseURL:    cfg.BaseURL,
	})
}

func newMachine(cfg config.AMDConfig) *call.Machine {
	m := call.NewMachine()
	if len(cfg.DenyList) > 0 {
		m.Override.Numbers = append([]string(nil), cfg.DenyList...)
	}
	m.Override.MinConfidence = cfg.OverrideConfidence
	return m
}

// Server owns every long-lived component of a running dialer.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     Store
	release   func()
	telemetry *observe.Provider
	service   *dialer.Service
	sweeper   *sweeper.Sweeper
	handler   http.Handler

	listener net.Listener
	http     *http.Server
	serveErr chan error
	stopOnce sync.Once
}

// New wires the dialer from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, release, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("store ready", zap.String("driver", cfg.Database.ResolvedDriver()))

	telemetry, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		release()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		release()
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	provider, err := NewProvider(cfg.Twilio)
	if err != nil {
		release()
		return nil, fmt.Errorf("create telephony provider: %w", err)
	}
	if provider == nil {
		logger.Warn("twilio credentials not configured, only demo calls are available")
	}

	defaultStrategy, _ := amd.ParseStrategy(cfg.AMD.DefaultStrategy)
	limiter := quota.New(cfg.Calls.RatePerMinute)
	svc, err := dialer.New(dialer.Config{
		Store:           store,
		Registry:        NewRegistry(cfg, logger),
		Provider:        provider,
		Machine:         newMachine(cfg.AMD),
		Limiter:         limiter,
		Metrics:         metrics,
		Logger:          logger,
		DefaultStrategy: defaultStrategy,
		PublicBaseURL:   cfg.Server.PublicBaseURL,
	})
	if err != nil {
		release()
		return nil, err
	}

	var verifier telephony.SignatureVerifier
	switch {
	case cfg.Twilio.SkipSignature:
		logger.Warn("webhook signature verification disabled")
	case cfg.Twilio.AuthToken != "":
		verifier = telephony.HMACVerifier{AuthToken: cfg.Twilio.AuthToken}
	}

	handler := api.NewServer(api.Config{
		Calls:          svc,
		Store:          store,
		Verifier:       verifier,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsHandler: telemetry.Handler,
		Metrics:        metrics,
		Logger:         logger,
	})

	return &Server{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		release:   release,
		telemetry: telemetry,
		service:   svc,
		sweeper: sweeper.New(sweeper.Config{
			Source:  store,
			Sink:    svc,
			Pruner:  limiter,
			MaxWait: cfg.Calls.MaxWait,
			Logger:  logger,
		}),
		handler: handler,
	}, nil
}

// Handler returns the API handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Service returns the call service.
func (s *Server) Service() *dialer.Service {
	return s.service
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+s.cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := s.sweeper.Start(ctx, s.cfg.Calls.SweepSchedule); err != nil {
		_ = listener.Close()
		return err
	}

	s.listener = listener
	s.http = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	s.serveErr = make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", listener.Addr().String()))
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
		close(s.serveErr)
	}()
	return nil
}

// URL returns the base URL the server listens on.
func (s *Server) URL() string {
	return "http://" + s.listener.Addr().String()
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-s.serveErr:
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops accepting requests, waits for in-flight ones, stops the
// sweeper and releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.http != nil {
			if herr := s.http.Shutdown(ctx); herr != nil {
				err = fmt.Errorf("server shutdown: %w", herr)
			}
		}
		s.sweeper.Stop()
		s.service.Close()
		if terr := s.telemetry.Shutdown(ctx); terr != nil {
			err = errors.Join(err, fmt.Errorf("metrics shutdown: %w", terr))
		}
		s.release()
		s.logger.Info("server stopped")
	})
	return err
}
