// Package api provides the dialer HTTP API server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/dialsense/dialsense/internal/dialer"
	"github.com/dialsense/dialsense/internal/observe"
	"github.com/dialsense/dialsense/internal/quota"
	"github.com/dialsense/dialsense/internal/telephony"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallService is the call orchestration surface the server exposes.
// dialer.Service implements it.
type CallService interface {
	Initiate(ctx context.Context, p dialer.InitiateParams) (*call.Call, error)
	OnExternalEvent(ctx context.Context, ev call.Event) (*call.Call, error)
	Hangup(ctx context.Context, id uuid.UUID) (*call.Call, error)
	Get(ctx context.Context, id uuid.UUID) (*call.Call, error)
	List(ctx context.Context, params database.ListCallsParams) ([]call.Call, int, error)
	RunComparison(ctx context.Context, sample amd.Sample, names []string) (*amd.Report, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the API server.
type Server struct {
	calls    CallService
	store    Pinger
	verifier telephony.SignatureVerifier
	baseURL  string
	origins  []string
	logger   *zap.Logger
	mux      *http.ServeMux
	handler  http.Handler
}

// Config holds API server configuration.
type Config struct {
	Calls CallService
	// Store is pinged by /health when set.
	Store Pinger
	// Verifier checks webhook signatures. Nil disables verification.
	Verifier telephony.SignatureVerifier
	// PublicBaseURL is the externally visible origin the provider signs
	// webhook URLs against.
	PublicBaseURL string
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
	Metrics        *observe.Metrics
	Logger         *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.Nop()
	}

	s := &Server{
		calls:    cfg.Calls,
		store:    cfg.Store,
		verifier: cfg.Verifier,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		origins:  cfg.AllowedOrigins,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	s.registerRoutes(cfg.MetricsHandler)
	s.handler = observe.Middleware(metrics, logger)(s.mux)
	return s
}

func (s *Server) registerRoutes(metricsHandler http.Handler) {
	// Public endpoints
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if metricsHandler != nil {
		s.mux.Handle("GET /metrics", metricsHandler)
	}

	// Calls
	s.mux.HandleFunc("POST /api/calls/initiate", s.handleInitiateCall)
	s.mux.HandleFunc("GET /api/calls", s.handleListCalls)
	s.mux.HandleFunc("GET /api/calls/export.csv", s.handleExportCalls)
	s.mux.HandleFunc("GET /api/calls/{callID}/status", s.handleGetCallStatus)
	s.mux.HandleFunc("POST /api/calls/{callID}/hangup", s.handleHangupCall)

	// Strategy comparison
	s.mux.HandleFunc("POST /api/amd/compare", s.handleCompareStrategies)

	// Provider callbacks
	s.mux.HandleFunc("POST /api/twilio/webhook", s.handleTwilioWebhook)
	s.mux.HandleFunc("POST /api/twilio/twiml", s.handleTwiML)
	s.mux.HandleFunc("GET /api/twilio/twiml", s.handleTwiML)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Add CORS headers
	w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin(r.Header.Get("Origin")))
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.handler.ServeHTTP(w, r)
}

func (s *Server) allowOrigin(origin string) string {
	if len(s.origins) == 0 {
		return "*"
	}
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return origin
		}
	}
	return s.origins[0]
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// statusForError maps service errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, dialer.ErrInvalidRequest),
		errors.Is(err, telephony.ErrMissingCredentials),
		errors.Is(err, amd.ErrNoStrategies),
		errors.Is(err, amd.ErrInvalidStrategy):
		return http.StatusBadRequest
	case errors.Is(err, dialer.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, dialer.ErrProviderFailure):
		return http.StatusBadGateway
	}
	if quota.IsLimitExceeded(err) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
