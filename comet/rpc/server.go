// Package rpc serves the router network over HTTP.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Cogwheel-Validator/comet-router/comet/config"
)

var Logger zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Address        string
	AllowedOrigins []string
	EnableMetrics  bool
	RatePerMinute  *int
	Burst          *int
	OTelConfig     *OTelConfig
}

func DefaultServerConfig() *ServerConfig {
	rateLimit := 100
	burst := 200
	return &ServerConfig{
		Address:        "localhost:8080",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
		EnableMetrics:  true,
		RatePerMinute:  &rateLimit,
		Burst:          &burst,
		OTelConfig:     DefaultOTelConfig(),
	}
}

// ServerConfigFrom builds the server settings from the service config.
func ServerConfigFrom(c *config.RPCCometConfig) *ServerConfig {
	rate := c.RatePerMinute
	burst := c.MaxConcurrentRequests
	return &ServerConfig{
		Address:        fmt.Sprintf("%s:%d", c.Host, c.Port),
		AllowedOrigins: c.AllowedOrigins,
		EnableMetrics:  c.EnableMetrics || c.UsePrometheus,
		RatePerMinute:  &rate,
		Burst:          &burst,
		OTelConfig:     OTelConfigFrom(c),
	}
}

// Server wraps the HTTP server and provides lifecycle management
type Server struct {
	config       *ServerConfig
	httpServer   *http.Server
	handler      http.Handler
	otelShutdown func(context.Context) error
}

func NewServer(ctx context.Context, cfg *ServerConfig, svc *Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if svc == nil || svc.Network == nil {
		return nil, errors.New("server needs a booted network")
	}

	var otelShutdown func(context.Context) error
	if cfg.OTelConfig.enabled() {
		shutdown, err := NewOTelSDK(ctx, cfg.OTelConfig)
		if err != nil {
			// serve without telemetry rather than not at all
			Logger.Error().Err(err).Msg("Failed to initialize OpenTelemetry")
		} else {
			otelShutdown = shutdown
		}
	}

	mux := chi.NewMux()
	mux.Use(realIPMiddleware)
	mux.Use(middleware.RequestID)
	mux.Use(zerologMiddleware)
	mux.Use(zerologRecoverer)
	mux.Use(middleware.Compress(5))
	mux.Use(middleware.Timeout(60 * time.Second))

	if cfg.OTelConfig != nil && cfg.OTelConfig.EnableTracing {
		mux.Use(otelHTTPMiddleware)
	}
	if cfg.RatePerMinute != nil && *cfg.RatePerMinute > 0 {
		mux.Use(httprate.LimitByIP(*cfg.RatePerMinute, time.Minute))
	}
	if cfg.Burst != nil && *cfg.Burst > 0 {
		mux.Use(middleware.Throttle(*cfg.Burst))
	}

	if cfg.EnableMetrics {
		var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
		if svc.Metrics != nil {
			gatherer = svc.Metrics.Gatherer()
		}
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "comet-router"})
	})
	mux.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if len(svc.Network.VM.Accounts()) == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "booting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Route("/v1", svc.routes)

	handler := newCORSHandler(cfg.AllowedOrigins, mux)
	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      70 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		config:       cfg,
		httpServer:   httpServer,
		handler:      httpServer.Handler,
		otelShutdown: otelShutdown,
	}, nil
}

// Handler is the full middleware stack, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving without TLS
func (s *Server) Start() error {
	s.logServerInfo("http")
	return s.httpServer.ListenAndServe()
}

// StartTLS begins serving with TLS
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.logServerInfo("https")
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) logServerInfo(protocol string) {
	Logger.Info().
		Str("address", s.config.Address).
		Str("protocol", protocol).
		Msg("Comet router server starting")

	Logger.Info().Msg("Available endpoints:")
	Logger.Info().Msg("\tAPI: /v1/*")
	Logger.Info().Msg("\tHealth: /health")
	Logger.Info().Msg("\tReady: /ready")
	if s.config.EnableMetrics {
		Logger.Info().Msg("\tMetrics: /metrics")
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	Logger.Info().Msg("Shutting down server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		Logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	if s.otelShutdown != nil {
		if err := s.otelShutdown(ctx); err != nil {
			Logger.Error().Err(err).Msg("Error shutting down OpenTelemetry")
			return err
		}
	}

	Logger.Info().Msg("Server shutdown complete")
	return nil
}
