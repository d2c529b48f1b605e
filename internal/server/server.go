// Package server exposes the table API, probes and metrics over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/config"
	"github.com/devrev/otree/internal/handler"
	"github.com/devrev/otree/internal/health"
	"github.com/devrev/otree/internal/metrics"
)

// Server represents the HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	tables     *handler.TableHandler
	health     *health.HealthChecker
	gatherer   prometheus.Gatherer
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        *config.Config
}

// NewServer creates a new HTTP server and registers its routes. gatherer may be
// nil when metrics are disabled.
func NewServer(
	cfg *config.Config,
	tables *handler.TableHandler,
	checker *health.HealthChecker,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		tables:   tables,
		health:   checker,
		gatherer: gatherer,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		Recovery(s.logger),
		RequestID,
		Logging(s.logger, s.metrics),
	}
	if s.cfg.RateLimit.Enabled {
		limiter := NewRateLimiter(s.cfg.RateLimit.RequestsPerSecond, s.cfg.RateLimit.Burst, s.logger)
		middlewareChain = append(middlewareChain, limiter.Limit)
	}
	chain := Chain(middlewareChain...)

	s.router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)
	if s.cfg.Metrics.Enabled && s.gatherer != nil {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(func(next http.Handler) http.Handler { return chain(next) })

	tables := v1.PathPrefix("/tables/{table}").Subrouter()
	tables.HandleFunc("/save", s.tables.Save).Methods(http.MethodPost)
	tables.HandleFunc("/status", s.tables.Status).Methods(http.MethodGet)
	tables.HandleFunc("/revisions", s.tables.Revisions).Methods(http.MethodGet)
	tables.HandleFunc("/revisions/{id:[0-9]+}/status", s.tables.RevisionStatus).Methods(http.MethodGet)
	tables.HandleFunc("/query", s.tables.Query).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":"error","error_code":"InvalidArgument","message":%q}`, message)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown takes the server out of rotation and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.health.SetReadiness(false)
	return s.httpServer.Shutdown(ctx)
}
