// Package api exposes the read-only presentation surface: snapshot
// and trend JSON, CSV download, a WebSocket live feed, health, and the
// refresh/cache-clear triggers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/metrics"
	"github.com/floodline/gaugewatch/internal/scheduler"
	"github.com/floodline/gaugewatch/internal/store"
)

// Controller is the slice of the scheduler the handlers drive.
type Controller interface {
	State() scheduler.State
	LastResult() (scheduler.TickResult, bool)
	RequestRefresh()
	ForceRefresh()
	InvalidateCache()
}

// StoreHealth reports the store client's condition for /health.
type StoreHealth interface {
	Health() store.Health
}

// Config holds the HTTP server settings. The default bind is loopback
// only; exposing the port is a deployment decision.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wires the router, middleware, and handlers.
type Server struct {
	cfg         Config
	router      *mux.Router
	server      *http.Server
	control     Controller
	storeHealth StoreHealth
	metrics     *metrics.Registry
	hub         *Hub
	started     time.Time
}

// NewServer builds the server. storeHealth and reg may be nil; the
// corresponding surfaces degrade gracefully.
func NewServer(cfg Config, control Controller, storeHealth StoreHealth, reg *metrics.Registry) *Server {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8090"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		cfg:         cfg,
		router:      mux.NewRouter(),
		control:     control,
		storeHealth: storeHealth,
		metrics:     reg,
		hub:         NewHub(),
		started:     time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/trend", s.handleTrend).Methods(http.MethodGet)
	v1.HandleFunc("/series.csv", s.handleSeriesCSV).Methods(http.MethodGet)
	v1.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/cache/clear", s.handleCacheClear).Methods(http.MethodPost)
	v1.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)
}

// Hub returns the WebSocket hub so it can be registered as a snapshot
// sink.
func (s *Server) Hub() *Hub { return s.hub }

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	log.Info().Str("listen", s.cfg.Listen).Msg("API server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains connections and closes the live feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.server == nil {
		return nil
	}
	log.Info().Msg("API server shutting down")
	return s.server.Shutdown(ctx)
}

// requestIDMiddleware tags each request with a short ID for log
// correlation.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), requestID)))
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// statusRecorder captures the response code for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The live feed hijacks the connection; a wrapped writer would
		// break the upgrade.
		if r.URL.Path == "/v1/live" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}
