// Package httpapi serves grimoire operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/roach88/grimoire/internal/app"
)

// ShutdownTimeout bounds how long in-flight requests may run after the
// server is asked to stop.
const ShutdownTimeout = 5 * time.Second

// Server routes requests to an App.
type Server struct {
	app      *app.App
	router   *mux.Router
	metrics  *Metrics
	registry *prometheus.Registry
	log      zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRegistry sets the registry metrics are registered with and served
// from.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New builds a Server and its routes.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{app: a, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)

	r := mux.NewRouter()
	r.Use(s.metrics.middleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/backup", s.handleBackup).Methods(http.MethodPost)
	r.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)
	r.HandleFunc("/normalize", s.handleNormalize).Methods(http.MethodPost)
	r.HandleFunc("/reconcile/{collection}", s.handleReconcile).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	integ := r.PathPrefix("/integrity").Subrouter()
	integ.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	integ.HandleFunc("/duplicates", s.handleDuplicates).Methods(http.MethodGet)
	integ.HandleFunc("/repair-links", s.handleRepairLinks).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	s.log.Info().Str("addr", addr).Msg("listening")

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
