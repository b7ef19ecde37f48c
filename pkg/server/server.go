// Package server exposes the curator over HTTP.
//
// # API Endpoints
//
//	GET    /health, /api/health                                  - service and view status
//	GET    /api/collections                                      - registered collection types
//	GET    /api/collections/{type}/records                       - ordered listing
//	POST   /api/collections/{type}/records                       - create an un-keyed record
//	DELETE /api/collections/{type}/records/{id}                  - delete a record
//	POST   /api/collections/{type}/records/{id}/move/{direction} - move up or down
//	POST   /api/collections/{type}/initialize                    - backfill keys by creation date
//	POST   /api/collections/{type}/repair                        - re-densify keys, keeping order
//	GET    /api/collections/{type}/audit                         - key space report
//	POST   /api/collections/{type}/refresh                       - re-fetch from the store
//	GET    /api/collections/{type}/watch                         - websocket stream of listings
//	GET    /metrics                                              - prometheus metrics
//
// {type} accepts the collection type or its table name, for example project or projects.
//
// Every mutating endpoint answers 403 while the server is read-only. After a failed mutation the
// collection is re-fetched so the next listing shows what actually landed in the store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/portfoliokit/curator"
	"github.com/portfoliokit/curator/pkg/constants"
)

// Server serves the admin API of a registry of collections.
type Server struct {
	registry *curator.Registry
	logger   zerolog.Logger
	gatherer prometheus.Gatherer
	readOnly func() bool
	upgrader websocket.Upgrader
	ping     time.Duration
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer serves metrics from g instead of the default prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithReadOnly makes mutating endpoints fail with 403 while isReadOnly returns true.
func WithReadOnly(isReadOnly func() bool) Option {
	return func(s *Server) {
		s.readOnly = isReadOnly
	}
}

func New(registry *curator.Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		logger:   zerolog.Nop(),
		gatherer: prometheus.DefaultGatherer,
		readOnly: func() bool { return false },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		ping: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler with every route registered.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// a method mismatch inside a subrouter is only reported when the subrouter has its own handler
	api := router.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = router.MethodNotAllowedHandler
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/collections", s.handleCollections).Methods(http.MethodGet)

	c := api.PathPrefix("/collections/{type}").Subrouter()
	c.MethodNotAllowedHandler = router.MethodNotAllowedHandler
	c.HandleFunc("/records", s.handleListing).Methods(http.MethodGet)
	c.HandleFunc("/records", s.writable(s.handleCreate)).Methods(http.MethodPost)
	c.HandleFunc("/records/{id}", s.writable(s.handleDelete)).Methods(http.MethodDelete)
	c.HandleFunc("/records/{id}/move/{direction}", s.writable(s.handleMove)).Methods(http.MethodPost)
	c.HandleFunc("/initialize", s.writable(s.handleInitialize)).Methods(http.MethodPost)
	c.HandleFunc("/repair", s.writable(s.handleRepair)).Methods(http.MethodPost)
	c.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	c.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	c.HandleFunc("/watch", s.handleWatch).Methods(http.MethodGet)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully, allowing
// active requests up to shutdownTimeout to complete.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	s.logger.Info().Str("addr", addr).Msg("starting curator server")

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-serverErr:
		return err
	}
}

func (s *Server) writable(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.readOnly() {
			respondError(w, http.StatusForbidden, constants.ErrReadOnly.Error())
			return
		}
		next(w, r)
	}
}

func (s *Server) collection(w http.ResponseWriter, r *http.Request) (curator.Collection, bool) {
	c, err := s.registry.Lookup(mux.Vars(r)["type"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return c, true
}
