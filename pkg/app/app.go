// Package app assembles a curator process from its configuration: the store backend, one curator
// per collection type, metrics, the audit job and the HTTP server.
//
// The store backend is one of:
//   - surrealdb: one SurrealDB connection shared by all collections, live queries for updates
//   - postgres, mysql: one GORM connection, polling for updates
//   - memory: in-process and empty at start, for demos
//
// Every store is wrapped in a store.ReadOnlyStore driven by [App.IsReadOnly].
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/portfoliokit/curator"
	"github.com/portfoliokit/curator/internal/memstore"
	"github.com/portfoliokit/curator/pkg/config"
	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/metrics"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/store"
	"github.com/portfoliokit/curator/pkg/store/gormstore"
	"github.com/portfoliokit/curator/pkg/store/surrealdb"
)

// App holds the running state of a curator process.
type App struct {
	config   *config.Config
	logger   zerolog.Logger
	registry *curator.Registry
	metrics  *metrics.Metrics
	prom     *prometheus.Registry
	readOnly atomic.Bool
	closers  []func() error
}

// New connects to the configured backend and registers a curator for every configured
// collection type. The curators are not started.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, msg := range cfg.WarningMsgs {
		logger.Warn().Msg(msg)
	}

	a := &App{
		config:   cfg,
		logger:   logger,
		registry: curator.NewRegistry(),
		metrics:  metrics.New(),
		prom:     prometheus.NewRegistry(),
	}
	a.readOnly.Store(cfg.Server.ReadOnly)
	a.metrics.MustRegister(a.prom)
	a.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	types, err := cfg.CollectionTypes()
	if err != nil {
		return nil, err
	}
	if err := a.openBackend(ctx, types); err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Info().
		Str("backend", cfg.Backend).
		Bool("readOnly", cfg.Server.ReadOnly).
		Int("collections", len(types)).
		Msg("curator initialized")
	return a, nil
}

// stores builds the store of each payload type from a backend connection.
type stores struct {
	projects   store.Store[models.Project]
	hackathons store.Store[models.Hackathon]
	blogs      store.Store[models.BlogPost]
}

func (a *App) openBackend(ctx context.Context, types []models.CollectionType) error {
	var s stores
	switch a.config.Backend {
	case constants.BackendSurrealDB:
		sc := a.config.SurrealDB
		conn, err := surrealdb.Open(ctx, surrealdb.Config{
			URL:       sc.URL,
			Namespace: sc.Namespace,
			Database:  sc.Database,
			Username:  sc.Username,
			Password:  sc.Password,
		}, a.logger.With().Str("component", "surrealdb").Logger())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		s = stores{
			projects:   surrealdb.NewStore[models.Project](conn),
			hackathons: surrealdb.NewStore[models.Hackathon](conn),
			blogs:      surrealdb.NewStore[models.BlogPost](conn),
		}

	case constants.BackendPostgres, constants.BackendMySQL:
		db, err := gormstore.Open(gormstore.Config{
			Backend:      a.config.Backend,
			DSN:          a.config.SQL.DSN,
			PollInterval: a.config.PollInterval,
		}, a.logger.With().Str("component", "gormstore").Logger())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		s = stores{
			projects:   gormstore.NewStore[models.Project](db),
			hackathons: gormstore.NewStore[models.Hackathon](db),
			blogs:      gormstore.NewStore[models.BlogPost](db),
		}

	case constants.BackendMemory:
		s = stores{
			projects:   memstore.New[models.Project](),
			hackathons: memstore.New[models.Hackathon](),
			blogs:      memstore.New[models.BlogPost](),
		}

	default:
		return fmt.Errorf("unknown backend %q", a.config.Backend)
	}

	for _, t := range types {
		var err error
		switch t {
		case models.CollectionProject:
			err = register(a, t, s.projects)
		case models.CollectionHackathon:
			err = register(a, t, s.hackathons)
		case models.CollectionBlog:
			err = register(a, t, s.blogs)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func register[P any](a *App, t models.CollectionType, s store.Store[P]) error {
	a.closers = append(a.closers, s.Close)
	opts := []curator.Option{
		curator.WithLogger(a.logger.With().Str("component", "curator").Logger()),
		curator.WithMetrics(a.metrics),
	}
	if !a.config.RefreshAfterMove {
		opts = append(opts, curator.WithoutRefresh())
	}
	return a.registry.Register(curator.New[P](store.NewReadOnlyStore(s, a.IsReadOnly), t, opts...))
}

// Registry returns the registered collections.
func (a *App) Registry() *curator.Registry {
	return a.registry
}

func (a *App) IsReadOnly() bool {
	return a.readOnly.Load()
}

// SetReadOnly switches read-only mode at runtime.
func (a *App) SetReadOnly(readOnly bool) {
	a.readOnly.Store(readOnly)
	a.logger.Info().Bool("readOnly", readOnly).Msg("read-only mode changed")
}

// Close stops every collection and closes the stores and backend connections, in reverse order
// of opening.
func (a *App) Close() error {
	a.registry.StopAll()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
