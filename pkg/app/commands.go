package app

import (
	"context"
	"fmt"

	"github.com/portfoliokit/curator"
	"github.com/portfoliokit/curator/pkg/backfill"
	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/jobs"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/server"
)

// Run starts every collection, the audit job and the HTTP server, and blocks until ctx is
// cancelled or the server fails. Collections that fail to start are served empty and reported
// by the health endpoint until a refresh succeeds.
func (a *App) Run(ctx context.Context) error {
	if err := a.registry.StartAll(ctx); err != nil {
		a.logger.Error().Err(err).Msg("some collections failed to start")
	}
	defer a.registry.StopAll()

	if a.config.Audit.Enabled {
		var auditable []jobs.Auditable
		for _, t := range a.registry.Types() {
			c, err := a.registry.Get(t)
			if err != nil {
				return err
			}
			auditable = append(auditable, c)
		}
		auditor := jobs.NewAuditor(a.config.Audit.Interval, a.logger.With().Str("component", "audit").Logger(), auditable...)
		if err := auditor.Start(); err != nil {
			return err
		}
		defer auditor.Stop()
	}

	srv := server.New(a.registry,
		server.WithLogger(a.logger.With().Str("component", "server").Logger()),
		server.WithGatherer(a.prom),
		server.WithReadOnly(a.IsReadOnly),
	)
	return srv.ListenAndServe(ctx, ":"+a.config.Server.Port, a.config.Server.ShutdownTimeout)
}

// Initialize keys a collection by creation date, discarding any curation.
func (a *App) Initialize(ctx context.Context, collection string) (backfill.Result, error) {
	c, err := a.writable(collection)
	if err != nil {
		return backfill.Result{}, err
	}
	return c.Initialize(ctx)
}

// Repair makes the keys of a collection dense, keeping its order.
func (a *App) Repair(ctx context.Context, collection string) (backfill.Result, error) {
	c, err := a.writable(collection)
	if err != nil {
		return backfill.Result{}, err
	}
	return c.Repair(ctx)
}

func (a *App) Audit(ctx context.Context, collection string) (backfill.Report, error) {
	c, err := a.registry.Lookup(collection)
	if err != nil {
		return backfill.Report{}, err
	}
	return c.Audit(ctx)
}

// List returns the ordered listing of a collection.
func (a *App) List(ctx context.Context, collection string) ([]curator.Entry, error) {
	c, err := a.started(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer c.Stop()
	return c.Listing(), nil
}

// Move moves one record of a collection up or down.
func (a *App) Move(ctx context.Context, collection, id, direction string) (curator.MoveResult, error) {
	dir, err := models.ParseDirection(direction)
	if err != nil {
		return curator.MoveResult{}, err
	}
	if _, err := a.writable(collection); err != nil {
		return curator.MoveResult{}, err
	}
	c, err := a.started(ctx, collection)
	if err != nil {
		return curator.MoveResult{}, err
	}
	defer c.Stop()
	return c.Move(ctx, id, dir)
}

func (a *App) writable(collection string) (curator.Collection, error) {
	c, err := a.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	if a.IsReadOnly() {
		return nil, fmt.Errorf("%s: %w", c.Type(), constants.ErrReadOnly)
	}
	return c, nil
}

func (a *App) started(ctx context.Context, collection string) (curator.Collection, error) {
	c, err := a.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
