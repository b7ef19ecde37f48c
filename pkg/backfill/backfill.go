// Package backfill rebuilds a collection's display order key space.
//
// Initialize assigns dense keys 0..N-1 in creation order and discards any curated order. It is
// meant to run once per collection, before administrators start moving records.
//
// Repair also produces dense keys, but follows the current listing order, so curation survives.
// It only writes records whose key changes, which makes it safe to run again after a move that
// landed half-way or after two administrators raced each other.
//
// Both read straight from the store rather than from a view and never roll back: when some
// writes fail the error is a *constants.PartialFailureError and the successful writes stay.
package backfill

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/ordering"
	"github.com/portfoliokit/curator/pkg/store"
)

// Result reports the writes of an Initialize or Repair run.
type Result struct {
	Collection models.CollectionType `json:"collection"`
	// Count is the number of records successfully written.
	Count int `json:"count"`
	// Unchanged is the number of records Repair skipped because their key was already right.
	Unchanged int `json:"unchanged"`
	// Failed lists the records whose write was rejected.
	Failed []string `json:"failed,omitempty"`
}

// Option configures Initialize and Repair.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	// onWrite is called after every attempted write.
	onWrite func(ok bool)
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWriteHook registers a function called after every attempted write with its outcome.
func WithWriteHook(fn func(ok bool)) Option {
	return func(o *options) {
		o.onWrite = fn
	}
}

// Assignment is one planned key write.
type Assignment struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Initialize keys every record of the collection by creation order, oldest first, ties broken by
// ID. Records that already carry a key are overwritten.
func Initialize[P any](ctx context.Context, s store.Store[P], collection models.CollectionType, opts ...Option) (Result, error) {
	o := newOptions(opts)

	records, err := fetch(ctx, s, collection)
	if err != nil {
		return Result{Collection: collection}, err
	}
	sorted, err := ordering.SortByCreation(records)
	if err != nil {
		return Result{Collection: collection}, err
	}

	plan := make([]Assignment, len(sorted))
	for i, r := range sorted {
		plan[i] = Assignment{ID: r.ID, Order: i}
	}

	res, err := apply(ctx, s, collection, plan, o)
	o.logger.Info().
		Str("collection", string(collection)).
		Int("count", res.Count).
		Int("failed", len(res.Failed)).
		Msg("backfill finished")
	return res, err
}

// Repair rewrites the keys of the collection to 0..N-1 in the order the listing currently shows.
// Records whose key already matches are not written, so a second run writes nothing.
func Repair[P any](ctx context.Context, s store.Store[P], collection models.CollectionType, opts ...Option) (Result, error) {
	o := newOptions(opts)

	records, err := fetch(ctx, s, collection)
	if err != nil {
		return Result{Collection: collection}, err
	}
	plan, unchanged, err := RepairPlan(records)
	if err != nil {
		return Result{Collection: collection}, err
	}

	res, err := apply(ctx, s, collection, plan, o)
	res.Unchanged = unchanged
	o.logger.Info().
		Str("collection", string(collection)).
		Int("count", res.Count).
		Int("unchanged", unchanged).
		Int("failed", len(res.Failed)).
		Msg("repair finished")
	return res, err
}

// RepairPlan returns the key each record must receive for the listing order to be dense, skipping
// records that already hold it, and the number skipped.
func RepairPlan[P any](records []models.Record[P]) ([]Assignment, int, error) {
	sorted, err := ordering.Sort(records)
	if err != nil {
		return nil, 0, err
	}
	var (
		plan      []Assignment
		unchanged int
	)
	for i, r := range sorted {
		if o, ok := r.Order(); ok && o == i {
			unchanged++
			continue
		}
		plan = append(plan, Assignment{ID: r.ID, Order: i})
	}
	return plan, unchanged, nil
}

func newOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func fetch[P any](ctx context.Context, s store.Store[P], collection models.CollectionType) ([]models.Record[P], error) {
	records, err := s.QueryAll(ctx, collection)
	if err != nil {
		return nil, &constants.SyncError{Collection: string(collection), Op: "query", Err: err}
	}
	for i := range records {
		if records[i].Collection == "" {
			records[i].Collection = collection
		}
	}
	return records, nil
}

// apply writes the plan sequentially and keeps going past failures.
func apply[P any](ctx context.Context, s store.Store[P], collection models.CollectionType, plan []Assignment, o options) (Result, error) {
	res := Result{Collection: collection}
	var (
		succeeded []string
		failed    []constants.WriteFailure
	)
	for _, a := range plan {
		err := s.UpdateFields(ctx, collection, a.ID, models.OrderFields(a.Order))
		if o.onWrite != nil {
			o.onWrite(err == nil)
		}
		if err != nil {
			o.logger.Warn().Err(err).
				Str("collection", string(collection)).
				Str("id", a.ID).
				Int("order", a.Order).
				Msg("order key write failed")
			failed = append(failed, constants.WriteFailure{ID: a.ID, Err: err})
			res.Failed = append(res.Failed, a.ID)
			continue
		}
		succeeded = append(succeeded, a.ID)
	}
	res.Count = len(succeeded)

	if len(failed) > 0 {
		return res, &constants.PartialFailureError{
			Collection: string(collection),
			Succeeded:  succeeded,
			Failed:     failed,
		}
	}
	return res, nil
}
