package store

import (
	"context"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
)

// ReadOnlyStore wraps a Store and refuses write operations while isReadOnly returns true.
//
// Listings keep working: QueryAll and Subscribe pass straight through. It is used to freeze a
// collection's key space, for example while an operator inspects an audit report before deciding
// between a repair and a backfill.
//
// The read-only state is evaluated on every call, so it can be toggled without recreating the
// store.
type ReadOnlyStore[P any] struct {
	Store[P]
	isReadOnly func() bool
}

// NewReadOnlyStore creates a read-only wrapper for a store.
func NewReadOnlyStore[P any](s Store[P], isReadOnly func() bool) *ReadOnlyStore[P] {
	return &ReadOnlyStore[P]{
		Store:      s,
		isReadOnly: isReadOnly,
	}
}

// Unwrap returns the underlying store.
func (r *ReadOnlyStore[P]) Unwrap() Store[P] {
	return r.Store
}

func (r *ReadOnlyStore[P]) checkReadOnly() error {
	if r.isReadOnly() {
		return constants.ErrReadOnly
	}
	return nil
}

func (r *ReadOnlyStore[P]) UpdateFields(ctx context.Context, collection models.CollectionType, id string, fields models.Fields) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.UpdateFields(ctx, collection, id, fields)
}

func (r *ReadOnlyStore[P]) Create(ctx context.Context, collection models.CollectionType, payload P) (*models.Record[P], error) {
	if err := r.checkReadOnly(); err != nil {
		return nil, err
	}
	return r.Store.Create(ctx, collection, payload)
}

func (r *ReadOnlyStore[P]) Delete(ctx context.Context, collection models.CollectionType, id string) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.Delete(ctx, collection, id)
}
