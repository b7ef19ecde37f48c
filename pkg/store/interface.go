// Package store defines the document store contract the curator runs against.
//
// The [Store] interface is deliberately small: a one-shot query of a whole collection, a live
// subscription that pushes the whole collection on every change, a partial field update and the
// create/delete pair used by the CRUD layer. It offers no multi-document transaction. Everything
// this module does on top of it (moves, backfills, repairs) is therefore a sequence of independent
// single-record writes, and the callers report which of them landed instead of pretending they are
// atomic.
//
// # Implementations
//
//   - [github.com/portfoliokit/curator/pkg/store/surrealdb.Store]: SurrealDB, with live queries
//     driving Subscribe
//   - [github.com/portfoliokit/curator/pkg/store/gormstore.Store]: PostgreSQL or MySQL through GORM,
//     with Subscribe implemented by polling
//   - [github.com/portfoliokit/curator/internal/memstore.Store]: in-process, used by tests and the
//     memory backend
//
// [ReadOnlyStore] wraps any of them and refuses writes while a switch is on.
//
// # Consistency Model
//
// Writes are last-writer-wins per field. A write and the next subscription push are not ordered
// with respect to each other: a push may arrive before the write is acknowledged, or long after.
// Callers that need to observe their own write immediately call QueryAll rather than waiting.
package store

import (
	"context"

	"github.com/portfoliokit/curator/pkg/models"
)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the document store contract for one payload type.
type Store[P any] interface {
	// QueryAll fetches every record of the collection, in no particular order.
	QueryAll(ctx context.Context, collection models.CollectionType) ([]models.Record[P], error)

	// Subscribe starts a live subscription to the collection.
	//
	// onUpdate receives the full current record set. It is called once with the current set
	// before Subscribe returns, and again after every change the store observes, whether made
	// by this process or another one. onError receives failures of the live channel after the
	// subscription was established; the subscription may be dead after it is called.
	//
	// The context bounds only the establishment of the subscription. The subscription itself
	// lives until the returned Unsubscribe is called or the store is closed.
	Subscribe(
		ctx context.Context,
		collection models.CollectionType,
		onUpdate func([]models.Record[P]),
		onError func(error),
	) (Unsubscribe, error)

	// UpdateFields applies a partial update to one record. Only the fields present are changed.
	//
	// Implementations may restrict the set of updatable fields; the curator itself only ever
	// writes models.FieldDisplayOrder.
	UpdateFields(ctx context.Context, collection models.CollectionType, id string, fields models.Fields) error

	// Create stores a new un-keyed record and returns it with its assigned ID and CreatedAt.
	Create(ctx context.Context, collection models.CollectionType, payload P) (*models.Record[P], error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, collection models.CollectionType, id string) error

	// Close releases the store's resources and ends its subscriptions.
	Close() error
}
