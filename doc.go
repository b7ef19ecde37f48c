// Package curator maintains a curated display order over live collections of portfolio content.
//
// Each collection (projects, hackathon write-ups, blog posts) is ordered independently. Records
// carry an optional integer displayOrder key; keyed records are listed first in ascending key
// order, followed by un-keyed records newest first. Administrators move a record one position up
// or down, which swaps its key with its neighbour's; when both share a key, the pair is given
// distinct keys instead. A backfill assigns dense keys to a whole collection by creation date,
// and a repair re-densifies keys while keeping the curated order.
//
// A [Curator] ties the pieces together for one collection: a synced view (package view) fed by a
// store subscription, the move operation (package reorder) and the backfill operations (package
// backfill). A [Registry] holds one [Collection] per collection type for the HTTP server and the
// command line.
//
// # Consistency
//
// The store offers no transactions. A move is two independent writes; if one of them is rejected
// the move reports which write landed and leaves the collection with a duplicate key, which the
// comparator still orders deterministically and [Curator.Repair] removes.
//
// # Example
//
//	s := memstore.New[models.Project]()
//	c := curator.New[models.Project](s, models.CollectionProject)
//	if err := c.Start(ctx); err != nil {
//		return err
//	}
//	defer c.Stop()
//
//	res, err := c.Move(ctx, id, models.Up)
package curator
