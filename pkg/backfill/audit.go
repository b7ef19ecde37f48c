package backfill

import (
	"context"
	"maps"
	"slices"

	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/store"
)

// Report describes the state of a collection's key space.
type Report struct {
	Collection models.CollectionType `json:"collection"`
	Total      int                   `json:"total"`
	Keyed      int                   `json:"keyed"`
	Unkeyed    int                   `json:"unkeyed"`
	// Duplicates maps every key held by more than one record to those records, sorted by ID.
	Duplicates map[int][]string `json:"duplicates,omitempty"`
	// Gaps lists the runs of missing keys between 0 and the highest key, in ascending order.
	Gaps []Gap `json:"gaps,omitempty"`
	// Missing is the number of keys in Gaps.
	Missing int `json:"missing"`
	// Dense is true when the keyed records hold exactly 0..Keyed-1.
	Dense bool `json:"dense"`
	// Pending is the number of writes a Repair would issue.
	Pending int `json:"pending"`
}

// Gap is a run of unused keys, both ends included.
type Gap struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Len returns the number of keys in the gap.
func (g Gap) Len() int {
	return g.To - g.From + 1
}

// Unmigrated reports whether no record carries a key yet. Such a collection is listed by creation
// date until it is backfilled.
func (r Report) Unmigrated() bool {
	return r.Total > 0 && r.Keyed == 0
}

// Healthy reports whether the keys need no repair. A collection that was never backfilled is
// healthy.
func (r Report) Healthy() bool {
	return r.Pending == 0 || r.Unmigrated()
}

// Audit inspects records without writing anything.
func Audit[P any](collection models.CollectionType, records []models.Record[P]) (Report, error) {
	rep := Report{Collection: collection, Total: len(records)}

	holders := map[int][]string{}
	for _, r := range records {
		o, ok := r.Order()
		if !ok {
			rep.Unkeyed++
			continue
		}
		rep.Keyed++
		holders[o] = append(holders[o], r.ID)
	}

	for key, ids := range holders {
		if len(ids) < 2 {
			continue
		}
		if rep.Duplicates == nil {
			rep.Duplicates = map[int][]string{}
		}
		slices.Sort(ids)
		rep.Duplicates[key] = ids
	}
	keys := slices.Sorted(maps.Keys(holders))
	next := 0
	for _, key := range keys {
		if key < 0 {
			continue
		}
		if key > next {
			gap := Gap{From: next, To: key - 1}
			rep.Gaps = append(rep.Gaps, gap)
			rep.Missing += gap.Len()
		}
		// the highest key is last, so next never wraps into use
		next = key + 1
	}
	rep.Dense = len(rep.Duplicates) == 0 && len(rep.Gaps) == 0 && (len(keys) == 0 || keys[0] >= 0)

	plan, _, err := RepairPlan(records)
	if err != nil {
		return Report{}, err
	}
	rep.Pending = len(plan)
	return rep, nil
}

// AuditStore fetches the collection from the store and audits it.
func AuditStore[P any](ctx context.Context, s store.Store[P], collection models.CollectionType) (Report, error) {
	records, err := fetch(ctx, s, collection)
	if err != nil {
		return Report{Collection: collection}, err
	}
	return Audit(collection, records)
}
