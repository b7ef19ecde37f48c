// Package ordering implements the comparator that defines every ordered listing.
//
// Keyed records (those with a display order) come first, ascending by key. Un-keyed records
// follow, newest first. Any remaining tie is broken by ID so that every snapshot has exactly one
// order, whoever looks at it.
//
// The newest-first direction of the un-keyed partition is the opposite of the keyed partition.
// That asymmetry is how un-migrated collections have always been listed and it is kept as is.
package ordering

import (
	"fmt"
	"slices"
	"strings"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
)

// Compare orders two records of the same collection. It returns -1 when a sorts before b,
// 1 when after and 0 only when both are the same record.
//
// Comparing records of different collections is a caller error; the result is meaningless.
func Compare[P any](a, b models.Record[P]) int {
	ao, aKeyed := a.Order()
	bo, bKeyed := b.Order()

	switch {
	case aKeyed && !bKeyed:
		return -1
	case !aKeyed && bKeyed:
		return 1
	case aKeyed && bKeyed:
		if ao != bo {
			return cmpInt(ao, bo)
		}
	default:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			// newest first
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a.ID, b.ID)
}

// CompareCreation orders records oldest first, ties broken by ID. It is the order in which a
// backfill hands out keys.
func CompareCreation[P any](a, b models.Record[P]) int {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// Sort returns a copy of records sorted by Compare. It fails if the records do not all belong
// to one collection.
func Sort[P any](records []models.Record[P]) ([]models.Record[P], error) {
	return sortWith(records, Compare[P])
}

// SortByCreation returns a copy of records sorted by CompareCreation.
func SortByCreation[P any](records []models.Record[P]) ([]models.Record[P], error) {
	return sortWith(records, CompareCreation[P])
}

// IndexOf returns the position of the record with the given ID, or -1.
func IndexOf[P any](records []models.Record[P], id string) int {
	return slices.IndexFunc(records, func(r models.Record[P]) bool {
		return r.ID == id
	})
}

// MaxOrder returns the largest display order among keyed records and whether any is keyed.
func MaxOrder[P any](records []models.Record[P]) (int, bool) {
	found := false
	highest := 0
	for _, r := range records {
		if o, ok := r.Order(); ok && (!found || o > highest) {
			highest = o
			found = true
		}
	}
	return highest, found
}

func sortWith[P any](records []models.Record[P], cmp func(a, b models.Record[P]) int) ([]models.Record[P], error) {
	if err := checkCollection(records); err != nil {
		return nil, err
	}
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, cmp)
	return sorted, nil
}

func checkCollection[P any](records []models.Record[P]) error {
	for i := 1; i < len(records); i++ {
		if records[i].Collection != records[0].Collection {
			return fmt.Errorf("%w: %s and %s", constants.ErrMixedCollections, records[0].Collection, records[i].Collection)
		}
	}
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
