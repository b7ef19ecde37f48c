// Package reorder moves a record one position up or down in its collection's listing.
//
// A move is an adjacent swap computed over the view's current ordered snapshot, applied as two
// independent field updates. The store offers no transaction, so a move can land half-way: the
// returned error lists which update was applied and which was rejected, and nothing is rolled
// back. A later move or a repair fixes the key space.
package reorder

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/ordering"
	"github.com/portfoliokit/curator/pkg/store"
)

// Outcome is the result of a move that did not fail.
type Outcome string

const (
	// OutcomeSwapped means both records were written so that they exchange positions.
	OutcomeSwapped Outcome = "swapped"
	// OutcomeNoOp means the record already was at the boundary in the requested direction.
	OutcomeNoOp Outcome = "noop"
)

// Snapshotter is the part of a view a move reads from.
type Snapshotter[P any] interface {
	Collection() models.CollectionType
	OrderedSnapshot() []models.Record[P]
	Refresh(ctx context.Context) error
}

// Result describes a move. On a partial write failure it is returned alongside the error.
type Result[P any] struct {
	Outcome Outcome
	// Record is the moved record as it was in the snapshot.
	Record models.Record[P]
	// Target is the neighbour it swapped with. Nil for OutcomeNoOp.
	Target *models.Record[P]
	// RecordOrder and TargetOrder are the keys written to Record and Target.
	RecordOrder int
	TargetOrder int
	// Stale is set when the writes landed but the view could not be refreshed afterwards.
	Stale bool
}

// Mover performs moves for one collection.
type Mover[P any] struct {
	store   store.Store[P]
	view    Snapshotter[P]
	logger  zerolog.Logger
	refresh bool
}

// Option configures a Mover.
type Option func(*config)

type config struct {
	logger  zerolog.Logger
	refresh bool
}

// WithLogger sets the logger used to report moves.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithoutRefresh skips the explicit refresh after the writes. The view then catches up through
// its subscription.
func WithoutRefresh() Option {
	return func(c *config) {
		c.refresh = false
	}
}

func New[P any](s store.Store[P], view Snapshotter[P], opts ...Option) *Mover[P] {
	c := config{logger: zerolog.Nop(), refresh: true}
	for _, opt := range opts {
		opt(&c)
	}
	return &Mover[P]{
		store:   s,
		view:    view,
		logger:  c.logger,
		refresh: c.refresh,
	}
}

// Move swaps the record with its neighbour in the given direction.
//
// A record missing from the snapshot fails with constants.ErrNotFound. A record already at the
// boundary yields OutcomeNoOp and writes nothing. If the store rejects either update the error is
// a *constants.StoreWriteFailedError; the other update is still attempted. When no key is left
// above the highest one, the move fails with constants.ErrKeySpaceExhausted before writing.
func (m *Mover[P]) Move(ctx context.Context, id string, direction models.Direction) (Result[P], error) {
	collection := m.view.Collection()
	snapshot := m.view.OrderedSnapshot()

	i := ordering.IndexOf(snapshot, id)
	if i < 0 {
		return Result[P]{}, fmt.Errorf("%s:%s: %w", collection, id, constants.ErrNotFound)
	}
	record := snapshot[i]

	j := i + direction.Step()
	if j < 0 || j >= len(snapshot) {
		m.logger.Debug().
			Str("collection", string(collection)).
			Str("id", id).
			Str("direction", string(direction)).
			Msg("move at boundary")
		return Result[P]{Outcome: OutcomeNoOp, Record: record}, nil
	}
	target := snapshot[j]

	a, b, err := swapKeys(snapshot, i, j)
	if err != nil {
		return Result[P]{}, fmt.Errorf("%s:%s: %w", collection, id, err)
	}
	res := Result[P]{
		Outcome:     OutcomeSwapped,
		Record:      record,
		Target:      &target,
		RecordOrder: b,
		TargetOrder: a,
	}

	var (
		applied []string
		failed  []constants.WriteFailure
	)
	for _, w := range []struct {
		id    string
		order int
	}{
		{record.ID, b},
		{target.ID, a},
	} {
		if err := m.store.UpdateFields(ctx, collection, w.id, models.OrderFields(w.order)); err != nil {
			failed = append(failed, constants.WriteFailure{ID: w.id, Err: err})
			continue
		}
		applied = append(applied, w.id)
	}

	if len(applied) > 0 && m.refresh {
		if err := m.view.Refresh(ctx); err != nil {
			res.Stale = true
			m.logger.Warn().Err(err).Str("collection", string(collection)).Msg("refresh after move failed")
		}
	}

	if len(failed) > 0 {
		err := &constants.StoreWriteFailedError{
			Collection: string(collection),
			Applied:    applied,
			Failed:     failed,
		}
		m.logger.Error().Err(err).
			Str("collection", string(collection)).
			Str("id", record.ID).
			Str("target", target.ID).
			Msg("move partially applied")
		return res, err
	}

	m.logger.Info().
		Str("collection", string(collection)).
		Str("id", record.ID).
		Str("target", target.ID).
		Str("direction", string(direction)).
		Int("order", b).
		Msg("record moved")
	return res, nil
}

// swapKeys returns the keys to exchange between snapshot[i] and snapshot[j]. A record without a
// key gets a value above every key in the snapshot; when both lack one, the record listed first
// gets the lower value so their relative order survives the swap.
//
// Two records sharing a key are ordered by ID, which exchanging equal keys cannot change. The
// pair is separated instead: the record listed second gets the next key if nobody holds it,
// otherwise the record listed first gets the previous one, otherwise the record listed second
// gets a value above every key.
func swapKeys[P any](snapshot []models.Record[P], i, j int) (int, int, error) {
	highest, ok := ordering.MaxOrder(snapshot)
	if !ok {
		highest = -1
	}
	sentinel := func() (int, error) {
		if highest == math.MaxInt {
			return 0, constants.ErrKeySpaceExhausted
		}
		highest++
		return highest, nil
	}

	first, second := min(i, j), max(i, j)
	keys := map[int]int{}
	for _, k := range []int{first, second} {
		if o, ok := snapshot[k].Order(); ok {
			keys[k] = o
			continue
		}
		o, err := sentinel()
		if err != nil {
			return 0, 0, err
		}
		keys[k] = o
	}

	if shared := keys[first]; shared == keys[second] {
		switch {
		case shared < math.MaxInt && !held(snapshot, shared+1):
			keys[second] = shared + 1
		case shared > 0 && !held(snapshot, shared-1):
			keys[first] = shared - 1
		default:
			o, err := sentinel()
			if err != nil {
				return 0, 0, err
			}
			keys[second] = o
		}
	}
	return keys[i], keys[j], nil
}

func held[P any](snapshot []models.Record[P], key int) bool {
	for _, r := range snapshot {
		if o, ok := r.Order(); ok && o == key {
			return true
		}
	}
	return false
}
