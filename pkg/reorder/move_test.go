package reorder_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliokit/curator/internal/memstore"
	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/reorder"
	"github.com/portfoliokit/curator/pkg/view"
)

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memstore.Store[models.BlogPost]
	view  *view.View[models.BlogPost]
	mover *reorder.Mover[models.BlogPost]
}

type seedRecord struct {
	id    string
	order *int
	age   int // minutes after base
}

func newFixture(t *testing.T, records ...seedRecord) *fixture {
	t.Helper()
	s := memstore.New[models.BlogPost]()
	for _, r := range records {
		s.Seed(models.Record[models.BlogPost]{
			ID:           r.id,
			Collection:   models.CollectionBlog,
			DisplayOrder: r.order,
			CreatedAt:    base.Add(time.Duration(r.age) * time.Minute),
			Payload:      models.BlogPost{Title: r.id},
		})
	}
	v := view.New[models.BlogPost](s, models.CollectionBlog)
	require.NoError(t, v.Start(context.Background()))
	t.Cleanup(v.Stop)
	s.ResetWrites()
	return &fixture{store: s, view: v, mover: reorder.New[models.BlogPost](s, v)}
}

func (f *fixture) order(t *testing.T, id string) *int {
	t.Helper()
	r, ok := f.store.Get(models.CollectionBlog, id)
	require.True(t, ok, id)
	return r.DisplayOrder
}

func TestMoveDownSwapsKeys(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "R", order: models.Ptr(3)},
		seedRecord{id: "T", order: models.Ptr(4)},
	)

	res, err := f.mover.Move(context.Background(), "R", models.Down)
	require.NoError(t, err)
	assert.Equal(t, reorder.OutcomeSwapped, res.Outcome)
	assert.Equal(t, "T", res.Target.ID)

	assert.Equal(t, 4, *f.order(t, "R"))
	assert.Equal(t, 3, *f.order(t, "T"))
	assert.Equal(t, []string{"T", "R"}, models.IDs(f.view.OrderedSnapshot()))
}

func TestMoveAtBoundaryIsNoOp(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "A", order: models.Ptr(0)},
		seedRecord{id: "B", order: models.Ptr(1)},
	)

	res, err := f.mover.Move(context.Background(), "A", models.Up)
	require.NoError(t, err)
	assert.Equal(t, reorder.OutcomeNoOp, res.Outcome)
	assert.Nil(t, res.Target)

	res, err = f.mover.Move(context.Background(), "B", models.Down)
	require.NoError(t, err)
	assert.Equal(t, reorder.OutcomeNoOp, res.Outcome)

	assert.Empty(t, f.store.Writes())
	assert.Equal(t, 0, *f.order(t, "A"))
	assert.Equal(t, 1, *f.order(t, "B"))
}

func TestMoveSingleRecordIsNoOp(t *testing.T) {
	f := newFixture(t, seedRecord{id: "A"})

	for _, d := range []models.Direction{models.Up, models.Down} {
		res, err := f.mover.Move(context.Background(), "A", d)
		require.NoError(t, err)
		assert.Equal(t, reorder.OutcomeNoOp, res.Outcome)
	}
	assert.Nil(t, f.order(t, "A"))
}

func TestMoveUnknownRecord(t *testing.T) {
	f := newFixture(t, seedRecord{id: "A", order: models.Ptr(0)})

	_, err := f.mover.Move(context.Background(), "gone", models.Up)
	assert.ErrorIs(t, err, constants.ErrNotFound)
	assert.Empty(t, f.store.Writes())
}

func TestFirstSwapAssignsRealKeys(t *testing.T) {
	// listing: K(0), U
	f := newFixture(t,
		seedRecord{id: "K", order: models.Ptr(0)},
		seedRecord{id: "U", age: 5},
	)

	res, err := f.mover.Move(context.Background(), "U", models.Up)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RecordOrder)
	assert.Equal(t, 1, res.TargetOrder)

	assert.Equal(t, 0, *f.order(t, "U"), "un-keyed record takes the neighbour's key")
	assert.Equal(t, 1, *f.order(t, "K"), "neighbour gets a concrete key above every other")
	assert.Equal(t, []string{"U", "K"}, models.IDs(f.view.OrderedSnapshot()))
}

func TestFirstSwapKeepsUnkeyedBehindKeyed(t *testing.T) {
	// listing: A(0), B(7), N (newer), O (older)
	f := newFixture(t,
		seedRecord{id: "A", order: models.Ptr(0)},
		seedRecord{id: "B", order: models.Ptr(7)},
		seedRecord{id: "N", age: 10},
		seedRecord{id: "O", age: 1},
	)
	require.Equal(t, []string{"A", "B", "N", "O"}, models.IDs(f.view.OrderedSnapshot()))

	_, err := f.mover.Move(context.Background(), "B", models.Down)
	require.NoError(t, err)

	assert.Equal(t, 8, *f.order(t, "B"))
	assert.Equal(t, 7, *f.order(t, "N"))
	assert.Nil(t, f.order(t, "O"))
	assert.Equal(t, []string{"A", "N", "B", "O"}, models.IDs(f.view.OrderedSnapshot()))
}

func TestSwapOfTwoUnkeyedRecords(t *testing.T) {
	// listing: N (newer), O (older)
	f := newFixture(t,
		seedRecord{id: "O", age: 0},
		seedRecord{id: "N", age: 1},
	)
	require.Equal(t, []string{"N", "O"}, models.IDs(f.view.OrderedSnapshot()))

	_, err := f.mover.Move(context.Background(), "O", models.Up)
	require.NoError(t, err)

	assert.Equal(t, 0, *f.order(t, "O"))
	assert.Equal(t, 1, *f.order(t, "N"))
	assert.Equal(t, []string{"O", "N"}, models.IDs(f.view.OrderedSnapshot()))
}

func TestDuplicateKeysStillSwapPositions(t *testing.T) {
	// two records share a key after a racing move; ID breaks the tie
	f := newFixture(t,
		seedRecord{id: "A", order: models.Ptr(2)},
		seedRecord{id: "B", order: models.Ptr(2)},
		seedRecord{id: "C", order: models.Ptr(3)},
	)

	_, err := f.mover.Move(context.Background(), "B", models.Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "B"}, models.IDs(f.view.OrderedSnapshot()))
}

func TestMoveUpAcrossSharedKey(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "A", order: models.Ptr(2)},
		seedRecord{id: "B", order: models.Ptr(2)},
	)
	require.Equal(t, []string{"A", "B"}, models.IDs(f.view.OrderedSnapshot()))

	res, err := f.mover.Move(context.Background(), "B", models.Up)
	require.NoError(t, err)
	assert.Equal(t, reorder.OutcomeSwapped, res.Outcome)
	assert.Equal(t, []string{"B", "A"}, models.IDs(f.view.OrderedSnapshot()))
	assert.Equal(t, 2, *f.order(t, "B"))
	assert.Equal(t, 3, *f.order(t, "A"))
}

func TestMoveAcrossSharedKeyKeepsNeighbours(t *testing.T) {
	ctx := context.Background()

	// the next key is taken, the previous one is free
	f := newFixture(t,
		seedRecord{id: "A", order: models.Ptr(2)},
		seedRecord{id: "B", order: models.Ptr(2)},
		seedRecord{id: "C", order: models.Ptr(3)},
	)
	_, err := f.mover.Move(ctx, "A", models.Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "C"}, models.IDs(f.view.OrderedSnapshot()))
	assert.Equal(t, 1, *f.order(t, "B"))
	assert.Equal(t, 2, *f.order(t, "A"))

	// both neighbouring keys are taken: the pair is separated with a new highest key
	f = newFixture(t,
		seedRecord{id: "A", order: models.Ptr(0)},
		seedRecord{id: "B", order: models.Ptr(0)},
		seedRecord{id: "C", order: models.Ptr(1)},
	)
	_, err = f.mover.Move(ctx, "B", models.Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, models.IDs(f.view.OrderedSnapshot()))
	assert.Equal(t, 0, *f.order(t, "B"))
	assert.Equal(t, 2, *f.order(t, "A"))
}

func TestMoveFailsWhenKeySpaceIsExhausted(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "A", order: models.Ptr(math.MaxInt)},
		seedRecord{id: "B"},
	)

	_, err := f.mover.Move(context.Background(), "B", models.Up)
	assert.ErrorIs(t, err, constants.ErrKeySpaceExhausted)
	assert.Empty(t, f.store.Writes())

	f = newFixture(t,
		seedRecord{id: "A", order: models.Ptr(math.MaxInt)},
		seedRecord{id: "B", order: models.Ptr(math.MaxInt)},
	)
	_, err = f.mover.Move(context.Background(), "B", models.Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, models.IDs(f.view.OrderedSnapshot()))
}

func TestPartialWriteFailureIsReported(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "R", order: models.Ptr(3)},
		seedRecord{id: "T", order: models.Ptr(4)},
	)
	denied := errors.New("permission denied")
	f.store.InjectFailure(memstore.Failure{Op: memstore.OpUpdate, ID: "T", Err: denied})

	res, err := f.mover.Move(context.Background(), "R", models.Down)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrStoreWriteFailed)

	var werr *constants.StoreWriteFailedError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, []string{"R"}, werr.Applied)
	require.Len(t, werr.Failed, 1)
	assert.Equal(t, "T", werr.Failed[0].ID)
	assert.ErrorIs(t, werr.Failed[0].Err, denied)
	assert.Equal(t, reorder.OutcomeSwapped, res.Outcome)

	// the first write is not rolled back
	assert.Equal(t, 4, *f.order(t, "R"))
	assert.Equal(t, 4, *f.order(t, "T"))
	snap := f.view.OrderedSnapshot()
	assert.Equal(t, []string{"R", "T"}, models.IDs(snap))
	assert.Equal(t, 4, *snap[0].DisplayOrder)
}

func TestFirstWriteFailureStillAttemptsSecond(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "R", order: models.Ptr(3)},
		seedRecord{id: "T", order: models.Ptr(4)},
	)
	f.store.InjectFailure(memstore.Failure{Op: memstore.OpUpdate, ID: "R", Err: errors.New("offline")})

	_, err := f.mover.Move(context.Background(), "R", models.Down)
	var werr *constants.StoreWriteFailedError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, []string{"T"}, werr.Applied)
	assert.Equal(t, 3, *f.order(t, "T"))
}

func TestRefreshFailureMarksResultStale(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "R", order: models.Ptr(0)},
		seedRecord{id: "T", order: models.Ptr(1)},
	)
	f.store.InjectFailure(memstore.Failure{Op: memstore.OpQuery, Err: errors.New("timeout"), Times: 1})

	res, err := f.mover.Move(context.Background(), "R", models.Down)
	require.NoError(t, err)
	assert.True(t, res.Stale)
}

func TestWithoutRefreshReliesOnSubscription(t *testing.T) {
	f := newFixture(t,
		seedRecord{id: "R", order: models.Ptr(0)},
		seedRecord{id: "T", order: models.Ptr(1)},
	)
	f.store.HoldPushes()
	mover := reorder.New[models.BlogPost](f.store, f.view, reorder.WithoutRefresh())

	_, err := mover.Move(context.Background(), "R", models.Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"R", "T"}, models.IDs(f.view.OrderedSnapshot()), "push not delivered yet")

	f.store.ReleasePushes()
	assert.Equal(t, []string{"T", "R"}, models.IDs(f.view.OrderedSnapshot()))
}
