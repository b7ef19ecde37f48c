package curator_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliokit/curator"
	"github.com/portfoliokit/curator/internal/memstore"
	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/metrics"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/reorder"
)

var base = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

func project(id string, order *int, age int) models.Record[models.Project] {
	return models.Record[models.Project]{
		ID:           id,
		Collection:   models.CollectionProject,
		DisplayOrder: order,
		CreatedAt:    base.Add(time.Duration(age) * time.Hour),
		Payload:      models.Project{Title: id},
	}
}

func ids(entries []curator.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func started(t *testing.T, s *memstore.Store[models.Project], opts ...curator.Option) *curator.Curator[models.Project] {
	t.Helper()
	c := curator.New[models.Project](s, models.CollectionProject, opts...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

func TestListing(t *testing.T) {
	s := memstore.New[models.Project]()
	s.Seed(
		project("a", models.Ptr(2), 0),
		project("b", nil, 1),
		project("c", models.Ptr(0), 2),
	)
	c := started(t, s)

	listing := c.Listing()
	assert.Equal(t, []string{"c", "a", "b"}, ids(listing))

	assert.False(t, listing[0].CanMoveUp)
	assert.True(t, listing[0].CanMoveDown)
	assert.True(t, listing[1].CanMoveUp)
	assert.True(t, listing[1].CanMoveDown)
	assert.True(t, listing[2].CanMoveUp)
	assert.False(t, listing[2].CanMoveDown)
	assert.Equal(t, 2, listing[2].Index)
	assert.Equal(t, models.Project{Title: "b"}, listing[2].Payload)
}

func TestMoveRecordsMetrics(t *testing.T) {
	s := memstore.New[models.Project]()
	s.Seed(project("x", models.Ptr(3), 0), project("y", models.Ptr(4), 1))
	m := metrics.New()
	c := started(t, s, curator.WithMetrics(m))

	res, err := c.Move(context.Background(), "x", models.Down)
	require.NoError(t, err)
	assert.Equal(t, curator.MoveResult{
		Outcome:     reorder.OutcomeSwapped,
		ID:          "x",
		Target:      "y",
		RecordOrder: 4,
		TargetOrder: 3,
	}, res)
	assert.Equal(t, []string{"y", "x"}, ids(c.Listing()))

	res, err = c.Move(context.Background(), "x", models.Down)
	require.NoError(t, err)
	assert.Equal(t, reorder.OutcomeNoOp, res.Outcome)

	_, err = c.Move(context.Background(), "zzz", models.Up)
	assert.ErrorIs(t, err, constants.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MoveCounter.WithLabelValues("project", "down", "swapped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MoveCounter.WithLabelValues("project", "down", "noop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MoveCounter.WithLabelValues("project", "up", "not_found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotSizeGauge.WithLabelValues("project")))
}

func TestMoveRejectsBadInput(t *testing.T) {
	s := memstore.New[models.Project]()
	s.Seed(project("a", nil, 0))
	c := curator.New[models.Project](s, models.CollectionProject)

	_, err := c.Move(context.Background(), "a", models.Up)
	assert.ErrorIs(t, err, constants.ErrNotStarted)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	_, err = c.Move(context.Background(), "a", models.Direction("sideways"))
	assert.ErrorIs(t, err, constants.ErrInvalidDirection)
}

// gatedStore blocks order key writes until released.
type gatedStore struct {
	*memstore.Store[models.Project]
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) UpdateFields(ctx context.Context, collection models.CollectionType, id string, fields models.Fields) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.UpdateFields(ctx, collection, id, fields)
}

func TestMoveInFlight(t *testing.T) {
	mem := memstore.New[models.Project]()
	mem.Seed(project("a", models.Ptr(0), 0), project("b", models.Ptr(1), 1))
	g := &gatedStore{Store: mem, entered: make(chan struct{}, 2), release: make(chan struct{})}

	c := curator.New[models.Project](g, models.CollectionProject)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := c.Move(context.Background(), "a", models.Down)
		done <- err
	}()
	<-g.entered

	_, err := c.Move(context.Background(), "b", models.Down)
	assert.ErrorIs(t, err, constants.ErrMoveInFlight)
	for _, e := range c.Listing() {
		assert.False(t, e.CanMoveUp, e.ID)
		assert.False(t, e.CanMoveDown, e.ID)
	}

	close(g.release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"b", "a"}, ids(c.Listing()))
	assert.True(t, c.Listing()[0].CanMoveDown)
}

func TestInitializeRepairAudit(t *testing.T) {
	s := memstore.New[models.Project]()
	s.Seed(
		project("old", models.Ptr(5), 0),
		project("mid", models.Ptr(5), 1),
		project("new", nil, 2),
	)
	m := metrics.New()
	c := started(t, s, curator.WithMetrics(m))
	ctx := context.Background()

	report, err := c.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{5: {"mid", "old"}}, report.Duplicates)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateKeysGauge.WithLabelValues("project")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnkeyedGauge.WithLabelValues("project")))

	res, err := c.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "old", "new"}, ids(c.Listing()))
	assert.Equal(t, float64(res.Count), testutil.ToFloat64(m.KeyWriteCounter.WithLabelValues("project", "repair", "ok")))

	report, err = c.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DuplicateKeysGauge.WithLabelValues("project")))

	res, err = c.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, []string{"old", "mid", "new"}, ids(c.Listing()))
}

func TestCreateAndDelete(t *testing.T) {
	s := memstore.New[models.Project]()
	s.Seed(project("keyed", models.Ptr(0), 0))
	s.Now = func() time.Time { return base.Add(48 * time.Hour) }
	c := started(t, s)
	ctx := context.Background()

	e, err := c.CreateJSON(ctx, []byte(`{"title":"Fresh","technologies":["go"]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Index)
	assert.Nil(t, e.DisplayOrder)
	assert.True(t, e.CanMoveUp)
	assert.Equal(t, models.Project{Title: "Fresh", Technologies: []string{"go"}}, e.Payload)

	_, err = c.CreateJSON(ctx, []byte(`[1,2]`))
	assert.ErrorIs(t, err, constants.ErrInvalidPayload)

	require.NoError(t, c.Delete(ctx, e.ID))
	assert.Equal(t, []string{"keyed"}, ids(c.Listing()))
	assert.ErrorIs(t, c.Delete(ctx, e.ID), constants.ErrNotFound)
}

func TestWatchListing(t *testing.T) {
	s := memstore.New[models.Project]()
	s.Seed(project("a", models.Ptr(0), 0), project("b", models.Ptr(1), 1))
	c := started(t, s)

	ch, cancel := c.WatchListing()
	_, err := c.Move(context.Background(), "b", models.Up)
	require.NoError(t, err)

	// Intermediate listings may show the first write only.
	timeout := time.After(2 * time.Second)
	for got := false; !got; {
		select {
		case entries := <-ch:
			got = assert.ObjectsAreEqual([]string{"b", "a"}, ids(entries))
		case <-timeout:
			t.Fatal("no listing received")
		}
	}

	cancel()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("watch not closed")
		}
	}
}
