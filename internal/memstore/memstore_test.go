package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
)

type item struct {
	Name string `json:"name"`
}

func ids(records []models.Record[item]) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestSubscribePushesEveryMutation(t *testing.T) {
	ctx := context.Background()
	s := New[item]()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Now = func() time.Time { return created }
	s.Seed(models.Record[item]{ID: "a", Collection: models.CollectionProject})

	var pushes [][]string
	unsubscribe, err := s.Subscribe(ctx, models.CollectionProject, func(records []models.Record[item]) {
		pushes = append(pushes, ids(records))
	}, nil)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}}, pushes)

	r, err := s.Create(ctx, models.CollectionProject, item{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, created, r.CreatedAt)
	assert.Nil(t, r.DisplayOrder)
	require.Len(t, pushes, 2)

	require.NoError(t, s.UpdateFields(ctx, models.CollectionProject, "a", models.Fields{models.FieldDisplayOrder: 4}))
	got, ok := s.Get(models.CollectionProject, "a")
	require.True(t, ok)
	order, ok := got.Order()
	require.True(t, ok)
	assert.Equal(t, 4, order)
	require.Len(t, pushes, 3)

	// other collections do not push
	_, err = s.Create(ctx, models.CollectionBlog, item{})
	require.NoError(t, err)
	require.Len(t, pushes, 3)

	unsubscribe()
	unsubscribe()
	assert.Zero(t, s.Subscribers())
	require.NoError(t, s.Delete(ctx, models.CollectionProject, "a"))
	assert.Len(t, pushes, 3)
}

func TestUpdateFieldsRejects(t *testing.T) {
	ctx := context.Background()
	s := New[item]()
	s.Seed(models.Record[item]{ID: "a", Collection: models.CollectionProject})

	err := s.UpdateFields(ctx, models.CollectionProject, "missing", models.Fields{models.FieldDisplayOrder: 1})
	assert.ErrorIs(t, err, constants.ErrNotFound)

	err = s.UpdateFields(ctx, models.CollectionProject, "a", models.Fields{"title": "x"})
	assert.ErrorIs(t, err, constants.ErrUnsupportedField)

	assert.Empty(t, s.Writes())
}

func TestInjectFailure(t *testing.T) {
	ctx := context.Background()
	s := New[item]()
	s.Seed(
		models.Record[item]{ID: "a", Collection: models.CollectionProject},
		models.Record[item]{ID: "b", Collection: models.CollectionProject},
	)
	boom := errors.New("boom")
	s.InjectFailure(Failure{Op: OpUpdate, ID: "b", Err: boom, Times: 1})

	fields := models.Fields{models.FieldDisplayOrder: 0}
	require.NoError(t, s.UpdateFields(ctx, models.CollectionProject, "a", fields))
	assert.ErrorIs(t, s.UpdateFields(ctx, models.CollectionProject, "b", fields), boom)
	require.NoError(t, s.UpdateFields(ctx, models.CollectionProject, "b", fields))

	writes := s.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "a", writes[0].ID)
	assert.Equal(t, "b", writes[1].ID)

	s.InjectFailure(Failure{Op: OpQuery, Err: boom})
	for range 2 {
		_, err := s.QueryAll(ctx, models.CollectionProject)
		assert.ErrorIs(t, err, boom)
	}
	s.ClearFailures()
	records, err := s.QueryAll(ctx, models.CollectionProject)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(records))
}

func TestHoldPushes(t *testing.T) {
	ctx := context.Background()
	s := New[item]()
	var last []string
	pushes := 0
	_, err := s.Subscribe(ctx, models.CollectionHackathon, func(records []models.Record[item]) {
		pushes++
		last = ids(records)
	}, nil)
	require.NoError(t, err)

	s.HoldPushes()
	s.Seed(models.Record[item]{ID: "x", Collection: models.CollectionHackathon})
	assert.Equal(t, 1, pushes)
	assert.Empty(t, last)

	s.ReleasePushes()
	assert.Equal(t, 2, pushes)
	assert.Equal(t, []string{"x"}, last)
}

func TestClosedStore(t *testing.T) {
	s := New[item]()
	require.NoError(t, s.Close())
	_, err := s.QueryAll(context.Background(), models.CollectionProject)
	assert.Error(t, err)
}
