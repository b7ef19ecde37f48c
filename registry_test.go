package curator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliokit/curator"
	"github.com/portfoliokit/curator/internal/memstore"
	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
)

func TestRegistry(t *testing.T) {
	projects := memstore.New[models.Project]()
	blogs := memstore.New[models.BlogPost]()

	r := curator.NewRegistry()
	require.NoError(t, r.Register(curator.New[models.Project](projects, models.CollectionProject)))
	require.NoError(t, r.Register(curator.New[models.BlogPost](blogs, models.CollectionBlog)))
	assert.Error(t, r.Register(curator.New[models.BlogPost](blogs, models.CollectionBlog)))

	assert.Equal(t, []models.CollectionType{models.CollectionProject, models.CollectionBlog}, r.Types())

	c, err := r.Lookup("blogs")
	require.NoError(t, err)
	assert.Equal(t, models.CollectionBlog, c.Type())

	_, err = r.Get(models.CollectionHackathon)
	assert.ErrorIs(t, err, constants.ErrUnknownCollection)
	_, err = r.Lookup("videos")
	assert.ErrorIs(t, err, constants.ErrUnknownCollection)

	require.NoError(t, r.StartAll(context.Background()))
	assert.Equal(t, 2, projects.Subscribers()+blogs.Subscribers())

	r.StopAll()
	assert.Equal(t, 0, projects.Subscribers()+blogs.Subscribers())
}

func TestRegistryStartAllKeepsGoing(t *testing.T) {
	projects := memstore.New[models.Project]()
	blogs := memstore.New[models.BlogPost]()
	projects.InjectFailure(memstore.Failure{Op: memstore.OpSubscribe, Err: errors.New("offline")})

	r := curator.NewRegistry()
	require.NoError(t, r.Register(curator.New[models.Project](projects, models.CollectionProject)))
	require.NoError(t, r.Register(curator.New[models.BlogPost](blogs, models.CollectionBlog)))

	err := r.StartAll(context.Background())
	assert.ErrorIs(t, err, constants.ErrSync)
	assert.Equal(t, 1, blogs.Subscribers())

	p, err := r.Get(models.CollectionProject)
	require.NoError(t, err)
	assert.False(t, p.Running())
	assert.Error(t, p.Err())
	r.StopAll()
}
