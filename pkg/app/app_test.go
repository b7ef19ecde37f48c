package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliokit/curator/pkg/config"
	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/reorder"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend = constants.BackendMemory
	cfg.Audit.Enabled = false
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func seed(t *testing.T, a *App, titles ...string) []string {
	t.Helper()
	c, err := a.Registry().Get(models.CollectionProject)
	require.NoError(t, err)
	ids := make([]string, len(titles))
	for i, title := range titles {
		e, err := c.CreateJSON(context.Background(), []byte(`{"title":"`+title+`"}`))
		require.NoError(t, err)
		ids[i] = e.ID
	}
	return ids
}

func TestNewRegistersConfiguredCollections(t *testing.T) {
	a := newApp(t, memoryConfig())
	assert.Equal(t, models.CollectionTypes(), a.Registry().Types())

	cfg := memoryConfig()
	cfg.Collections = []string{"blogs"}
	a = newApp(t, cfg)
	assert.Equal(t, []models.CollectionType{models.CollectionBlog}, a.Registry().Types())

	cfg = memoryConfig()
	cfg.Backend = "oracle"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	a := newApp(t, memoryConfig())
	ctx := context.Background()
	ids := seed(t, a, "first", "second", "third")

	res, err := a.Initialize(ctx, "projects")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)

	entries, err := a.List(ctx, "project")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	got := []string{entries[0].ID, entries[1].ID, entries[2].ID}
	assert.ElementsMatch(t, ids, got)
	for i, e := range entries {
		require.NotNil(t, e.DisplayOrder)
		assert.Equal(t, i, *e.DisplayOrder)
	}

	moved, err := a.Move(ctx, "project", got[2], "up")
	require.NoError(t, err)
	assert.Equal(t, reorder.OutcomeSwapped, moved.Outcome)
	assert.Equal(t, got[1], moved.Target)

	entries, err = a.List(ctx, "project")
	require.NoError(t, err)
	assert.Equal(t, got[2], entries[1].ID)

	report, err := a.Audit(ctx, "project")
	require.NoError(t, err)
	assert.True(t, report.Healthy())

	res, err = a.Repair(ctx, "project")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	_, err = a.Move(ctx, "project", ids[0], "sideways")
	assert.ErrorIs(t, err, constants.ErrInvalidDirection)
	_, err = a.List(ctx, "videos")
	assert.ErrorIs(t, err, constants.ErrUnknownCollection)
}

func TestReadOnlyCommands(t *testing.T) {
	cfg := memoryConfig()
	a := newApp(t, cfg)
	ids := seed(t, a, "only")
	a.SetReadOnly(true)
	ctx := context.Background()

	_, err := a.Initialize(ctx, "project")
	assert.ErrorIs(t, err, constants.ErrReadOnly)
	_, err = a.Repair(ctx, "project")
	assert.ErrorIs(t, err, constants.ErrReadOnly)
	_, err = a.Move(ctx, "project", ids[0], "up")
	assert.ErrorIs(t, err, constants.ErrReadOnly)

	entries, err := a.List(ctx, "project")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunServesUntilCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := memoryConfig()
	cfg.Server.Port = itoa(port)
	cfg.Audit.Enabled = true
	cfg.Audit.Interval = time.Hour
	a := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://127.0.0.1:" + itoa(port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func itoa(n int) string {
	return fmt.Sprint(n)
}
