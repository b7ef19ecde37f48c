package gormstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliokit/curator/pkg/models"
)

func TestDecodeRow(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	r, err := decodeRow[models.Project](models.CollectionProject, contentRow{
		ID:           "p1",
		Collection:   string(models.CollectionProject),
		DisplayOrder: models.Ptr(2),
		CreatedAt:    created,
		Payload:      `{"title":"Compiler","technologies":["go"]}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", r.ID)
	assert.Equal(t, models.CollectionProject, r.Collection)
	assert.Equal(t, 2, *r.DisplayOrder)
	assert.Equal(t, created, r.CreatedAt)
	assert.Equal(t, "Compiler", r.Payload.Title)

	_, err = decodeRow[models.Project](models.CollectionProject, contentRow{ID: "p2", Payload: "{"})
	assert.Error(t, err)
}

func TestFingerprintTracksOrderingFields(t *testing.T) {
	rows := []contentRow{
		{ID: "a", DisplayOrder: models.Ptr(0), Payload: "{}"},
		{ID: "b", Payload: "{}"},
	}
	before := fingerprint(rows)
	assert.Equal(t, before, fingerprint(rows))

	rows[1].DisplayOrder = models.Ptr(1)
	assert.NotEqual(t, before, fingerprint(rows))

	rows[1].DisplayOrder = nil
	rows[1].Payload = `{"title":"b"}`
	assert.NotEqual(t, before, fingerprint(rows))
}
