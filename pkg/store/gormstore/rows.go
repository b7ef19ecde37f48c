package gormstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/portfoliokit/curator/pkg/models"
)

func decodeRow[P any](collection models.CollectionType, row contentRow) (models.Record[P], error) {
	r := models.Record[P]{
		ID:           row.ID,
		Collection:   collection,
		DisplayOrder: row.DisplayOrder,
		CreatedAt:    row.CreatedAt.UTC(),
	}
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &r.Payload); err != nil {
			return r, fmt.Errorf("%s:%s: decode payload: %w", collection, row.ID, err)
		}
	}
	return r, nil
}

func decodeRows[P any](collection models.CollectionType, rows []contentRow) ([]models.Record[P], error) {
	records := make([]models.Record[P], 0, len(rows))
	for _, row := range rows {
		r, err := decodeRow[P](collection, row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// fingerprint summarizes rows so that polls can tell whether anything changed. Rows must come in
// a stable order.
func fingerprint(rows []contentRow) string {
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(row.ID)
		b.WriteByte('|')
		if row.DisplayOrder != nil {
			b.WriteString(strconv.Itoa(*row.DisplayOrder))
		} else {
			b.WriteByte('-')
		}
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(row.CreatedAt.UnixNano(), 10))
		b.WriteByte('|')
		b.WriteString(row.Payload)
		b.WriteByte('\n')
	}
	return b.String()
}
