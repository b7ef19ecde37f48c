package surrealdb

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
	sdbmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/portfoliokit/curator/pkg/models"
)

const fieldID = "id"

var now = time.Now

// decodeRecord splits a flat document into the ordering fields and the payload.
func decodeRecord[P any](collection models.CollectionType, doc map[string]any) (models.Record[P], error) {
	r := models.Record[P]{Collection: collection}

	id, err := decodeID(doc[fieldID])
	if err != nil {
		return r, fmt.Errorf("%s: %w", collection.Table(), err)
	}
	r.ID = id

	if v, ok := doc[models.FieldDisplayOrder]; ok && v != nil {
		order, err := decodeOrder(v)
		if err != nil {
			return r, fmt.Errorf("%s:%s: %w", collection.Table(), id, err)
		}
		r.DisplayOrder = &order
	}

	if v, ok := doc[models.FieldCreatedAt]; ok && v != nil {
		t, err := decodeTime(v)
		if err != nil {
			return r, fmt.Errorf("%s:%s: %w", collection.Table(), id, err)
		}
		r.CreatedAt = t
	}

	rest := make(map[string]any, len(doc))
	for k, v := range doc {
		switch k {
		case fieldID, models.FieldDisplayOrder, models.FieldCreatedAt:
			continue
		}
		rest[k] = plain(v)
	}
	data, err := json.Marshal(rest)
	if err != nil {
		return r, fmt.Errorf("%s:%s: encode payload: %w", collection.Table(), id, err)
	}
	if err := json.Unmarshal(data, &r.Payload); err != nil {
		return r, fmt.Errorf("%s:%s: decode payload: %w", collection.Table(), id, err)
	}
	return r, nil
}

// encodePayload flattens a payload into document fields. The ordering fields cannot be set this
// way.
func encodePayload[P any](payload P) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("payload must encode to an object: %w", err)
	}
	delete(doc, fieldID)
	delete(doc, models.FieldDisplayOrder)
	delete(doc, models.FieldCreatedAt)
	return doc, nil
}

func decodeID(v any) (string, error) {
	switch id := v.(type) {
	case sdbmodels.RecordID:
		return fmt.Sprint(id.ID), nil
	case *sdbmodels.RecordID:
		if id == nil {
			break
		}
		return fmt.Sprint(id.ID), nil
	case string:
		// table:id
		if _, key, ok := strings.Cut(id, ":"); ok {
			return strings.Trim(key, "⟨⟩`"), nil
		}
		return id, nil
	}
	return "", fmt.Errorf("unexpected record id %T", v)
}

func decodeOrder(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			break
		}
		return int(n), nil
	case int32:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			break
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			break
		}
		return int(i), nil
	}
	return 0, fmt.Errorf("%s is not an integer: %v", models.FieldDisplayOrder, v)
}

func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case sdbmodels.CustomDateTime:
		return t.Time.UTC(), nil
	case *sdbmodels.CustomDateTime:
		if t == nil {
			break
		}
		return t.Time.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", models.FieldCreatedAt, err)
		}
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%s has unexpected type %T", models.FieldCreatedAt, v)
}

// plain converts SDK value types that have no JSON form into plain values.
func plain(v any) any {
	switch x := v.(type) {
	case sdbmodels.RecordID:
		return x.String()
	case *sdbmodels.RecordID:
		if x == nil {
			return nil
		}
		return x.String()
	case sdbmodels.CustomDateTime:
		return x.Time
	case *sdbmodels.CustomDateTime:
		if x == nil {
			return nil
		}
		return x.Time
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}
