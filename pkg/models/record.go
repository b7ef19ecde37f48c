// Package models defines the records curated by this module.
//
// A [Record] is one item of a [CollectionType] (a project, a hackathon write-up or a blog post).
// Only three of its fields matter for ordering: the optional DisplayOrder key, the immutable
// CreatedAt timestamp and the ID used as the final tie-breaker. The Payload is opaque and is
// carried through unchanged.
//
// Records of different collection types are never compared or reordered against each other.
package models

import (
	"fmt"
	"time"
)

// FieldDisplayOrder is the document field holding the curated order key.
const FieldDisplayOrder = "displayOrder"

// FieldCreatedAt is the document field holding the creation timestamp.
const FieldCreatedAt = "createdAt"

// Record is one content record of a collection, generic over its payload type.
type Record[P any] struct {
	ID         string         `json:"id"`
	Collection CollectionType `json:"collection"`
	// DisplayOrder is nil until the record is keyed by a backfill, a repair or a move.
	DisplayOrder *int      `json:"displayOrder,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Payload      P         `json:"payload"`
}

// Keyed reports whether the record has a curated order key.
func (r Record[P]) Keyed() bool {
	return r.DisplayOrder != nil
}

// Order returns the order key and whether it is set.
func (r Record[P]) Order() (int, bool) {
	if r.DisplayOrder == nil {
		return 0, false
	}
	return *r.DisplayOrder, true
}

// WithOrder returns a copy of the record keyed at order.
func (r Record[P]) WithOrder(order int) Record[P] {
	r.DisplayOrder = Ptr(order)
	return r
}

func (r Record[P]) String() string {
	if r.DisplayOrder == nil {
		return fmt.Sprintf("%s:%s(-)", r.Collection, r.ID)
	}
	return fmt.Sprintf("%s:%s(%d)", r.Collection, r.ID, *r.DisplayOrder)
}

// Fields is a partial update of a record. Keys are document field names such as
// FieldDisplayOrder.
type Fields map[string]any

// OrderFields builds the partial update that sets the display order key.
func OrderFields(order int) Fields {
	return Fields{FieldDisplayOrder: order}
}

// DisplayOrder extracts the display order from a partial update.
func (f Fields) DisplayOrder() (int, bool) {
	v, ok := f[FieldDisplayOrder]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case *int:
		if n == nil {
			return 0, false
		}
		return *n, true
	}
	return 0, false
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// IDs returns the IDs of records in order.
func IDs[P any](records []Record[P]) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
