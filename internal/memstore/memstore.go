// Package memstore provides an in-process document store for tests and for the memory backend.
//
// It implements [store.Store] with the same observable contract as the networked stores:
// subscriptions receive the full record set once on subscribe and again after every mutation.
// Pushes are delivered synchronously on the mutating goroutine, after the store's lock has been
// released, which keeps tests deterministic.
//
// To exercise failure handling, failures can be injected per operation and record, and pushes can
// be held back to simulate subscription latency.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/store"
)

// Op names a store operation for failure injection.
type Op string

const (
	OpQuery     Op = "query"
	OpSubscribe Op = "subscribe"
	OpUpdate    Op = "update"
	OpCreate    Op = "create"
	OpDelete    Op = "delete"
)

// Failure makes matching operations fail with Err.
type Failure struct {
	Op Op
	// ID restricts the failure to one record. Empty matches every record.
	ID  string
	Err error
	// Times is the number of matching calls to fail. Zero fails them all.
	Times int
}

// Write is a successful UpdateFields call, recorded for assertions.
type Write struct {
	Collection models.CollectionType
	ID         string
	Fields     models.Fields
}

type subscriber[P any] struct {
	collection models.CollectionType
	onUpdate   func([]models.Record[P])
	onError    func(error)
}

var _ store.Store[struct{}] = (*Store[struct{}])(nil)

// Store is an in-memory store.Store.
type Store[P any] struct {
	mu       sync.Mutex
	records  map[models.CollectionType]map[string]models.Record[P]
	subs     map[int]*subscriber[P]
	nextSub  int
	failures []*Failure
	writes   []Write
	held     bool
	closed   bool

	// Now stamps created records. Defaults to time.Now.
	Now func() time.Time
}

func New[P any]() *Store[P] {
	return &Store[P]{
		records: make(map[models.CollectionType]map[string]models.Record[P]),
		subs:    make(map[int]*subscriber[P]),
		Now:     time.Now,
	}
}

// Seed inserts records as they are, keeping their IDs, keys and timestamps. Subscribers are
// notified once per collection touched.
func (s *Store[P]) Seed(records ...models.Record[P]) {
	s.mu.Lock()
	touched := map[models.CollectionType]bool{}
	for _, r := range records {
		s.table(r.Collection)[r.ID] = r
		touched[r.Collection] = true
	}
	s.mu.Unlock()

	for c := range touched {
		s.push(c)
	}
}

// InjectFailure registers a failure rule. Rules are checked in registration order.
func (s *Store[P]) InjectFailure(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &f)
}

func (s *Store[P]) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

// HoldPushes stops delivering subscription pushes until ReleasePushes is called.
func (s *Store[P]) HoldPushes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = true
}

// ReleasePushes resumes pushes and delivers the current state of every collection that has a
// subscriber.
func (s *Store[P]) ReleasePushes() {
	s.mu.Lock()
	s.held = false
	collections := map[models.CollectionType]bool{}
	for _, sub := range s.subs {
		collections[sub.collection] = true
	}
	s.mu.Unlock()

	for c := range collections {
		s.push(c)
	}
}

// EmitError delivers err to every subscriber of the collection, as a broken live channel would.
func (s *Store[P]) EmitError(collection models.CollectionType, err error) {
	for _, sub := range s.subscribers(collection) {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Writes returns the successful field updates so far, oldest first.
func (s *Store[P]) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.writes)
}

func (s *Store[P]) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

// Get returns a record by ID, bypassing subscriptions and failure injection.
func (s *Store[P]) Get(collection models.CollectionType, id string) (models.Record[P], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.table(collection)[id]
	return r, ok
}

// Subscribers returns the number of live subscriptions.
func (s *Store[P]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store[P]) QueryAll(ctx context.Context, collection models.CollectionType) ([]models.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpQuery, ""); err != nil {
		return nil, err
	}
	return s.list(collection), nil
}

func (s *Store[P]) Subscribe(
	ctx context.Context,
	collection models.CollectionType,
	onUpdate func([]models.Record[P]),
	onError func(error),
) (store.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.check(OpSubscribe, ""); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber[P]{collection: collection, onUpdate: onUpdate, onError: onError}
	initial := s.list(collection)
	s.mu.Unlock()

	onUpdate(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}, nil
}

func (s *Store[P]) UpdateFields(ctx context.Context, collection models.CollectionType, id string, fields models.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.check(OpUpdate, id); err != nil {
		s.mu.Unlock()
		return err
	}
	r, ok := s.table(collection)[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s:%s: %w", collection, id, constants.ErrNotFound)
	}
	for k := range fields {
		if k != models.FieldDisplayOrder {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", constants.ErrUnsupportedField, k)
		}
	}
	order, ok := fields.DisplayOrder()
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s must be an integer", constants.ErrUnsupportedField, models.FieldDisplayOrder)
	}
	s.table(collection)[id] = r.WithOrder(order)
	s.writes = append(s.writes, Write{Collection: collection, ID: id, Fields: maps.Clone(fields)})
	s.mu.Unlock()

	s.push(collection)
	return nil
}

func (s *Store[P]) Create(ctx context.Context, collection models.CollectionType, payload P) (*models.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.check(OpCreate, ""); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	r := models.Record[P]{
		ID:         uuid.NewString(),
		Collection: collection,
		CreatedAt:  s.Now().UTC(),
		Payload:    payload,
	}
	s.table(collection)[r.ID] = r
	s.mu.Unlock()

	s.push(collection)
	return &r, nil
}

func (s *Store[P]) Delete(ctx context.Context, collection models.CollectionType, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.check(OpDelete, id); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.table(collection), id)
	s.mu.Unlock()

	s.push(collection)
	return nil
}

func (s *Store[P]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]*subscriber[P])
	return nil
}

// check must be called with mu held. It consumes one use of the first matching failure.
func (s *Store[P]) check(op Op, id string) error {
	if s.closed {
		return fmt.Errorf("memstore: %s on closed store", op)
	}
	for i, f := range s.failures {
		if f.Op != op || (f.ID != "" && f.ID != id) {
			continue
		}
		if f.Times > 0 {
			s.failures[i].Times--
			if s.failures[i].Times == 0 {
				s.failures = slices.Delete(s.failures, i, i+1)
			}
		}
		return f.Err
	}
	return nil
}

func (s *Store[P]) table(collection models.CollectionType) map[string]models.Record[P] {
	t, ok := s.records[collection]
	if !ok {
		t = make(map[string]models.Record[P])
		s.records[collection] = t
	}
	return t
}

// list must be called with mu held. It returns records sorted by ID so pushes are stable.
func (s *Store[P]) list(collection models.CollectionType) []models.Record[P] {
	t := s.table(collection)
	out := make([]models.Record[P], 0, len(t))
	for _, id := range slices.Sorted(maps.Keys(t)) {
		r := t[id]
		if r.DisplayOrder != nil {
			r.DisplayOrder = models.Ptr(*r.DisplayOrder)
		}
		out = append(out, r)
	}
	return out
}

func (s *Store[P]) subscribers(collection models.CollectionType) []*subscriber[P] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*subscriber[P]
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		if sub := s.subs[id]; sub.collection == collection {
			out = append(out, sub)
		}
	}
	return out
}

func (s *Store[P]) push(collection models.CollectionType) {
	s.mu.Lock()
	if s.held {
		s.mu.Unlock()
		return
	}
	records := s.list(collection)
	s.mu.Unlock()

	for _, sub := range s.subscribers(collection) {
		sub.onUpdate(slices.Clone(records))
	}
}
