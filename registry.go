package curator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
)

// Registry holds one Collection per collection type.
type Registry struct {
	mu          sync.RWMutex
	collections map[models.CollectionType]Collection
	order       []models.CollectionType
}

func NewRegistry() *Registry {
	return &Registry{collections: make(map[models.CollectionType]Collection)}
}

// Register adds c. Registering a second collection of the same type is an error.
func (r *Registry) Register(c Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := c.Type()
	if _, ok := r.collections[t]; ok {
		return fmt.Errorf("collection %s already registered", t)
	}
	r.collections[t] = c
	r.order = append(r.order, t)
	return nil
}

func (r *Registry) Get(t models.CollectionType) (Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownCollection, t)
	}
	return c, nil
}

// Lookup parses a collection type name, as accepted by models.ParseCollectionType, and returns its
// collection.
func (r *Registry) Lookup(name string) (Collection, error) {
	t, err := models.ParseCollectionType(name)
	if err != nil {
		return nil, err
	}
	return r.Get(t)
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []models.CollectionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.CollectionType, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) all() []Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collection, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.collections[t])
	}
	return out
}

// StartAll starts every collection. A failure does not stop the others from starting; all
// failures are returned joined.
func (r *Registry) StartAll(ctx context.Context) error {
	var errs []error
	for _, c := range r.all() {
		if err := c.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) StopAll() {
	for _, c := range r.all() {
		c.Stop()
	}
}
