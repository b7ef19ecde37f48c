// Package view keeps a live, ordered copy of one collection.
//
// A [View] is fed by the store's subscription. Every push replaces the view's record set
// wholesale; the ordered snapshot is recomputed lazily with the ordering comparator the next
// time somebody asks for it. Views never write to the store.
//
// A view has an explicit lifecycle: Start subscribes, Refresh re-fetches on demand, Stop
// unsubscribes. A view that failed to start stays empty until the caller retries; nothing is
// retried automatically.
package view

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/ordering"
	"github.com/portfoliokit/curator/pkg/store"
)

// Option configures a View.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	onApply func(size int)
	onError func(error)
}

// WithLogger sets the logger used for subscription events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithApplyHook registers a function called with the record count after every replacement.
func WithApplyHook(fn func(size int)) Option {
	return func(o *options) {
		o.onApply = fn
	}
}

// WithErrorHook registers a function called with every sync error the view records.
func WithErrorHook(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// View is the synced, ordered view of one collection.
type View[P any] struct {
	store      store.Store[P]
	collection models.CollectionType
	opts       options

	mu          sync.RWMutex
	records     []models.Record[P]
	ordered     []models.Record[P]
	valid       bool
	unsubscribe store.Unsubscribe
	lastErr     error
	version     uint64

	watchMu  sync.Mutex
	watchers map[int]chan []models.Record[P]
	nextW    int
}

func New[P any](s store.Store[P], collection models.CollectionType, opts ...Option) *View[P] {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &View[P]{
		store:      s,
		collection: collection,
		opts:       o,
		watchers:   make(map[int]chan []models.Record[P]),
	}
}

func (v *View[P]) Collection() models.CollectionType {
	return v.collection
}

// Start subscribes to the collection. The store delivers the current record set before Start
// returns. Starting a running view does nothing.
func (v *View[P]) Start(ctx context.Context) error {
	v.mu.Lock()
	running := v.unsubscribe != nil
	v.mu.Unlock()
	if running {
		return nil
	}

	unsubscribe, err := v.store.Subscribe(ctx, v.collection, v.apply, v.fail)
	if err != nil {
		serr := &constants.SyncError{Collection: string(v.collection), Op: "subscribe", Err: err}
		v.record(serr)
		return serr
	}

	v.mu.Lock()
	if v.unsubscribe != nil {
		// lost a race with a concurrent Start
		v.mu.Unlock()
		unsubscribe()
		return nil
	}
	v.unsubscribe = unsubscribe
	v.mu.Unlock()

	v.opts.logger.Debug().Str("collection", string(v.collection)).Msg("view subscribed")
	return nil
}

// Refresh re-fetches the whole collection from the store. On failure the previous contents are
// kept. Refresh works whether or not the view is started.
func (v *View[P]) Refresh(ctx context.Context) error {
	records, err := v.store.QueryAll(ctx, v.collection)
	if err != nil {
		serr := &constants.SyncError{Collection: string(v.collection), Op: "refresh", Err: err}
		v.record(serr)
		return serr
	}
	v.apply(records)
	return nil
}

// Stop ends the subscription and closes every watcher. The cached records stay readable and the
// view can be started again.
func (v *View[P]) Stop() {
	v.mu.Lock()
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		v.opts.logger.Debug().Str("collection", string(v.collection)).Msg("view unsubscribed")
	}

	v.watchMu.Lock()
	for id, ch := range v.watchers {
		close(ch)
		delete(v.watchers, id)
	}
	v.watchMu.Unlock()
}

// Running reports whether the view holds a live subscription.
func (v *View[P]) Running() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.unsubscribe != nil
}

// Err returns the last sync error, or nil once a later push or refresh succeeded.
func (v *View[P]) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

// Version increases with every replacement of the record set.
func (v *View[P]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Len returns the number of records currently held.
func (v *View[P]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// OrderedSnapshot returns the current records sorted by the ordering comparator. The returned
// slice is a copy owned by the caller.
func (v *View[P]) OrderedSnapshot() []models.Record[P] {
	v.mu.RLock()
	if v.valid {
		out := slices.Clone(v.ordered)
		v.mu.RUnlock()
		return out
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.valid {
		v.ordered = v.sortLocked()
		v.valid = true
	}
	return slices.Clone(v.ordered)
}

// Watch returns a channel receiving the ordered snapshot after every replacement. Only the
// newest snapshot is buffered; a slow reader skips intermediate ones. The returned function
// cancels the watch and closes the channel.
func (v *View[P]) Watch() (<-chan []models.Record[P], func()) {
	ch := make(chan []models.Record[P], 1)

	v.watchMu.Lock()
	id := v.nextW
	v.nextW++
	v.watchers[id] = ch
	v.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.watchMu.Lock()
			defer v.watchMu.Unlock()
			if c, ok := v.watchers[id]; ok {
				close(c)
				delete(v.watchers, id)
			}
		})
	}
}

// apply replaces the record set. It is the subscription's onUpdate callback.
func (v *View[P]) apply(records []models.Record[P]) {
	owned := make([]models.Record[P], 0, len(records))
	for _, r := range records {
		if r.Collection == "" {
			r.Collection = v.collection
		}
		if r.Collection != v.collection {
			v.opts.logger.Warn().
				Str("collection", string(v.collection)).
				Str("id", r.ID).
				Str("other", string(r.Collection)).
				Msg("dropping record of another collection")
			continue
		}
		owned = append(owned, r)
	}

	v.mu.Lock()
	v.records = owned
	v.valid = false
	v.lastErr = nil
	v.version++
	ordered := v.sortLocked()
	v.ordered = ordered
	v.valid = true
	v.mu.Unlock()

	if v.opts.onApply != nil {
		v.opts.onApply(len(owned))
	}
	v.broadcast(ordered)
}

// fail is the subscription's onError callback.
func (v *View[P]) fail(err error) {
	serr := &constants.SyncError{Collection: string(v.collection), Op: "subscribe", Err: err}
	v.record(serr)
}

func (v *View[P]) record(err error) {
	v.mu.Lock()
	v.lastErr = err
	v.mu.Unlock()

	v.opts.logger.Error().Err(err).Str("collection", string(v.collection)).Msg("collection sync failed")
	if v.opts.onError != nil {
		v.opts.onError(err)
	}
}

func (v *View[P]) broadcast(ordered []models.Record[P]) {
	v.watchMu.Lock()
	defer v.watchMu.Unlock()
	for _, ch := range v.watchers {
		snapshot := slices.Clone(ordered)
		select {
		case ch <- snapshot:
		default:
			// drop the stale buffered snapshot, keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// sortLocked must be called with mu held. Records were filtered to one collection in apply,
// so sorting cannot fail.
func (v *View[P]) sortLocked() []models.Record[P] {
	sorted, err := ordering.Sort(v.records)
	if err != nil {
		v.opts.logger.Error().Err(err).Str("collection", string(v.collection)).Msg("unsortable snapshot")
		return slices.Clone(v.records)
	}
	return sorted
}
