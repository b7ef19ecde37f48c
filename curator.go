package curator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/portfoliokit/curator/pkg/backfill"
	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/metrics"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/ordering"
	"github.com/portfoliokit/curator/pkg/reorder"
	"github.com/portfoliokit/curator/pkg/store"
	"github.com/portfoliokit/curator/pkg/view"
)

// Entry is one row of an ordered listing, with the state of its move buttons.
type Entry struct {
	ID           string    `json:"id"`
	DisplayOrder *int      `json:"displayOrder,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Payload      any       `json:"payload"`
	Index        int       `json:"index"`
	CanMoveUp    bool      `json:"canMoveUp"`
	CanMoveDown  bool      `json:"canMoveDown"`
}

// MoveResult summarizes a move.
type MoveResult struct {
	Outcome     reorder.Outcome `json:"outcome"`
	ID          string          `json:"id"`
	Target      string          `json:"target,omitempty"`
	RecordOrder int             `json:"recordOrder"`
	TargetOrder int             `json:"targetOrder"`
	// Stale is set when the view could not be refreshed after the writes.
	Stale bool `json:"stale,omitempty"`
}

// Collection is the payload-independent face of a Curator, used where collections of different
// payload types are handled together.
type Collection interface {
	Type() models.CollectionType
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Err() error
	Refresh(ctx context.Context) error
	Listing() []Entry
	WatchListing() (<-chan []Entry, func())
	Move(ctx context.Context, id string, direction models.Direction) (MoveResult, error)
	Initialize(ctx context.Context) (backfill.Result, error)
	Repair(ctx context.Context) (backfill.Result, error)
	Audit(ctx context.Context) (backfill.Report, error)
	CreateJSON(ctx context.Context, data []byte) (Entry, error)
	Delete(ctx context.Context, id string) error
}

var _ Collection = (*Curator[struct{}])(nil)

// Option configures a Curator.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
	refresh bool
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records moves, key writes, sync errors and audit results on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithoutRefresh stops moves from re-fetching the collection after writing. The listing then
// catches up when the store's subscription pushes the change.
func WithoutRefresh() Option {
	return func(o *options) {
		o.refresh = false
	}
}

// Curator manages the display order of one collection.
type Curator[P any] struct {
	store      store.Store[P]
	collection models.CollectionType
	view       *view.View[P]
	mover      *reorder.Mover[P]
	opts       options
	logger     zerolog.Logger

	moving atomic.Bool
}

func New[P any](s store.Store[P], collection models.CollectionType, opts ...Option) *Curator[P] {
	o := options{logger: zerolog.Nop(), refresh: true}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With().Str("collection", string(collection)).Logger()

	c := &Curator[P]{
		store:      s,
		collection: collection,
		opts:       o,
		logger:     logger,
	}

	viewOpts := []view.Option{view.WithLogger(logger)}
	if m := o.metrics; m != nil {
		viewOpts = append(viewOpts,
			view.WithApplyHook(func(size int) {
				m.SnapshotSizeGauge.WithLabelValues(string(collection)).Set(float64(size))
			}),
			view.WithErrorHook(func(error) {
				m.SyncErrorCounter.WithLabelValues(string(collection)).Inc()
			}),
		)
	}
	c.view = view.New[P](s, collection, viewOpts...)

	moverOpts := []reorder.Option{reorder.WithLogger(logger)}
	if !o.refresh {
		moverOpts = append(moverOpts, reorder.WithoutRefresh())
	}
	c.mover = reorder.New[P](s, c.view, moverOpts...)
	return c
}

func (c *Curator[P]) Type() models.CollectionType {
	return c.collection
}

// View returns the synced view backing the curator.
func (c *Curator[P]) View() *view.View[P] {
	return c.view
}

func (c *Curator[P]) Start(ctx context.Context) error {
	return c.view.Start(ctx)
}

func (c *Curator[P]) Stop() {
	c.view.Stop()
}

func (c *Curator[P]) Running() bool {
	return c.view.Running()
}

// Err returns the last sync error of the view, or nil.
func (c *Curator[P]) Err() error {
	return c.view.Err()
}

func (c *Curator[P]) Refresh(ctx context.Context) error {
	return c.view.Refresh(ctx)
}

// Snapshot returns the ordered records.
func (c *Curator[P]) Snapshot() []models.Record[P] {
	return c.view.OrderedSnapshot()
}

// Listing returns the ordered records with their move button state. Both buttons are disabled
// while a move of this collection is in flight.
func (c *Curator[P]) Listing() []Entry {
	return c.entries(c.view.OrderedSnapshot())
}

func (c *Curator[P]) entries(records []models.Record[P]) []Entry {
	busy := c.moving.Load()
	out := make([]Entry, len(records))
	for i, r := range records {
		out[i] = Entry{
			ID:           r.ID,
			DisplayOrder: r.DisplayOrder,
			CreatedAt:    r.CreatedAt,
			Payload:      r.Payload,
			Index:        i,
			CanMoveUp:    i > 0 && !busy,
			CanMoveDown:  i < len(records)-1 && !busy,
		}
	}
	return out
}

// Watch streams the ordered records after every change. See view.View.Watch.
func (c *Curator[P]) Watch() (<-chan []models.Record[P], func()) {
	return c.view.Watch()
}

// WatchListing is Watch in listing form. Only the newest listing is buffered.
func (c *Curator[P]) WatchListing() (<-chan []Entry, func()) {
	in, cancel := c.view.Watch()
	out := make(chan []Entry, 1)
	go func() {
		defer close(out)
		for records := range in {
			entries := c.entries(records)
			select {
			case <-out:
			default:
			}
			out <- entries
		}
	}()
	return out, cancel
}

// Move swaps a record with its neighbour. Only one move per collection runs at a time; a second
// one fails with constants.ErrMoveInFlight.
func (c *Curator[P]) Move(ctx context.Context, id string, direction models.Direction) (MoveResult, error) {
	if direction != models.Up && direction != models.Down {
		return MoveResult{}, fmt.Errorf("%w: %q", constants.ErrInvalidDirection, direction)
	}
	if c.view.Version() == 0 {
		return MoveResult{}, fmt.Errorf("%s: %w", c.collection, constants.ErrNotStarted)
	}
	if !c.moving.CompareAndSwap(false, true) {
		c.observeMove(direction, "in_flight", 0)
		return MoveResult{}, fmt.Errorf("%s: %w", c.collection, constants.ErrMoveInFlight)
	}
	defer c.moving.Store(false)

	started := time.Now()
	res, err := c.mover.Move(ctx, id, direction)
	c.observeMove(direction, moveLabel(res.Outcome, err), time.Since(started))
	if err != nil && res.Outcome == "" {
		return MoveResult{}, err
	}

	out := MoveResult{
		Outcome:     res.Outcome,
		ID:          res.Record.ID,
		RecordOrder: res.RecordOrder,
		TargetOrder: res.TargetOrder,
		Stale:       res.Stale,
	}
	if res.Target != nil {
		out.Target = res.Target.ID
	}
	return out, err
}

func moveLabel(outcome reorder.Outcome, err error) string {
	switch {
	case errors.Is(err, constants.ErrStoreWriteFailed):
		return "write_failed"
	case errors.Is(err, constants.ErrNotFound):
		return "not_found"
	case err != nil:
		return "error"
	}
	return string(outcome)
}

func (c *Curator[P]) observeMove(direction models.Direction, outcome string, took time.Duration) {
	m := c.opts.metrics
	if m == nil {
		return
	}
	m.MoveCounter.WithLabelValues(string(c.collection), string(direction), outcome).Inc()
	if took > 0 {
		m.MoveDuration.WithLabelValues(string(c.collection)).Observe(took.Seconds())
	}
}

// Initialize keys every record densely by creation date, newest last. It discards any curation.
func (c *Curator[P]) Initialize(ctx context.Context) (backfill.Result, error) {
	res, err := backfill.Initialize[P](ctx, c.store, c.collection, c.backfillOptions("initialize")...)
	c.afterBackfill(ctx, res)
	return res, err
}

// Repair makes the keys dense while keeping the current order. It writes only keys that change.
func (c *Curator[P]) Repair(ctx context.Context) (backfill.Result, error) {
	res, err := backfill.Repair[P](ctx, c.store, c.collection, c.backfillOptions("repair")...)
	c.afterBackfill(ctx, res)
	return res, err
}

func (c *Curator[P]) backfillOptions(operation string) []backfill.Option {
	opts := []backfill.Option{backfill.WithLogger(c.logger)}
	if m := c.opts.metrics; m != nil {
		opts = append(opts, backfill.WithWriteHook(func(ok bool) {
			result := "ok"
			if !ok {
				result = "failed"
			}
			m.KeyWriteCounter.WithLabelValues(string(c.collection), operation, result).Inc()
		}))
	}
	return opts
}

func (c *Curator[P]) afterBackfill(ctx context.Context, res backfill.Result) {
	if res.Count == 0 || c.view.Version() == 0 {
		return
	}
	if err := c.view.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("refresh after backfill failed")
	}
}

// Audit inspects the key space as stored. It never writes.
func (c *Curator[P]) Audit(ctx context.Context) (backfill.Report, error) {
	report, err := backfill.AuditStore[P](ctx, c.store, c.collection)
	if err != nil {
		return report, err
	}
	if m := c.opts.metrics; m != nil {
		m.DuplicateKeysGauge.WithLabelValues(string(c.collection)).Set(float64(len(report.Duplicates)))
		m.UnkeyedGauge.WithLabelValues(string(c.collection)).Set(float64(report.Unkeyed))
	}
	return report, nil
}

// Create stores a new un-keyed record. It is listed after every keyed record.
func (c *Curator[P]) Create(ctx context.Context, payload P) (models.Record[P], error) {
	r, err := c.store.Create(ctx, c.collection, payload)
	if err != nil {
		return models.Record[P]{}, err
	}
	c.refreshAfterWrite(ctx)
	return *r, nil
}

// CreateJSON decodes a payload and creates a record from it.
func (c *Curator[P]) CreateJSON(ctx context.Context, data []byte) (Entry, error) {
	var payload P
	if err := json.Unmarshal(data, &payload); err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", constants.ErrInvalidPayload, c.collection, err)
	}
	r, err := c.Create(ctx, payload)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range c.Listing() {
		if e.ID == r.ID {
			return e, nil
		}
	}
	return Entry{ID: r.ID, CreatedAt: r.CreatedAt, Payload: r.Payload, Index: -1}, nil
}

func (c *Curator[P]) Delete(ctx context.Context, id string) error {
	if ordering.IndexOf(c.view.OrderedSnapshot(), id) < 0 {
		return fmt.Errorf("%s:%s: %w", c.collection, id, constants.ErrNotFound)
	}
	if err := c.store.Delete(ctx, c.collection, id); err != nil {
		return err
	}
	c.refreshAfterWrite(ctx)
	return nil
}

func (c *Curator[P]) refreshAfterWrite(ctx context.Context) {
	if !c.opts.refresh || c.view.Version() == 0 {
		return
	}
	if err := c.view.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("refresh after write failed")
	}
}
