// Package surrealdb provides the SurrealDB implementation of the [github.com/portfoliokit/curator/pkg/store.Store] interface.
//
// Every collection type maps to one table (see models.CollectionType.Table). Records are stored
// as flat documents: the payload's fields sit next to displayOrder and createdAt, which is how the
// admin forms have always written them, so the store can be pointed at an existing database.
//
// # Live Queries
//
// Subscribe is built on SurrealDB live queries. A notification only tells us that something in
// the table changed; the store answers each one by selecting the whole table again and pushing
// the full set, which is what the view contract asks for. Notifications are coalesced: while a
// re-query is running, further notifications collapse into one follow-up re-query.
//
// The live query is started before the initial select, so no change can fall between them.
//
// # Connection Sharing
//
// One [Conn] is shared by the stores of all payload types. Closing a Store kills its live queries
// but leaves the connection open; close the Conn itself on shutdown.
package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	sdbmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/store"
)

// ErrLiveQueryClosed is reported through onError when the server ends a live query.
var ErrLiveQueryClosed = errors.New("live query notification channel closed")

// Config holds the connection settings.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Conn is an authenticated connection scoped to one namespace and database.
type Conn struct {
	db     *surrealdb.DB
	logger zerolog.Logger
}

// Open connects, signs in when credentials are configured and selects the namespace and
// database.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Conn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	switch u.Scheme {
	case constants.WebsocketScheme, constants.WebsocketSecureScheme, constants.HTTPScheme, constants.HTTPSecureScheme:
	default:
		return nil, fmt.Errorf("unsupported SurrealDB URL scheme %q", u.Scheme)
	}

	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}

	logger.Info().
		Str("url", u.Redacted()).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("connected to SurrealDB")
	return &Conn{db: db, logger: logger}, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.db.Close(context.Background())
}

var _ store.Store[struct{}] = (*Store[struct{}])(nil)

// Store is a store.Store over one payload type.
type Store[P any] struct {
	conn *Conn

	mu     sync.Mutex
	lives  map[string]*live
	closed bool
}

type live struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStore[P any](conn *Conn) *Store[P] {
	return &Store[P]{
		conn:  conn,
		lives: make(map[string]*live),
	}
}

func (s *Store[P]) QueryAll(ctx context.Context, collection models.CollectionType) ([]models.Record[P], error) {
	docs, err := surrealdb.Select[[]map[string]any](ctx, s.conn.db, sdbmodels.Table(collection.Table()))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection.Table(), err)
	}
	if docs == nil {
		return nil, nil
	}
	records := make([]models.Record[P], 0, len(*docs))
	for _, doc := range *docs {
		r, err := decodeRecord[P](collection, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store[P]) Subscribe(
	ctx context.Context,
	collection models.CollectionType,
	onUpdate func([]models.Record[P]),
	onError func(error),
) (store.Unsubscribe, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("surrealdb: subscribe on closed store")
	}

	liveID, err := surrealdb.Live(ctx, s.conn.db, sdbmodels.Table(collection.Table()), false)
	if err != nil {
		return nil, fmt.Errorf("live %s: %w", collection.Table(), err)
	}
	id := liveID.String()

	notifications, err := s.conn.db.LiveNotifications(id)
	if err != nil {
		_ = surrealdb.Kill(ctx, s.conn.db, id)
		return nil, fmt.Errorf("live notifications %s: %w", collection.Table(), err)
	}

	initial, err := s.QueryAll(ctx, collection)
	if err != nil {
		_ = surrealdb.Kill(ctx, s.conn.db, id)
		return nil, err
	}
	onUpdate(initial)

	liveCtx, cancel := context.WithCancel(context.Background())
	l := &live{id: id, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.lives[id] = l
	s.mu.Unlock()

	go s.forward(liveCtx, l, collection, notifications, onUpdate, onError)

	s.conn.logger.Debug().Str("collection", string(collection)).Str("live", id).Msg("live query started")

	var once sync.Once
	return func() {
		once.Do(func() {
			s.kill(l)
		})
	}, nil
}

// forward turns notifications into full re-queries until the live query is killed.
func (s *Store[P]) forward(
	ctx context.Context,
	l *live,
	collection models.CollectionType,
	notifications <-chan connection.Notification,
	onUpdate func([]models.Record[P]),
	onError func(error),
) {
	defer close(l.done)

	pending := make(chan struct{}, 1)
	requery := make(chan struct{})
	go func() {
		defer close(requery)
		for {
			select {
			case <-ctx.Done():
				return
			case <-pending:
			}
			records, err := s.QueryAll(ctx, collection)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onUpdate(records)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-requery
			return
		case n, ok := <-notifications:
			if !ok {
				if ctx.Err() == nil && onError != nil {
					onError(ErrLiveQueryClosed)
				}
				l.cancel()
				<-requery
				return
			}
			s.conn.logger.Debug().
				Str("collection", string(collection)).
				Str("action", string(n.Action)).
				Msg("live notification")
			select {
			case pending <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Store[P]) kill(l *live) {
	s.mu.Lock()
	_, ok := s.lives[l.id]
	delete(s.lives, l.id)
	s.mu.Unlock()
	if !ok {
		return
	}

	l.cancel()
	if err := surrealdb.Kill(context.Background(), s.conn.db, l.id); err != nil {
		s.conn.logger.Warn().Err(err).Str("live", l.id).Msg("failed to kill live query")
	}
	<-l.done
}

// UpdateFields merges fields into the record. Updating a record that does not exist fails with
// constants.ErrNotFound.
func (s *Store[P]) UpdateFields(ctx context.Context, collection models.CollectionType, id string, fields models.Fields) error {
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == fieldID || k == models.FieldCreatedAt {
			return fmt.Errorf("%w: %s", constants.ErrUnsupportedField, k)
		}
		data[k] = v
	}

	rid := sdbmodels.NewRecordID(collection.Table(), id)
	res, err := surrealdb.Merge[map[string]any](ctx, s.conn.db, rid, data)
	if err != nil {
		return fmt.Errorf("merge %s: %w", rid.String(), err)
	}
	if res == nil || len(*res) == 0 {
		return fmt.Errorf("merge %s: %w", rid.String(), constants.ErrNotFound)
	}
	return nil
}

func (s *Store[P]) Create(ctx context.Context, collection models.CollectionType, payload P) (*models.Record[P], error) {
	doc, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	doc[models.FieldCreatedAt] = &sdbmodels.CustomDateTime{Time: now().UTC()}

	created, err := surrealdb.Create[map[string]any](ctx, s.conn.db, sdbmodels.Table(collection.Table()), doc)
	if err != nil {
		return nil, fmt.Errorf("create in %s: %w", collection.Table(), err)
	}
	if created == nil {
		return nil, fmt.Errorf("create in %s: empty response", collection.Table())
	}
	r, err := decodeRecord[P](collection, *created)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store[P]) Delete(ctx context.Context, collection models.CollectionType, id string) error {
	rid := sdbmodels.NewRecordID(collection.Table(), id)
	if _, err := surrealdb.Delete[map[string]any](ctx, s.conn.db, rid); err != nil {
		return fmt.Errorf("delete %s: %w", rid.String(), err)
	}
	return nil
}

// Close kills the store's live queries. The shared connection stays open.
func (s *Store[P]) Close() error {
	s.mu.Lock()
	s.closed = true
	lives := make([]*live, 0, len(s.lives))
	for _, l := range s.lives {
		lives = append(lives, l)
	}
	s.mu.Unlock()

	for _, l := range lives {
		s.kill(l)
	}
	return nil
}
