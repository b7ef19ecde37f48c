// Package gormstore provides a relational implementation of the [github.com/portfoliokit/curator/pkg/store.Store] interface using GORM ORM.
//
// All collection types share one table, content_records, keyed by (collection, id). The ordering
// fields are real columns so they can be indexed and inspected with plain SQL; the payload is
// kept as a JSON document in a text column, since the curator never looks inside it.
//
// PostgreSQL and MySQL are supported through their GORM dialectors.
//
// # Subscriptions
//
// Relational databases have no live queries. Subscribe polls instead: a gocron job per
// subscription re-reads the collection at the configured interval and pushes the full set only
// when it differs from the last push. Writes made through this process trigger an immediate poll
// of the affected collection, so local changes show up without waiting for the next tick.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/store"
)

// Config holds the connection settings.
type Config struct {
	// Backend is constants.BackendPostgres or constants.BackendMySQL.
	Backend string
	DSN     string
	// PollInterval is the subscription polling period. Defaults to constants.DefaultPollInterval.
	PollInterval time.Duration
}

// contentRow is the stored form of a record of any collection.
type contentRow struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Collection   string    `gorm:"primaryKey;size:32"`
	DisplayOrder *int      `gorm:"index"`
	CreatedAt    time.Time `gorm:"index;autoCreateTime:false"`
	Payload      string    `gorm:"type:text"`
}

func (contentRow) TableName() string {
	return "content_records"
}

// DB is a database handle shared by the stores of all payload types, together with the scheduler
// that drives their polling subscriptions.
type DB struct {
	gorm      *gorm.DB
	scheduler *gocron.Scheduler
	poll      time.Duration
	logger    zerolog.Logger
}

// Open connects to the database and starts the polling scheduler.
func Open(cfg Config, logger zerolog.Logger) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Backend {
	case constants.BackendPostgres:
		dialector = postgres.Open(cfg.DSN)
	case constants.BackendMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("gormstore: unsupported backend %q", cfg.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = constants.DefaultPollInterval
	}
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.StartAsync()

	logger.Info().Str("backend", cfg.Backend).Dur("poll", poll).Msg("connected to database")
	return &DB{gorm: db, scheduler: scheduler, poll: poll, logger: logger}, nil
}

// Migrate creates or updates the content_records table.
func (d *DB) Migrate(ctx context.Context) error {
	return d.gorm.WithContext(ctx).AutoMigrate(&contentRow{})
}

// Close stops every polling job and closes the connection pool.
func (d *DB) Close() error {
	d.scheduler.Stop()
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// poke runs the polling jobs of a collection now.
func (d *DB) poke(collection models.CollectionType) {
	err := d.scheduler.RunByTag(pollTag(collection))
	if err != nil && !errors.Is(err, gocron.ErrJobNotFoundWithTag) {
		d.logger.Warn().Err(err).Str("collection", string(collection)).Msg("failed to trigger poll")
	}
}

func pollTag(collection models.CollectionType) string {
	return "poll:" + string(collection)
}

var _ store.Store[struct{}] = (*Store[struct{}])(nil)

// Store is a store.Store over one payload type.
type Store[P any] struct {
	db *DB

	mu   sync.Mutex
	jobs map[*gocron.Job]struct{}
}

func NewStore[P any](db *DB) *Store[P] {
	return &Store[P]{db: db, jobs: make(map[*gocron.Job]struct{})}
}

func (s *Store[P]) QueryAll(ctx context.Context, collection models.CollectionType) ([]models.Record[P], error) {
	rows, err := s.rows(ctx, collection)
	if err != nil {
		return nil, err
	}
	return decodeRows[P](collection, rows)
}

func (s *Store[P]) rows(ctx context.Context, collection models.CollectionType) ([]contentRow, error) {
	var rows []contentRow
	err := s.db.gorm.WithContext(ctx).
		Where("collection = ?", string(collection)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return rows, nil
}

func (s *Store[P]) Subscribe(
	ctx context.Context,
	collection models.CollectionType,
	onUpdate func([]models.Record[P]),
	onError func(error),
) (store.Unsubscribe, error) {
	rows, err := s.rows(ctx, collection)
	if err != nil {
		return nil, err
	}
	initial, err := decodeRows[P](collection, rows)
	if err != nil {
		return nil, err
	}
	p := &poller[P]{
		store:      s,
		collection: collection,
		onUpdate:   onUpdate,
		onError:    onError,
		last:       fingerprint(rows),
	}
	onUpdate(initial)

	job, err := s.db.scheduler.
		Every(s.db.poll).
		Tag(pollTag(collection)).
		SingletonMode().
		Do(p.poll)
	if err != nil {
		return nil, fmt.Errorf("schedule poll of %s: %w", collection, err)
	}

	s.mu.Lock()
	s.jobs[job] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.removeJob(job)
		})
	}, nil
}

func (s *Store[P]) removeJob(job *gocron.Job) {
	s.mu.Lock()
	_, ok := s.jobs[job]
	delete(s.jobs, job)
	s.mu.Unlock()
	if ok {
		s.db.scheduler.RemoveByReference(job)
	}
}

type poller[P any] struct {
	store      *Store[P]
	collection models.CollectionType
	onUpdate   func([]models.Record[P])
	onError    func(error)

	mu   sync.Mutex
	last string
}

func (p *poller[P]) poll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.store.db.poll)
	defer cancel()

	rows, err := p.store.rows(ctx, p.collection)
	if err != nil {
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	fp := fingerprint(rows)
	if fp == p.last {
		return
	}
	records, err := decodeRows[P](p.collection, rows)
	if err != nil {
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	p.last = fp
	p.onUpdate(records)
}

// UpdateFields sets the display order. It is the only field stored in its own column; other
// fields are rejected with constants.ErrUnsupportedField.
func (s *Store[P]) UpdateFields(ctx context.Context, collection models.CollectionType, id string, fields models.Fields) error {
	for k := range fields {
		if k != models.FieldDisplayOrder {
			return fmt.Errorf("%w: %s", constants.ErrUnsupportedField, k)
		}
	}
	order, ok := fields.DisplayOrder()
	if !ok {
		return fmt.Errorf("%w: %s must be an integer", constants.ErrUnsupportedField, models.FieldDisplayOrder)
	}

	db := s.db.gorm.WithContext(ctx)
	res := db.Model(&contentRow{}).
		Where("collection = ? AND id = ?", string(collection), id).
		Update("display_order", order)
	if res.Error != nil {
		return fmt.Errorf("update %s:%s: %w", collection, id, res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero affected rows when the value did not change.
		var count int64
		if err := db.Model(&contentRow{}).
			Where("collection = ? AND id = ?", string(collection), id).
			Count(&count).Error; err != nil {
			return fmt.Errorf("update %s:%s: %w", collection, id, err)
		}
		if count == 0 {
			return fmt.Errorf("update %s:%s: %w", collection, id, constants.ErrNotFound)
		}
	}

	s.db.poke(collection)
	return nil
}

func (s *Store[P]) Create(ctx context.Context, collection models.CollectionType, payload P) (*models.Record[P], error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	row := contentRow{
		ID:         uuid.NewString(),
		Collection: string(collection),
		CreatedAt:  time.Now().UTC(),
		Payload:    string(data),
	}
	if err := s.db.gorm.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create in %s: %w", collection, err)
	}

	s.db.poke(collection)
	r, err := decodeRow[P](collection, row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store[P]) Delete(ctx context.Context, collection models.CollectionType, id string) error {
	err := s.db.gorm.WithContext(ctx).
		Where("collection = ? AND id = ?", string(collection), id).
		Delete(&contentRow{}).Error
	if err != nil {
		return fmt.Errorf("delete %s:%s: %w", collection, id, err)
	}
	s.db.poke(collection)
	return nil
}

// Close removes the store's polling jobs. The shared DB stays open.
func (s *Store[P]) Close() error {
	s.mu.Lock()
	jobs := make([]*gocron.Job, 0, len(s.jobs))
	for job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		s.removeJob(job)
	}
	return nil
}
