// Package jobs runs the periodic background work of a curator process.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/portfoliokit/curator/pkg/backfill"
	"github.com/portfoliokit/curator/pkg/models"
)

// Auditable is a collection whose key space can be audited.
type Auditable interface {
	Type() models.CollectionType
	Audit(ctx context.Context) (backfill.Report, error)
}

// Auditor audits every collection at a fixed interval and logs collections that need a repair.
// It never writes.
type Auditor struct {
	collections []Auditable
	interval    time.Duration
	timeout     time.Duration
	scheduler   *gocron.Scheduler
	logger      zerolog.Logger

	mu   sync.RWMutex
	last map[models.CollectionType]backfill.Report
}

func NewAuditor(interval time.Duration, logger zerolog.Logger, collections ...Auditable) *Auditor {
	return &Auditor{
		collections: collections,
		interval:    interval,
		timeout:     interval / 2,
		scheduler:   gocron.NewScheduler(time.UTC),
		logger:      logger,
		last:        make(map[models.CollectionType]backfill.Report),
	}
}

// Start schedules the audit. The first run happens immediately.
func (a *Auditor) Start() error {
	if a.interval <= 0 {
		return fmt.Errorf("audit interval must be positive, got %s", a.interval)
	}
	if _, err := a.scheduler.Every(a.interval).SingletonMode().Do(a.run); err != nil {
		return fmt.Errorf("schedule audit: %w", err)
	}
	a.scheduler.StartAsync()
	a.logger.Info().Dur("interval", a.interval).Int("collections", len(a.collections)).Msg("audit job started")
	return nil
}

// Stop stops the schedule and waits for a running audit to finish.
func (a *Auditor) Stop() {
	a.scheduler.Stop()
}

func (a *Auditor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	a.RunOnce(ctx)
}

// RunOnce audits every collection now and returns the reports of those that could be audited.
func (a *Auditor) RunOnce(ctx context.Context) map[models.CollectionType]backfill.Report {
	reports := make(map[models.CollectionType]backfill.Report, len(a.collections))
	for _, c := range a.collections {
		report, err := c.Audit(ctx)
		if err != nil {
			a.logger.Error().Err(err).Str("collection", string(c.Type())).Msg("audit failed")
			continue
		}
		reports[c.Type()] = report

		switch {
		case report.Unmigrated():
			a.logger.Info().Str("collection", string(c.Type())).Int("total", report.Total).Msg("collection not backfilled")
		case report.Healthy():
			a.logger.Debug().Str("collection", string(c.Type())).Int("total", report.Total).Msg("audit ok")
		default:
			a.logger.Warn().
				Str("collection", string(c.Type())).
				Int("total", report.Total).
				Int("unkeyed", report.Unkeyed).
				Int("duplicates", len(report.Duplicates)).
				Int("gaps", len(report.Gaps)).
				Int("missing", report.Missing).
				Int("pending", report.Pending).
				Msg("order keys need repair")
		}
	}

	a.mu.Lock()
	for t, r := range reports {
		a.last[t] = r
	}
	a.mu.Unlock()
	return reports
}

// Last returns the most recent report of a collection.
func (a *Auditor) Last(t models.CollectionType) (backfill.Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.last[t]
	return r, ok
}
