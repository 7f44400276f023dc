// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/pipeline"
)

const refreshTimeout = 5 * time.Minute

// ErrNoLoader is returned when a refresh runs without a table loader
var ErrNoLoader = errors.New("no table loader configured")

// LoadFunc builds a fresh rule and catalog snapshot
type LoadFunc func(ctx context.Context) (*pipeline.Tables, error)

// Scheduler reloads the table snapshot on a schedule. New snapshots are
// published through the holder and picked up by the next batch; running
// batches keep the snapshot they started with.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	holder   *pipeline.Holder
	load     LoadFunc
	logger   *slog.Logger
}

// NewScheduler creates a new table refresh scheduler. An empty schedule
// disables the job.
func NewScheduler(schedule string, holder *pipeline.Holder, load LoadFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	// standard 5-field format, descriptors such as @every allowed
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		schedule: schedule,
		holder:   holder,
		load:     load,
		logger:   logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.logger.Info("table refresh disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, s.refreshJob)
	if err != nil {
		return fmt.Errorf("failed to schedule table refresh %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// Entries returns the number of scheduled jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) refreshJob() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("table refresh failed, keeping current snapshot", slog.Any("error", err))
	}
}

// Refresh loads a new snapshot and publishes it. On failure the current
// snapshot stays in place.
func (s *Scheduler) Refresh(ctx context.Context) error {
	if s.load == nil {
		return ErrNoLoader
	}

	start := time.Now()
	next, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}

	prev := s.holder.Swap(next)
	s.logger.Info("tables refreshed",
		slog.String("previous_version", prev.Version()),
		slog.String("version", next.Version()),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}
