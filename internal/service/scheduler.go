package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweep is one periodic control loop: a single tick over the store.
type Sweep interface {
	Run(ctx context.Context)
}

// Scheduler drives the expiry and delayed-grant sweeps on a fixed interval.
// The two sweeps run independently; all cross-tick coordination happens in
// the store, never in process memory.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	sweeps   []Sweep
	logger   *slog.Logger
}

// NewScheduler creates a scheduler running every sweep at the given interval.
func NewScheduler(interval time.Duration, logger *slog.Logger, sweeps ...Sweep) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		interval: interval,
		sweeps:   sweeps,
		logger:   logger,
	}
}

// Start registers the sweeps and starts the cron scheduler.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	for _, sweep := range s.sweeps {
		sweep := sweep
		if _, err := s.cron.AddFunc(spec, func() {
			sweep.Run(context.Background())
		}); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}
	s.cron.Start()
	s.logger.Info("sweep scheduler started", "interval", s.interval, "sweeps", len(s.sweeps))
	return nil
}

// Stop gracefully stops the cron scheduler, waiting for a running tick.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweep scheduler stopped")
}
