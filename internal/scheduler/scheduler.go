package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"evs/internal/engine"
)

const defaultInterval = 30 * time.Second

// Scheduler drives the reconciliation sweep on a fixed interval. The sweep
// itself is idempotent, so overlapping or external triggers are harmless.
type Scheduler struct {
	engine    *engine.Engine
	interval  time.Duration
	scheduler gocron.Scheduler
}

func New(e *engine.Engine, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		interval = defaultInterval
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{engine: e, interval: interval, scheduler: s}, nil
}

// Start registers the sweep job and begins running it. The first sweep fires
// immediately so a restarted service catches up without waiting a full tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
			defer cancel()
			changes, err := s.engine.Reconcile(sweepCtx, time.Now().UTC())
			if err != nil {
				slog.Error("scheduled reconcile failed", "error", err)
				return
			}
			if len(changes) > 0 {
				slog.Info("scheduled reconcile applied changes", "count", len(changes))
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
