package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/falconrep/catalog-mirror/pkg/logger"
)

// Scheduler submits jobs to the runner on a cron cadence. The runner's
// replace-existing semantics mean an overlong run is cancelled rather than
// overlapped when the next tick fires.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logg   *logger.Logger
	base   context.Context
}

func NewScheduler(ctx context.Context, runner *Runner, logg *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logg:   logg,
		base:   ctx,
	}
}

// Add schedules the job with a standard five-field cron spec.
func (s *Scheduler) Add(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runner.Submit(s.base, job)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", job.Name(), err)
	}
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for the tick in flight, if any, to hand
// its job to the runner.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
