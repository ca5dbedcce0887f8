// Package jobs runs named background jobs. Submitting a job that is already
// in flight cancels the running instance and starts a fresh one, so a manual
// refresh always supersedes a scheduled one.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/falconrep/catalog-mirror/pkg/logger"
)

// Job represents a task that runs inside the background worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob adapts a plain function into a Job.
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j FuncJob) Name() string { return j.JobName }

func (j FuncJob) Run(ctx context.Context) error { return j.Fn(ctx) }

// Chain returns a job that runs the given jobs in order, stopping at the
// first failure.
func Chain(name string, steps ...Job) Job {
	return FuncJob{
		JobName: name,
		Fn: func(ctx context.Context) error {
			for _, step := range steps {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := step.Run(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner executes submitted jobs, one in-flight instance per job name.
type Runner struct {
	logg *logger.Logger

	mu     sync.Mutex
	active map[string]*run
	wg     sync.WaitGroup
}

func NewRunner(logg *logger.Logger) *Runner {
	return &Runner{
		logg:   logg,
		active: make(map[string]*run),
	}
}

// Submit starts the job in the background. A running instance with the same
// name is cancelled first; the new run begins once it has drained.
func (r *Runner) Submit(ctx context.Context, job Job) {
	r.mu.Lock()
	prev := r.active[job.Name()]
	runCtx, cancel := context.WithCancel(ctx)
	cur := &run{cancel: cancel, done: make(chan struct{})}
	r.active[job.Name()] = cur
	r.mu.Unlock()

	if prev != nil {
		r.logg.Info(ctx, "superseding in-flight run of "+job.Name())
		prev.cancel()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(cur.done)
		defer cancel()

		if prev != nil {
			<-prev.done
		}
		// A superseding submit replaces the map entry, so a run that lost its
		// slot while draining never starts. Shutdown only cancels contexts,
		// leaving entries in place; a job submitted before shutdown still
		// starts and observes the cancellation itself.
		r.mu.Lock()
		current := r.active[job.Name()] == cur
		r.mu.Unlock()
		if current {
			r.runJob(runCtx, job)
		}

		r.mu.Lock()
		if r.active[job.Name()] == cur {
			delete(r.active, job.Name())
		}
		r.mu.Unlock()
	}()
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	jobCtx := r.logg.WithJob(ctx, job.Name())
	r.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	jobCtx = r.logg.WithField(jobCtx, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		r.logg.Error(jobCtx, "job failed", err)
		return
	}
	r.logg.Info(jobCtx, "job completed")
}

// Shutdown cancels every in-flight run and waits for them to drain.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, active := range r.active {
		active.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
