// Package worker runs the periodic background jobs: challenge progress
// passes, expiry sweeps, leaderboard compilation and peer group upkeep.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one periodic unit of work. Run errors are logged and the job keeps
// its schedule; a failing tick never stops the runner.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner drives a set of jobs on independent tickers until the context is
// cancelled.
type Runner struct {
	jobs []Job
	wg   sync.WaitGroup
}

// NewRunner creates a new Runner instance.
func NewRunner(jobs ...Job) *Runner {
	return &Runner{jobs: jobs}
}

// Start launches one goroutine per job. Each job runs once immediately,
// then on its interval. Start returns without blocking; use Wait for
// shutdown.
func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		r.wg.Add(1)
		go func(job Job) {
			defer r.wg.Done()
			r.loop(ctx, job)
		}(job)
	}
	log.Info().Int("jobs", len(r.jobs)).Msg("Background worker started")
}

// Wait blocks until every job goroutine has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
	log.Info().Msg("Background worker stopped")
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	r.tick(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, job)
		}
	}
}

func (r *Runner) tick(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("job", job.Name).Msg("Background job failed")
		return
	}
	log.Debug().
		Str("job", job.Name).
		Dur("duration", time.Since(start)).
		Msg("Background job completed")
}
