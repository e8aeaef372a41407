// Package worker claims queued jobs and drives them through the orchestrator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
)

// Runner executes one claimed job to a terminal status.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Options tune the claim loop and the stale-job reaper.
type Options struct {
	Concurrency    int
	PollInterval   time.Duration
	ReaperInterval time.Duration
	StaleAfter     time.Duration
	Logger         *infra.Logger
}

// Worker polls the queue and runs up to Concurrency jobs at once. Each job runs
// on its own goroutine as one sequential control flow.
type Worker struct {
	queue  domain.JobQueue
	runner Runner
	opts   Options
	logger *infra.Logger
	now    func() time.Time
}

// New fills zero options with defaults.
func New(queue domain.JobQueue, runner Runner, opts Options) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 45 * time.Minute
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		opts:   opts,
		logger: infra.OrNop(opts.Logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to return.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Int("concurrency", w.opts.Concurrency).
		Dur("poll_interval", w.opts.PollInterval).
		Dur("stale_after", w.opts.StaleAfter).
		Msg("worker: started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reapLoop(ctx)
	}()

	sem := semaphore.NewWeighted(int64(w.opts.Concurrency))
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		job, err := w.queue.ClaimQueued(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			if !errors.Is(err, domain.ErrNotFound) {
				w.logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			if !sleep(ctx, w.opts.PollInterval) {
				break
			}
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)
			w.handle(ctx, id)
		}(job.ID)
	}

	wg.Wait()
	w.logger.Info().Msg("worker: stopped")
	return ctx.Err()
}

func (w *Worker) handle(ctx context.Context, jobID string) {
	log := w.logger.With().Str("job_id", jobID).Logger()
	log.Info().Msg("worker: picked job")
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("worker: job panicked: %v", r)
			_ = w.queue.Fail(context.WithoutCancel(ctx), jobID, fmt.Sprintf("Stage failed: worker panic: %v", r))
		}
	}()
	if err := w.runner.Run(ctx, jobID); err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(began)).Msg("worker: job failed")
		return
	}
	log.Info().Dur("elapsed", time.Since(began)).Msg("worker: job completed")
}

func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.ReaperInterval)
	defer ticker.Stop()
	for {
		if _, err := w.ReapOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("worker: reap stale jobs")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReapOnce fails running jobs with no update for StaleAfter.
func (w *Worker) ReapOnce(ctx context.Context) (int64, error) {
	since := w.now().Add(-w.opts.StaleAfter)
	msg := StaleMessage(since)
	n, err := w.queue.ReapStale(ctx, w.opts.StaleAfter, msg)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Warn().Int64("jobs", n).Dur("stale_after", w.opts.StaleAfter).Msg("worker: reaped stale jobs")
	}
	return n, nil
}

// StaleMessage is the error recorded on a reaped job.
func StaleMessage(since time.Time) string {
	return "Stale job: no progress since " + since.UTC().Format(time.RFC3339)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
