package execution

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mte/internal/domain"
)

// WorkerPool runs jobs in parallel, one mocha process per job
type WorkerPool struct {
	runner    JobRunner
	scheduler Scheduler
	workers   int
	log       zerolog.Logger
}

// NewWorkerPool creates a new WorkerPool
func NewWorkerPool(runner JobRunner, scheduler Scheduler, workers int, log zerolog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		runner:    runner,
		scheduler: scheduler,
		workers:   workers,
		log:       log.With().Str("component", "pool").Logger(),
	}
}

// Execute runs all jobs. Debug runs use a single worker so only one process waits for a debugger.
// With FailFast no new job starts after a failure; jobs already running are finished.
// The returned error joins the process failures of all jobs; a cancelled run is not an error.
func (wp *WorkerPool) Execute(ctx context.Context, jobs []Job, opts Options, reporter Reporter) (*Report, error) {
	startTime := time.Now()
	if len(jobs) == 0 {
		return &Report{Cancelled: ctx.Err() != nil}, nil
	}

	workerCount := wp.workers
	if opts.Debug {
		workerCount = 1
	}
	distribution := wp.scheduler.Schedule(jobs, workerCount)
	shared := &syncReporter{reporter: reporter}

	var (
		mu      sync.Mutex
		results []JobResult
		stopped bool
		wg      sync.WaitGroup
	)
	for i, assigned := range distribution {
		wg.Add(1)
		go func(workerID int, assigned []Job) {
			defer wg.Done()
			for _, job := range assigned {
				mu.Lock()
				stop := stopped
				mu.Unlock()
				if stop || ctx.Err() != nil {
					return
				}

				wp.log.Debug().Int("worker", workerID).Str("file", job.Path).Int("cases", len(job.Cases)).Msg("running job")
				result := wp.runner.Run(ctx, job, opts, shared)

				mu.Lock()
				results = append(results, result)
				if opts.FailFast && failed(result) {
					stopped = true
				}
				mu.Unlock()
			}
		}(i+1, assigned)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	report := &Report{
		Jobs:      results,
		Duration:  time.Since(startTime),
		Cancelled: ctx.Err() != nil,
	}
	if report.Cancelled {
		return report, nil
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return report, errors.Join(errs...)
}

func failed(r JobResult) bool {
	if r.Err != nil {
		return true
	}
	for _, status := range r.Reported {
		if status == domain.StatusFailed {
			return true
		}
	}
	return false
}

type syncReporter struct {
	mu       sync.Mutex
	reporter Reporter
}

func (r *syncReporter) Update(update domain.StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporter.Update(update)
}

func (r *syncReporter) Output(stream, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporter.Output(stream, text)
}

func (r *syncReporter) Debug(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporter.Debug(text)
}
