package execution

import (
	"context"
	"time"

	"mte/internal/domain"
)

// Job is the set of selected test cases of one file
type Job struct {
	Path  string
	Cases []*domain.TestNode
}

// Options of a single run
type Options struct {
	SessionID string
	Debug     bool
	FailFast  bool
}

// Reporter receives everything a run produces. Calls are serialised by the pool.
type Reporter interface {
	Update(update domain.StatusUpdate)
	Output(stream, text string)
	Debug(text string)
}

// JobResult is the outcome of one mocha process
type JobResult struct {
	Path string
	// Reported maps case ids to the status mocha reported for them
	Reported map[string]domain.Status
	// Ended is true when the reporter emitted its end event
	Ended bool
	Err   error
}

// Report is the outcome of a whole run
type Report struct {
	Jobs      []JobResult
	Duration  time.Duration
	Cancelled bool
}

// Executor executes test jobs and streams their results
type Executor interface {
	Execute(ctx context.Context, jobs []Job, opts Options, reporter Reporter) (*Report, error)
}
