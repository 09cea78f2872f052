package domain

import "time"

// StatusUpdate carries the new state of one test node, as streamed during a run
type StatusUpdate struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	Duration        *int64     `json:"duration,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ErrorStackTrace string     `json:"errorStackTrace,omitempty"`
	SessionID       string     `json:"sessionId"`
	IsRunning       bool       `json:"isRunning,omitempty"`
}

// Apply copies the update onto the node
func (u StatusUpdate) Apply(n *TestNode) {
	n.Status = u.Status
	n.Duration = u.Duration
	n.StartTime = u.StartTime
	n.EndTime = u.EndTime
	n.ErrorMessage = u.ErrorMessage
	n.ErrorStackTrace = u.ErrorStackTrace
	n.SessionID = u.SessionID
	n.IsRunning = u.IsRunning
}

// RunSummary is the terminal result of a run
type RunSummary struct {
	SessionID string    `json:"sessionId"`
	Cancelled bool      `json:"cancelled"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	NotFound  int       `json:"notFound"`
	Duration  int64     `json:"duration"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Count records a final status in the summary
func (s *RunSummary) Count(status Status) {
	s.Total++
	switch status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	case StatusNotFound:
		s.NotFound++
	case StatusNone:
	}
}

// Success reports whether the run finished without failures or cancellation
func (s RunSummary) Success() bool {
	return !s.Cancelled && s.Failed == 0
}

// RunResultsMeta contains metadata about a stored run
type RunResultsMeta struct {
	SessionID       string  `json:"session_id"`
	TotalTestCases  int     `json:"total_test_cases"`
	PassedTestCases int     `json:"passed_test_cases"`
	FailedTestCases int     `json:"failed_test_cases"`
	SkippedCases    int     `json:"skipped_test_cases"`
	NotFoundCases   int     `json:"not_found_test_cases"`
	Cancelled       bool    `json:"cancelled"`
	Duration        string  `json:"duration"`
	DurationSeconds float64 `json:"duration_seconds"`
	Workers         int     `json:"workers"`
	Timestamp       string  `json:"timestamp"`
}

// NewRunResultsMeta describes a finished run
func NewRunResultsMeta(summary RunSummary, workers int) RunResultsMeta {
	duration := time.Duration(summary.Duration) * time.Millisecond
	end := summary.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return RunResultsMeta{
		SessionID:       summary.SessionID,
		TotalTestCases:  summary.Total,
		PassedTestCases: summary.Passed,
		FailedTestCases: summary.Failed,
		SkippedCases:    summary.Skipped,
		NotFoundCases:   summary.NotFound,
		Cancelled:       summary.Cancelled,
		Duration:        duration.String(),
		DurationSeconds: duration.Seconds(),
		Workers:         workers,
		Timestamp:       end.Format(time.RFC3339),
	}
}

// RunResultsOutput is the persisted form of the last run: its meta and the tree snapshot
type RunResultsOutput struct {
	Meta  RunResultsMeta `json:"meta"`
	Nodes []*TestNode    `json:"nodes"`
}

// Failures returns the failed test cases of the stored run
func (o *RunResultsOutput) Failures() []*TestNode {
	var failed []*TestNode
	for _, n := range o.Nodes {
		if n.IsTestCase && n.Status == StatusFailed {
			failed = append(failed, n)
		}
	}
	return failed
}
