package server

import (
	"context"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mte/internal/domain"
	"mte/internal/execution"
	"mte/internal/protocol"
	"mte/internal/tree"
)

func (s *Server) run(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if err := s.enter(protocol.StateRunning); err != nil {
		return nil, err
	}
	defer func() { _ = s.state.Enter(protocol.StateReady) }()

	var params protocol.RunParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		params.SessionID = newSessionID()
	}
	log := s.log.With().Str("session", params.SessionID).Logger()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	executor := s.executor
	s.runSession = params.SessionID
	s.cancelRun = cancel
	if s.pendingCancel == params.SessionID {
		log.Info().Msg("run cancelled before it started")
		s.pendingCancel = ""
		cancel()
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.runSession = ""
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	cases := s.selectCases(params.TestCaseIDs, log)
	jobs := groupByFile(cases)

	log.Info().Int("cases", len(cases)).Int("files", len(jobs)).Bool("debug", params.Debug).Msg("run started")
	started := time.Now()
	reporter := &notifier{conn: s.conn, tree: s.tree, sessionID: params.SessionID, log: log}
	report, err := executor.Execute(runCtx, jobs, execution.Options{
		SessionID: params.SessionID,
		Debug:     params.Debug,
		FailFast:  params.FailFast,
	}, reporter)
	if report == nil {
		report = &execution.Report{Cancelled: runCtx.Err() != nil}
	}

	final := s.settle(jobs, report, params.SessionID, reporter)

	summary := domain.RunSummary{
		SessionID: params.SessionID,
		Cancelled: report.Cancelled,
		StartTime: started,
		EndTime:   time.Now(),
	}
	summary.Duration = summary.EndTime.Sub(started).Milliseconds()
	for _, c := range cases {
		summary.Count(final[c.ID])
	}

	if err != nil && !report.Cancelled {
		log.Error().Err(err).Msg("run failed")
		return nil, protocol.NewError(protocol.RemoteProcessFailureCode, "%v", err)
	}
	log.Info().Int("passed", summary.Passed).Int("failed", summary.Failed).Bool("cancelled", summary.Cancelled).Msg("run finished")
	return summary, nil
}

// selectCases expands ids to the test cases below them, in tree order. No ids selects every case.
func (s *Server) selectCases(ids []string, log zerolog.Logger) []*domain.TestNode {
	if len(ids) == 0 {
		return s.tree.TestCases()
	}

	seen := make(map[string]bool)
	var cases []*domain.TestNode
	add := func(n *domain.TestNode) {
		if n.IsTestCase && !seen[n.ID] {
			seen[n.ID] = true
			cases = append(cases, n)
		}
	}
	for _, id := range ids {
		node, ok := s.tree.Get(id)
		if !ok {
			log.Warn().Str("id", id).Msg("run requested for unknown node")
			continue
		}
		add(node)
		for _, d := range s.tree.Descendants(id) {
			add(d)
		}
	}
	return cases
}

// groupByFile builds one job per file, sorted by path
func groupByFile(cases []*domain.TestNode) []execution.Job {
	index := make(map[string]int)
	var jobs []execution.Job
	for _, c := range cases {
		i, ok := index[c.Path]
		if !ok {
			i = len(jobs)
			index[c.Path] = i
			jobs = append(jobs, execution.Job{Path: c.Path})
		}
		jobs[i].Cases = append(jobs[i].Cases, c)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Path < jobs[j].Path })
	return jobs
}

// settle reports selected cases mocha never mentioned: Skipped when declared pending, otherwise
// NotFound. Only jobs whose process finished its report are settled.
func (s *Server) settle(jobs []execution.Job, report *execution.Report, sessionID string, reporter execution.Reporter) map[string]domain.Status {
	final := make(map[string]domain.Status)
	results := make(map[string]execution.JobResult, len(report.Jobs))
	for _, r := range report.Jobs {
		results[r.Path] = r
		for id, status := range r.Reported {
			final[id] = status
		}
	}

	now := time.Now()
	for _, job := range jobs {
		r, ok := results[job.Path]
		if !ok || !r.Ended {
			continue
		}
		for _, c := range job.Cases {
			if _, reported := r.Reported[c.ID]; reported {
				continue
			}
			status := domain.StatusNotFound
			if c.Pending {
				status = domain.StatusSkipped
			}
			final[c.ID] = status
			reporter.Update(domain.StatusUpdate{
				ID:        c.ID,
				Status:    status,
				EndTime:   &now,
				SessionID: sessionID,
			})
		}
	}
	return final
}

// notifier applies updates to the server tree and forwards everything to the client
type notifier struct {
	conn      *protocol.Conn
	tree      *tree.Collection
	sessionID string
	log       zerolog.Logger
}

func (n *notifier) Update(update domain.StatusUpdate) {
	n.tree.ApplyStatusUpdate(update)
	if err := n.conn.Notify(protocol.MethodTestCaseUpdate, update); err != nil {
		n.log.Debug().Err(err).Str("id", update.ID).Msg("send update")
	}
}

func (n *notifier) Output(stream, text string) {
	params := protocol.DataOutputParams{SessionID: n.sessionID, Stream: stream, Text: text}
	if err := n.conn.Notify(protocol.MethodDataOutput, params); err != nil {
		n.log.Debug().Err(err).Msg("send output")
	}
}

func (n *notifier) Debug(text string) {
	params := protocol.DebugInformationParams{SessionID: n.sessionID, Text: text}
	if err := n.conn.Notify(protocol.MethodDebugInformation, params); err != nil {
		n.log.Debug().Err(err).Msg("send debug information")
	}
}
