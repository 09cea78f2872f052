package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mte/internal/domain"
	"mte/internal/parser"
)

// ErrProcessFailed is returned when mocha exits without finishing its report
var ErrProcessFailed = errors.New("test process failed")

const (
	debuggerBanner = "Debugger listening on"
	waitDelay      = 3 * time.Second
	stderrTail     = 20
)

// Config locates mocha inside a workspace
type Config struct {
	Root      string
	MochaPath string
	MochaArgs []string
	EnvFile   string
}

// JobRunner runs one job
type JobRunner interface {
	Run(ctx context.Context, job Job, opts Options, reporter Reporter) JobResult
}

// Runner executes the selected cases of a single file in a mocha process
type Runner struct {
	config Config
	parser parser.Parser
	log    zerolog.Logger
}

// NewRunner creates a new Runner
func NewRunner(cfg Config, log zerolog.Logger) *Runner {
	return &Runner{
		config: cfg,
		parser: parser.NewMochaJSONStreamParser(),
		log:    log.With().Str("component", "runner").Logger(),
	}
}

// MochaPath returns the mocha binary, resolved against the workspace root
func (r *Runner) MochaPath() string {
	p := r.config.MochaPath
	if filepath.IsAbs(p) || !strings.ContainsAny(p, `/\`) {
		return p
	}
	return filepath.Join(r.config.Root, p)
}

// Args builds the mocha command line for a job
func (r *Runner) Args(job Job, opts Options) []string {
	args := append([]string{}, r.config.MochaArgs...)
	args = append(args, "--reporter", "json-stream")
	if opts.Debug {
		args = append(args, "--inspect-brk")
	}
	if pattern := GrepPattern(job.Cases); pattern != "" {
		args = append(args, "--grep", pattern)
	}
	return append(args, job.Path)
}

// Env returns the process environment with the workspace env file applied on top
func (r *Runner) Env() []string {
	env := os.Environ()
	if r.config.EnvFile == "" {
		return env
	}
	path := r.config.EnvFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.config.Root, path)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		// a missing env file is not an error
		r.log.Debug().Err(err).Str("file", path).Msg("env file not loaded")
		return env
	}
	for k, v := range values {
		env = append(env, k+"="+v)
	}
	return env
}

// GrepPattern matches exactly the full titles of the given cases
func GrepPattern(cases []*domain.TestNode) string {
	seen := make(map[string]bool, len(cases))
	var titles []string
	for _, c := range cases {
		if c.FullTitle == "" || seen[c.FullTitle] {
			continue
		}
		seen[c.FullTitle] = true
		titles = append(titles, regexp.QuoteMeta(c.FullTitle))
	}
	if len(titles) == 0 {
		return ""
	}
	return "^(?:" + strings.Join(titles, "|") + ")$"
}

// Run executes the job and streams its results to the reporter
func (r *Runner) Run(ctx context.Context, job Job, opts Options, reporter Reporter) JobResult {
	s := newSession(job, opts, reporter, r.parser, r.log)

	cmd := exec.CommandContext(ctx, r.MochaPath(), r.Args(job, opts)...)
	cmd.Dir = r.config.Root
	cmd.Env = r.Env()
	cmd.WaitDelay = waitDelay

	stdout := &lineWriter{emit: func(line string) { s.handle("stdout", line) }}
	stderr := &lineWriter{emit: func(line string) { s.handle("stderr", line) }}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.log.Debug().Str("file", job.Path).Strs("args", cmd.Args).Msg("starting mocha")
	s.started = time.Now()
	if err := cmd.Start(); err != nil {
		s.result.Err = fmt.Errorf("%w: start %s: %v", ErrProcessFailed, cmd.Path, err)
		return s.result
	}
	waitErr := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	switch {
	case ctx.Err() != nil:
		r.log.Debug().Str("file", job.Path).Msg("mocha cancelled")
	case !s.result.Ended:
		s.result.Err = s.failure(waitErr)
	}
	return s.result
}

type session struct {
	mu       sync.Mutex
	job      Job
	opts     Options
	reporter Reporter
	parser   parser.Parser
	log      zerolog.Logger
	started  time.Time
	last     time.Time
	// full title to case ids not yet reported, in declaration order
	remaining map[string][]string
	stderr    []string
	result    JobResult
}

func newSession(job Job, opts Options, reporter Reporter, p parser.Parser, log zerolog.Logger) *session {
	remaining := make(map[string][]string, len(job.Cases))
	for _, c := range job.Cases {
		remaining[c.FullTitle] = append(remaining[c.FullTitle], c.ID)
	}
	return &session{
		job:       job,
		opts:      opts,
		reporter:  reporter,
		parser:    p,
		log:       log,
		remaining: remaining,
		result: JobResult{
			Path:     job.Path,
			Reported: make(map[string]domain.Status),
		},
	}
}

func (s *session) handle(stream, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event, ok := s.parser.ParseLine(line); ok {
		s.event(event)
		return
	}
	if stream == "stderr" {
		s.stderr = append(s.stderr, line)
		if len(s.stderr) > stderrTail {
			s.stderr = s.stderr[1:]
		}
	}
	if strings.Contains(line, debuggerBanner) {
		s.reporter.Debug(line)
		return
	}
	s.reporter.Output(stream, line+"\n")
}

func (s *session) event(e *parser.Event) {
	now := time.Now()
	switch e.Kind {
	case parser.EventStart:
		s.last = now
		return
	case parser.EventEnd:
		s.result.Ended = true
		return
	case parser.EventPass, parser.EventFail:
	}

	if e.Kind == parser.EventFail && e.IsHook() {
		s.log.Warn().Str("file", s.job.Path).Str("hook", e.FullTitle).Str("error", e.Err).Msg("hook failed")
		s.reporter.Output("stderr", fmt.Sprintf("%s: %s\n", e.FullTitle, e.Err))
		s.hookFailed(e, now)
		return
	}

	ids := s.remaining[e.FullTitle]
	if len(ids) == 0 {
		s.log.Debug().Str("file", s.job.Path).Str("test", e.FullTitle).Msg("result for unselected test dropped")
		return
	}
	id := ids[0]
	s.remaining[e.FullTitle] = ids[1:]

	start := s.last
	if e.Duration != nil {
		start = now.Add(-time.Duration(*e.Duration) * time.Millisecond)
	}
	if start.IsZero() {
		start = s.started
	}
	s.last = now
	end := now

	update := domain.StatusUpdate{
		ID:        id,
		Status:    domain.StatusPassed,
		Duration:  e.Duration,
		StartTime: &start,
		EndTime:   &end,
		SessionID: s.opts.SessionID,
	}
	if update.Duration == nil {
		update.Duration = domain.Millis(end.Sub(start).Milliseconds())
	}
	if e.Kind == parser.EventFail {
		update.Status = domain.StatusFailed
		update.ErrorMessage = e.Err
		update.ErrorStackTrace = e.Stack
	}
	s.result.Reported[id] = update.Status
	s.reporter.Update(update)
}

// hookFailed fails every unreported case of the suite owning the hook: mocha skips the
// rest of a suite once one of its hooks fails
func (s *session) hookFailed(e *parser.Event, now time.Time) {
	suite := strings.TrimSpace(strings.TrimSuffix(e.FullTitle, e.Title))
	message := e.Title + ": " + e.Err

	for _, c := range s.job.Cases {
		if suite != "" && !strings.HasPrefix(c.FullTitle, suite+" ") {
			continue
		}
		ids := s.remaining[c.FullTitle]
		i := indexOf(ids, c.ID)
		if i < 0 {
			continue
		}
		s.remaining[c.FullTitle] = append(ids[:i:i], ids[i+1:]...)

		start, end := now, now
		update := domain.StatusUpdate{
			ID:              c.ID,
			Status:          domain.StatusFailed,
			Duration:        domain.Millis(0),
			StartTime:       &start,
			EndTime:         &end,
			ErrorMessage:    message,
			ErrorStackTrace: e.Stack,
			SessionID:       s.opts.SessionID,
		}
		s.result.Reported[c.ID] = update.Status
		s.reporter.Update(update)
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func (s *session) failure(waitErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := fmt.Sprintf("%s exited before finishing", s.job.Path)
	if waitErr != nil {
		msg += ": " + waitErr.Error()
	}
	if len(s.stderr) > 0 {
		msg += "\n" + strings.Join(s.stderr, "\n")
	}
	return fmt.Errorf("%w: %s", ErrProcessFailed, msg)
}

// lineWriter splits a process stream into lines
type lineWriter struct {
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line without newline
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(string(bytes.TrimRight(w.buf, "\r")))
		w.buf = nil
	}
}
