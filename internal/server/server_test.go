package server

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mte/internal/domain"
	"mte/internal/execution"
	"mte/internal/protocol"
)

const mathTest = `describe('math', () => {
  it('adds', () => {});
  it.skip('later', () => {});
  it('gone', () => {});
});
`

type executeFunc func(ctx context.Context, jobs []execution.Job, opts execution.Options, r execution.Reporter) (*execution.Report, error)

type fakeExecutor struct {
	mu   sync.Mutex
	jobs [][]execution.Job
	fn   executeFunc
}

func (f *fakeExecutor) Execute(ctx context.Context, jobs []execution.Job, opts execution.Options, r execution.Reporter) (*execution.Report, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, jobs)
	f.mu.Unlock()
	return f.fn(ctx, jobs, opts, r)
}

// passFirst reports the first case of every job as passed
func passFirst(ctx context.Context, jobs []execution.Job, opts execution.Options, r execution.Reporter) (*execution.Report, error) {
	report := &execution.Report{}
	for _, job := range jobs {
		res := execution.JobResult{Path: job.Path, Ended: true, Reported: map[string]domain.Status{}}
		if len(job.Cases) > 0 {
			c := job.Cases[0]
			r.Output("stdout", "running "+c.Title+"\n")
			r.Update(domain.StatusUpdate{ID: c.ID, Status: domain.StatusPassed, Duration: domain.Millis(5), SessionID: opts.SessionID})
			res.Reported[c.ID] = domain.StatusPassed
		}
		report.Jobs = append(report.Jobs, res)
	}
	return report, nil
}

type harness struct {
	client *protocol.Conn
	server *Server
	root   string

	mu      sync.Mutex
	updates []domain.StatusUpdate
	output  []protocol.DataOutputParams
	debug   []protocol.DebugInformationParams
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "test"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "test", "math.test.js"), []byte(mathTest), 0644))

	a, b := net.Pipe()
	h := &harness{
		client: protocol.NewConn(protocol.NewHeaderStream(a), zerolog.Nop()),
		server: New(protocol.NewConn(protocol.NewHeaderStream(b), zerolog.Nop()), zerolog.Nop(), opts...),
		root:   root,
	}
	h.client.HandleNotification(protocol.MethodTestCaseUpdate, func(_ context.Context, raw json.RawMessage) {
		var u domain.StatusUpdate
		assert.NoError(t, json.Unmarshal(raw, &u))
		h.mu.Lock()
		h.updates = append(h.updates, u)
		h.mu.Unlock()
	})
	h.client.HandleNotification(protocol.MethodDataOutput, func(_ context.Context, raw json.RawMessage) {
		var p protocol.DataOutputParams
		assert.NoError(t, json.Unmarshal(raw, &p))
		h.mu.Lock()
		h.output = append(h.output, p)
		h.mu.Unlock()
	})
	h.client.HandleNotification(protocol.MethodDebugInformation, func(_ context.Context, raw json.RawMessage) {
		var p protocol.DebugInformationParams
		assert.NoError(t, json.Unmarshal(raw, &p))
		h.mu.Lock()
		h.debug = append(h.debug, p)
		h.mu.Unlock()
	})

	go func() { _ = h.server.Run(context.Background()) }()
	go func() { _ = h.client.Run(context.Background()) }()
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

func (h *harness) call(method string, params, result interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.client.Call(ctx, method, params, result)
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()
	var res protocol.InitializeResult
	require.NoError(t, h.call(protocol.MethodInitialize, protocol.InitializeParams{RootPath: h.root}, &res))
	assert.Equal(t, Name, res.Name)
	assert.True(t, res.Capabilities.Debug)
}

func (h *harness) discover(t *testing.T) []*domain.TestNode {
	t.Helper()
	var res protocol.DiscoveryResult
	require.NoError(t, h.call(protocol.MethodDiscoveryTestCases, protocol.DiscoveryParams{}, &res))
	return res.TestCases
}

func (h *harness) id(title string) string {
	path := filepath.Join(h.root, "test", "math.test.js")
	if title == "" {
		return path
	}
	return path + "::" + title
}

func (h *harness) snapshot() ([]domain.StatusUpdate, []protocol.DataOutputParams) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.StatusUpdate(nil), h.updates...), append([]protocol.DataOutputParams(nil), h.output...)
}

func fakeFactory(f *fakeExecutor) Option {
	return WithExecutorFactory(func(string, protocol.Settings, zerolog.Logger) execution.Executor { return f })
}

func TestServer_RequiresInitialize(t *testing.T) {
	h := newHarness(t)

	err := h.call(protocol.MethodDiscoveryTestCases, protocol.DiscoveryParams{}, nil)
	assert.Equal(t, protocol.ServerNotInitializedCode, protocol.ErrorCode(err))

	err = h.call(protocol.MethodRunTestCases, protocol.RunParams{}, nil)
	assert.Equal(t, protocol.ServerNotInitializedCode, protocol.ErrorCode(err))
}

func TestServer_Initialize(t *testing.T) {
	h := newHarness(t)

	err := h.call(protocol.MethodInitialize, protocol.InitializeParams{RootPath: filepath.Join(h.root, "missing")}, nil)
	assert.Equal(t, protocol.InvalidParamsCode, protocol.ErrorCode(err))
	assert.Equal(t, protocol.StateUninitialized, h.server.State())

	h.initialize(t)
	assert.Equal(t, protocol.StateReady, h.server.State())

	err = h.call(protocol.MethodInitialize, protocol.InitializeParams{RootPath: h.root}, nil)
	assert.Equal(t, protocol.InvalidRequestCode, protocol.ErrorCode(err))
}

func TestServer_Discover(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	nodes := h.discover(t)
	require.Len(t, nodes, 5)
	assert.Equal(t, h.id(""), nodes[0].ID)
	assert.Equal(t, h.id("math"), nodes[1].ID)
	assert.Equal(t, h.id("math adds"), nodes[2].ID)
	assert.True(t, nodes[3].Pending)

	path := filepath.Join(h.root, "test", "math.test.js")
	require.NoError(t, os.WriteFile(path, []byte(`it('alone', () => {});`), 0644))

	var res protocol.DiscoveryResult
	require.NoError(t, h.call(protocol.MethodDiscoveryTestCases, protocol.DiscoveryParams{Files: []string{"test/math.test.js"}}, &res))
	require.Len(t, res.TestCases, 2)
	assert.Equal(t, h.id("alone"), res.TestCases[1].ID)

	_, found := h.server.tree.Get(h.id("math adds"))
	assert.False(t, found)
}

func TestServer_RunSettlesUnreportedCases(t *testing.T) {
	exec := &fakeExecutor{fn: passFirst}
	h := newHarness(t, fakeFactory(exec))
	h.initialize(t)
	h.discover(t)

	var summary domain.RunSummary
	require.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{SessionID: "s1", TestCaseIDs: []string{h.id("math")}}, &summary))

	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.NotFound)
	assert.False(t, summary.Cancelled)

	updates, output := h.snapshot()
	require.Len(t, updates, 3)
	assert.Equal(t, h.id("math adds"), updates[0].ID)
	assert.Equal(t, domain.StatusPassed, updates[0].Status)
	assert.Equal(t, h.id("math later"), updates[1].ID)
	assert.Equal(t, domain.StatusSkipped, updates[1].Status)
	assert.Equal(t, h.id("math gone"), updates[2].ID)
	assert.Equal(t, domain.StatusNotFound, updates[2].Status)
	require.Len(t, output, 1)
	assert.Equal(t, "s1", output[0].SessionID)

	node, ok := h.server.tree.Get(h.id("math adds"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusPassed, node.Status)

	require.Len(t, exec.jobs, 1)
	require.Len(t, exec.jobs[0], 1)
	assert.Len(t, exec.jobs[0][0].Cases, 3)
}

func TestServer_RunSelection(t *testing.T) {
	exec := &fakeExecutor{fn: passFirst}
	h := newHarness(t, fakeFactory(exec))
	h.initialize(t)
	h.discover(t)

	var summary domain.RunSummary
	require.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{}, &summary))
	assert.Equal(t, 3, summary.Total)
	assert.NotEmpty(t, summary.SessionID)

	require.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{
		TestCaseIDs: []string{h.id("math gone"), h.id("math gone"), "nope"},
	}, &summary))
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, h.id("math gone"), exec.jobs[1][0].Cases[0].ID)
}

func TestServer_BusyAndCancel(t *testing.T) {
	started := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, jobs []execution.Job, opts execution.Options, r execution.Reporter) (*execution.Report, error) {
		close(started)
		<-ctx.Done()
		return &execution.Report{Cancelled: true}, nil
	}}
	h := newHarness(t, fakeFactory(exec))
	h.initialize(t)
	h.discover(t)

	done := make(chan domain.RunSummary, 1)
	go func() {
		var summary domain.RunSummary
		assert.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{SessionID: "long"}, &summary))
		done <- summary
	}()
	<-started

	err := h.call(protocol.MethodDiscoveryTestCases, protocol.DiscoveryParams{}, nil)
	assert.Equal(t, protocol.ServerBusyCode, protocol.ErrorCode(err))
	err = h.call(protocol.MethodRunTestCases, protocol.RunParams{}, nil)
	assert.Equal(t, protocol.ServerBusyCode, protocol.ErrorCode(err))

	require.NoError(t, h.client.Notify(protocol.MethodCancel, protocol.CancelParams{SessionID: "other"}))
	require.NoError(t, h.client.Notify(protocol.MethodCancel, protocol.CancelParams{SessionID: "long"}))

	select {
	case summary := <-done:
		assert.True(t, summary.Cancelled)
		assert.Equal(t, 3, summary.Total)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}

	h.discover(t)
}

func TestServer_CancelBeforeRunRegisters(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, jobs []execution.Job, opts execution.Options, r execution.Reporter) (*execution.Report, error) {
		select {
		case <-ctx.Done():
			return &execution.Report{Cancelled: true}, nil
		case <-time.After(5 * time.Second):
			return passFirst(ctx, jobs, opts, r)
		}
	}}
	h := newHarness(t, fakeFactory(exec))
	h.initialize(t)
	h.discover(t)

	require.NoError(t, h.client.Notify(protocol.MethodCancel, protocol.CancelParams{SessionID: "early"}))

	var summary domain.RunSummary
	require.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{SessionID: "early"}, &summary))
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 0, summary.Passed)

	require.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{SessionID: "later"}, &summary))
	assert.False(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Passed)
}

func TestServer_CancelKeepsReportedStatuses(t *testing.T) {
	reported := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, jobs []execution.Job, opts execution.Options, r execution.Reporter) (*execution.Report, error) {
		c := jobs[0].Cases[0]
		r.Update(domain.StatusUpdate{ID: c.ID, Status: domain.StatusFailed, Duration: domain.Millis(250), ErrorMessage: "boom", SessionID: opts.SessionID})
		close(reported)
		<-ctx.Done()
		return &execution.Report{
			Cancelled: true,
			Jobs:      []execution.JobResult{{Path: jobs[0].Path, Reported: map[string]domain.Status{c.ID: domain.StatusFailed}}},
		}, nil
	}}
	h := newHarness(t, fakeFactory(exec))
	h.initialize(t)
	h.discover(t)

	done := make(chan domain.RunSummary, 1)
	go func() {
		var summary domain.RunSummary
		assert.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{SessionID: "mid"}, &summary))
		done <- summary
	}()
	<-reported
	require.NoError(t, h.client.Notify(protocol.MethodCancel, protocol.CancelParams{SessionID: "mid"}))

	var summary domain.RunSummary
	select {
	case summary = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Failed)

	node, ok := h.server.tree.Get(h.id("math adds"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, node.Status)
	require.NotNil(t, node.Duration)
	assert.Equal(t, int64(250), *node.Duration)

	updates, _ := h.snapshot()
	for _, u := range updates {
		assert.NotEqual(t, domain.StatusNotFound, u.Status, u.ID)
	}
}

func TestServer_RemoteProcessFailure(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, jobs []execution.Job, opts execution.Options, r execution.Reporter) (*execution.Report, error) {
		r.Update(domain.StatusUpdate{ID: jobs[0].Cases[0].ID, Status: domain.StatusFailed, SessionID: opts.SessionID})
		return &execution.Report{Jobs: []execution.JobResult{{Path: jobs[0].Path}}}, errors.Join(execution.ErrProcessFailed)
	}}
	h := newHarness(t, fakeFactory(exec))
	h.initialize(t)
	h.discover(t)

	err := h.call(protocol.MethodRunTestCases, protocol.RunParams{}, nil)
	assert.Equal(t, protocol.RemoteProcessFailureCode, protocol.ErrorCode(err))

	updates, _ := h.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, domain.StatusFailed, updates[0].Status)
	assert.Equal(t, protocol.StateReady, h.server.State())
}

func TestServer_Shutdown(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	require.NoError(t, h.call(protocol.MethodShutdown, nil, nil))
	err := h.call(protocol.MethodDiscoveryTestCases, protocol.DiscoveryParams{}, nil)
	assert.Equal(t, protocol.InvalidRequestCode, protocol.ErrorCode(err))

	require.NoError(t, h.client.Notify(protocol.MethodExit, nil))
	select {
	case <-h.client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed after exit")
	}
}

func TestServer_RunWithMocha(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	h := newHarness(t)

	script := `#!/bin/sh
printf '%s\n' '["start",{"total":2}]'
printf '%s\n' 'Debugger listening on ws://127.0.0.1:9229/x' >&2
printf '%s\n' '["pass",{"title":"adds","fullTitle":"math adds","duration":3}]'
printf '%s\n' '["fail",{"title":"gone","fullTitle":"math gone","duration":1,"err":"nope","stack":"Error: nope"}]'
printf '%s\n' '["end",{"tests":2,"passes":1,"failures":1}]'
exit 1
`
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "fake-mocha"), []byte(script), 0755))

	var res protocol.InitializeResult
	require.NoError(t, h.call(protocol.MethodInitialize, protocol.InitializeParams{
		RootPath: h.root,
		Settings: protocol.Settings{MochaPath: "./fake-mocha", Processors: 2},
	}, &res))
	h.discover(t)

	var summary domain.RunSummary
	require.NoError(t, h.call(protocol.MethodRunTestCases, protocol.RunParams{Debug: true}, &summary))
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.debug, 1)
	assert.Contains(t, h.debug[0].Text, "Debugger listening on")
}
