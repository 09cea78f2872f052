package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mte/internal/client"
	"mte/internal/config"
	"mte/internal/domain"
	"mte/internal/protocol"
	"mte/internal/storage"
	"mte/internal/tree"
)

const mathTest = `describe('math', () => {
  it('adds', () => {});
  it.skip('later', () => {});
});
`

func init() {
	color.NoColor = true
}

// newTestEnv serves a workspace with one test file over websocket and points the config at it
func newTestEnv(t *testing.T) (*env, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "test"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "test", "math.test.js"), []byte(mathTest), 0644))

	cfg := config.New()
	cfg.ProjectPath = root
	var out bytes.Buffer
	e := &env{config: cfg, log: zerolog.Nop(), version: "test", out: &out}

	serve := &ServeCommand{env: e}
	srv := httptest.NewServer(protocol.WebSocketHandler(func(stream protocol.MessageStream) {
		_ = serve.serve(context.Background(), stream)
	}))
	t.Cleanup(srv.Close)
	cfg.Server.Connect = "ws" + strings.TrimPrefix(srv.URL, "http")
	return e, &out
}

func command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestListCommand_Tree(t *testing.T) {
	e, out := newTestEnv(t)

	require.NoError(t, (&ListCommand{env: e}).Execute(command(), nil))

	text := out.String()
	assert.Contains(t, text, "Found 2 test case(s) in 1 file(s)")
	assert.Contains(t, text, "test/math.test.js")
	assert.Contains(t, text, "○ adds")
	assert.Contains(t, text, "○ later (skipped)")
}

func TestListCommand_GroupsWithFilter(t *testing.T) {
	e, out := newTestEnv(t)
	e.config.ApplyFlags(config.Flags{Filter: "*adds*", GroupBy: "status"})

	require.NoError(t, (&ListCommand{env: e}).Execute(command(), nil))

	text := out.String()
	assert.Contains(t, text, "Not Run Tests (1)")
	assert.Contains(t, text, "math adds")
	assert.NotContains(t, text, "math later")
}

func TestListCommand_UnknownGroup(t *testing.T) {
	e, _ := newTestEnv(t)
	e.config.ApplyFlags(config.Flags{GroupBy: "color"})

	assert.Error(t, (&ListCommand{env: e}).Execute(command(), nil))
}

func TestLocateCommand(t *testing.T) {
	e, out := newTestEnv(t)

	require.NoError(t, (&LocateCommand{env: e}).Execute(command(), []string{"later"}))

	path := filepath.Join(e.config.RootPath(), "test", "math.test.js")
	assert.Equal(t, path+":2:2\tmath later\n", out.String())
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	e, out := newTestEnv(t)
	mocha := filepath.Join(e.config.RootPath(), "mocha")
	require.NoError(t, os.WriteFile(mocha, []byte(`#!/bin/sh
printf '%s\n' '["start",{"total":1}]'
printf '%s\n' '["pass",{"title":"adds","fullTitle":"math adds","duration":3}]'
printf '%s\n' '["end",{"tests":1,"passes":1}]'
`), 0755))
	e.config.Mocha.Path = mocha

	require.NoError(t, (&RunCommand{env: e}).Execute(command(), nil))
	assert.Contains(t, out.String(), "✓ All tests passed!")

	stored, err := storage.NewJSONStorage(e.config).Load()
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Meta.TotalTestCases)
	assert.Equal(t, 1, stored.Meta.PassedTestCases)
	assert.Equal(t, 1, stored.Meta.SkippedCases)
}

func TestRunCommand_Failure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	e, out := newTestEnv(t)
	mocha := filepath.Join(e.config.RootPath(), "mocha")
	require.NoError(t, os.WriteFile(mocha, []byte(`#!/bin/sh
printf '%s\n' '["start",{"total":1}]'
printf '%s\n' '["fail",{"title":"adds","fullTitle":"math adds","duration":3,"err":"nope","stack":"Error: nope"}]'
printf '%s\n' '["end",{"tests":1,"failures":1}]'
exit 1
`), 0755))
	e.config.Mocha.Path = mocha
	e.config.ApplyFlags(config.Flags{Filter: "*adds*"})

	err := (&RunCommand{env: e}).Execute(command(), nil)
	assert.ErrorIs(t, err, ErrTestsFailed)
	assert.Contains(t, out.String(), "✗ 1 test case(s) failed")
	assert.Contains(t, out.String(), "math adds :2")
}

func TestResultsCommand(t *testing.T) {
	e, out := newTestEnv(t)
	cmd := &ResultsCommand{env: e}

	require.NoError(t, cmd.Execute(command(), nil))
	assert.Empty(t, out.String())

	path := filepath.Join(e.config.RootPath(), "test", "math.test.js")
	nodes := []*domain.TestNode{
		{ID: path, Title: "math.test.js", Path: path},
		{
			ID: path + "::math adds", Title: "adds", FullTitle: "math adds", Path: path, Line: 1, Column: 2,
			ParentID: path, IsTestCase: true, Kind: domain.KindCase,
			Status: domain.StatusFailed, Duration: domain.Millis(4), ErrorMessage: "nope", ErrorStackTrace: "Error: nope",
		},
	}
	summary := domain.RunSummary{Total: 1, Failed: 1, Duration: 4}
	require.NoError(t, storage.NewJSONStorage(e.config).Save(summary, nodes, 2))

	require.NoError(t, cmd.Execute(command(), nil))
	assert.Contains(t, out.String(), "Test Execution Statistics")
	assert.Contains(t, out.String(), "math adds :2")

	out.Reset()
	e.config.ApplyFlags(config.Flags{Filter: "adds"})
	require.NoError(t, cmd.Execute(command(), nil))
	assert.Equal(t, "adds\nSource: "+path+":1:2\nDuration: 4\nError: nope\nStack Trace: Error: nope\n", out.String())
}

func TestSelectCases(t *testing.T) {
	c := tree.New()
	c.UpsertAll([]*domain.TestNode{
		{ID: "f", Path: "f"},
		{ID: "f::a", ParentID: "f", Kind: domain.KindDescribe},
		{ID: "f::a 1", ParentID: "f::a", IsTestCase: true, Kind: domain.KindCase},
		{ID: "f::a 2", ParentID: "f::a", IsTestCase: true, Kind: domain.KindCase},
		{ID: "f::b", ParentID: "f", IsTestCase: true, Kind: domain.KindCase},
	})
	a, _ := c.Get("f::a")
	one, _ := c.Get("f::a 1")

	cases := selectCases(c, []*domain.TestNode{one, a})

	var ids []string
	for _, n := range cases {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"f::a 1", "f::a 2"}, ids)
}

func TestRunProgress_Record(t *testing.T) {
	p := newRunProgress(3, true)

	p.handle(client.Event{Kind: client.EventChanged, Node: &domain.TestNode{ID: "a", IsTestCase: true, IsRunning: true}}, zerolog.Nop())
	p.handle(client.Event{Kind: client.EventChanged, Node: &domain.TestNode{ID: "a", IsTestCase: true, Status: domain.StatusPassed}}, zerolog.Nop())
	p.handle(client.Event{Kind: client.EventChanged, Node: &domain.TestNode{ID: "a", IsTestCase: true, Status: domain.StatusPassed}}, zerolog.Nop())
	p.handle(client.Event{Kind: client.EventChanged, Node: &domain.TestNode{ID: "b", IsTestCase: true, Status: domain.StatusFailed}}, zerolog.Nop())
	p.handle(client.Event{Kind: client.EventChanged, Node: &domain.TestNode{ID: "d", Status: domain.StatusFailed}}, zerolog.Nop())
	p.handle(client.Event{Kind: client.EventChanged}, zerolog.Nop())

	assert.Len(t, p.finished, 2)
	assert.Equal(t, 1, p.passed)
	assert.Equal(t, 1, p.failed)
}

func TestChangeSet(t *testing.T) {
	s := newChangeSet()
	s.add("/b.test.js")
	s.add("/a.test.js")
	s.add("/b.test.js")

	assert.Equal(t, []string{"/a.test.js", "/b.test.js"}, s.take())
	assert.Empty(t, s.take())
}

func TestWatchCommand_DiscoverAfterRestart(t *testing.T) {
	e, _ := newTestEnv(t)
	ctx := context.Background()

	var streams []protocol.MessageStream
	dial := e.dialer()
	c := client.New(func(ctx context.Context) (protocol.MessageStream, error) {
		stream, err := dial(ctx)
		if err == nil {
			streams = append(streams, stream)
		}
		return stream, err
	}, client.Options{Root: e.config.RootPath(), InitializeTimeout: 5 * time.Second}, zerolog.Nop())
	t.Cleanup(func() { _ = c.StopServer() })
	require.NoError(t, c.Initialize(ctx))
	_, err := c.DiscoveryWorkspaceTests(ctx, e.config.RootPath())
	require.NoError(t, err)

	require.NoError(t, streams[0].Close())
	require.Eventually(t, func() bool { return c.State() == protocol.StateClosed }, 5*time.Second, 10*time.Millisecond)

	file := filepath.Join(e.config.RootPath(), "test", "math.test.js")
	nodes, err := (&WatchCommand{env: e}).discoverChanged(ctx, c, []string{file})
	require.NoError(t, err)
	assert.Len(t, streams, 2)
	assert.Equal(t, protocol.StateReady, c.State())

	var cases []string
	for _, n := range nodes {
		if n.IsTestCase {
			cases = append(cases, n.FullTitle)
		}
	}
	assert.ElementsMatch(t, []string{"math adds", "math later"}, cases)
}
