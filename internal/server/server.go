// Package server implements the test language server: it answers discovery and run requests
// on a protocol connection and streams results back while mocha runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"mte/internal/config"
	"mte/internal/discovery"
	"mte/internal/domain"
	"mte/internal/execution"
	"mte/internal/protocol"
	"mte/internal/tree"
)

// Name is reported in the initialize result
const Name = "mte"

// ExecutorFactory builds the executor for an initialized workspace
type ExecutorFactory func(root string, settings protocol.Settings, log zerolog.Logger) execution.Executor

// MochaExecutor runs jobs through a pool of mocha processes
func MochaExecutor(root string, settings protocol.Settings, log zerolog.Logger) execution.Executor {
	runner := execution.NewRunner(execution.Config{
		Root:      root,
		MochaPath: settings.MochaPath,
		MochaArgs: settings.MochaArgs,
		EnvFile:   settings.EnvFile,
	}, log)
	return execution.NewWorkerPool(runner, execution.NewRoundRobinScheduler(), settings.Processors, log)
}

// Option configures a Server
type Option func(*Server)

// WithExecutorFactory replaces the mocha executor
func WithExecutorFactory(f ExecutorFactory) Option {
	return func(s *Server) { s.newExecutor = f }
}

// WithVersion sets the version reported by initialize
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server serves one client connection
type Server struct {
	conn        *protocol.Conn
	state       protocol.StateMachine
	log         zerolog.Logger
	version     string
	newExecutor ExecutorFactory

	mu         sync.Mutex
	root       string
	settings   protocol.Settings
	workspace  *discovery.Workspace
	executor   execution.Executor
	tree       *tree.Collection
	runSession string
	cancelRun  context.CancelFunc

	// pendingCancel names a session cancelled before its run registered
	pendingCancel string
}

// New registers the server handlers on conn
func New(conn *protocol.Conn, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		conn:        conn,
		log:         log.With().Str("component", "server").Logger(),
		version:     "dev",
		newExecutor: MochaExecutor,
		tree:        tree.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	conn.HandleRequest(protocol.MethodInitialize, s.initialize)
	conn.HandleRequest(protocol.MethodDiscoveryTestCases, s.discover)
	conn.HandleRequest(protocol.MethodRunTestCases, s.run)
	conn.HandleRequest(protocol.MethodShutdown, s.shutdown)
	conn.HandleNotification(protocol.MethodCancel, s.cancel)
	conn.HandleNotification(protocol.MethodExit, s.exit)
	return s
}

// Run serves the connection until it closes
func (s *Server) Run(ctx context.Context) error {
	err := s.conn.Run(ctx)
	s.stopRun("")
	_ = s.state.Enter(protocol.StateClosed)
	return err
}

// State returns the session state
func (s *Server) State() protocol.State {
	return s.state.Current()
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return protocol.NewError(protocol.InvalidParamsCode, "invalid params: %v", err)
	}
	return nil
}

// enter maps refused transitions onto protocol errors
func (s *Server) enter(to protocol.State) error {
	err := s.state.Enter(to)
	if err == nil {
		return nil
	}
	var te *protocol.TransitionError
	if errors.As(err, &te) {
		switch {
		case te.From == protocol.StateClosed:
			return protocol.NewError(protocol.InvalidRequestCode, "server is shut down")
		case te.NotInitialized():
			return protocol.NewError(protocol.ServerNotInitializedCode, "server not initialized")
		case te.Busy():
			return protocol.NewError(protocol.ServerBusyCode, "server is %s", te.From)
		}
	}
	return protocol.NewError(protocol.InvalidRequestCode, "%v", err)
}

func (s *Server) initialize(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if err := s.state.Enter(protocol.StateInitializing); err != nil {
		return nil, protocol.NewError(protocol.InvalidRequestCode, "initialize: %v", err)
	}

	var params protocol.InitializeParams
	if err := decodeParams(raw, &params); err != nil {
		_ = s.state.Enter(protocol.StateUninitialized)
		return nil, err
	}
	root, err := checkRoot(params.RootPath)
	if err != nil {
		_ = s.state.Enter(protocol.StateUninitialized)
		return nil, protocol.NewError(protocol.InvalidParamsCode, "%v", err)
	}
	settings := withDefaults(params.Settings)
	log := s.log.With().Str("root", root).Logger()

	scanner := discovery.NewScanner(settings.SkipDirs, settings.Include, settings.Exclude)
	workspace := discovery.NewWorkspace(scanner, discovery.NewFinder(log), settings.Workers, log)

	s.mu.Lock()
	s.root = root
	s.settings = settings
	s.workspace = workspace
	s.executor = s.newExecutor(root, settings, log)
	s.tree.Clear()
	s.mu.Unlock()

	if err := s.state.Enter(protocol.StateReady); err != nil {
		return nil, protocol.NewError(protocol.InvalidRequestCode, "initialize: %v", err)
	}
	log.Info().Int("client_pid", params.ProcessID).Msg("initialized")

	return protocol.InitializeResult{
		Name:    Name,
		Version: s.version,
		Capabilities: protocol.Capabilities{
			Debug:     true,
			Cancel:    true,
			Languages: []string{"javascript", "typescript"},
		},
	}, nil
}

func checkRoot(root string) (string, error) {
	if root == "" {
		return "", errors.New("rootPath is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root %s is not a directory", abs)
	}
	return abs, nil
}

func withDefaults(s protocol.Settings) protocol.Settings {
	if s.MochaPath == "" {
		s.MochaPath = config.DefaultMochaPath
	}
	if len(s.Include) == 0 {
		s.Include = config.DefaultInclude
	}
	if s.SkipDirs == nil {
		s.SkipDirs = config.DefaultSkipDirs
	}
	if s.Workers <= 0 {
		s.Workers = config.DefaultDiscoveryWorkers
	}
	if s.Processors <= 0 {
		s.Processors = config.DefaultProcessors
	}
	return s
}

func (s *Server) discover(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if err := s.enter(protocol.StateDiscovering); err != nil {
		return nil, err
	}
	defer func() { _ = s.state.Enter(protocol.StateReady) }()

	var params protocol.DiscoveryParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	root, workspace := s.root, s.workspace
	s.mu.Unlock()

	if len(params.Files) > 0 {
		files := make([]string, len(params.Files))
		for i, f := range params.Files {
			files[i] = resolve(root, f)
		}
		nodes, err := workspace.DiscoverFiles(ctx, files)
		if err != nil {
			return nil, protocol.NewError(protocol.InternalErrorCode, "discover files: %v", err)
		}
		byFile := make(map[string][]*domain.TestNode, len(files))
		for _, n := range nodes {
			byFile[n.Path] = append(byFile[n.Path], n)
		}
		for _, f := range files {
			s.tree.ReplaceFile(f, byFile[f])
		}
		s.log.Debug().Int("files", len(files)).Int("nodes", len(nodes)).Msg("rediscovered files")
		return protocol.DiscoveryResult{TestCases: nodes}, nil
	}

	dir := root
	if params.Directory != "" {
		dir = resolve(root, params.Directory)
	}
	nodes, err := workspace.Discover(ctx, dir)
	if err != nil {
		return nil, protocol.NewError(protocol.InternalErrorCode, "discover %s: %v", dir, err)
	}
	s.tree.UpsertAll(nodes)
	s.log.Info().Str("directory", dir).Int("nodes", len(nodes)).Msg("discovered")
	return protocol.DiscoveryResult{TestCases: nodes}, nil
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func (s *Server) shutdown(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	s.stopRun("")
	_ = s.state.Enter(protocol.StateClosed)
	s.log.Info().Msg("shutdown")
	return nil, nil
}

func (s *Server) exit(ctx context.Context, raw json.RawMessage) {
	s.stopRun("")
	_ = s.state.Enter(protocol.StateClosed)
	_ = s.conn.Close()
}

func (s *Server) cancel(ctx context.Context, raw json.RawMessage) {
	var params protocol.CancelParams
	if err := decodeParams(raw, &params); err != nil {
		s.log.Warn().Err(err).Msg("bad cancel params")
		return
	}
	s.stopRun(params.SessionID)
}

// stopRun cancels the active run when sessionID is empty or names it
func (s *Server) stopRun(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun == nil {
		// the run request may still be on its way to registering
		s.pendingCancel = sessionID
		return
	}
	if sessionID != "" && sessionID != s.runSession {
		s.log.Debug().Str("session", sessionID).Str("active", s.runSession).Msg("cancel for another session ignored")
		return
	}
	s.log.Info().Str("session", s.runSession).Msg("cancelling run")
	s.cancelRun()
}

func newSessionID() string {
	return ulid.Make().String()
}
