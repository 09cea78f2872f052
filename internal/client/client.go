// Package client drives a test language server: it owns the connection lifecycle, keeps the
// test tree populated from discovery and applies the status updates streamed during runs.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"mte/internal/domain"
	"mte/internal/protocol"
	"mte/internal/tree"
)

var (
	// ErrNotInitialized is returned before a successful Initialize
	ErrNotInitialized = errors.New("client not initialized")
	// ErrBroken is returned after a timeout or a lost connection, until Restart
	ErrBroken = errors.New("connection broken, restart required")
)

const (
	shutdownTimeout = 2 * time.Second
	eventBuffer     = 1024
)

// EventKind tells subscribers what changed
type EventKind int

const (
	// EventChanged carries the changed node, or nil when the whole tree changed
	EventChanged EventKind = iota
	EventOutput
	EventDebug
)

// Event is delivered to subscribers
type Event struct {
	Kind EventKind
	Node *domain.TestNode
	Text string
}

// Options configure a Client
type Options struct {
	Root              string
	Settings          protocol.Settings
	InitializeTimeout time.Duration
}

// Client talks to one server at a time. Discovery and runs are serialised.
type Client struct {
	dial Dialer
	opts Options
	log  zerolog.Logger
	tree *tree.Collection

	state protocol.StateMachine
	// serialises discovery and runs
	op sync.Mutex

	mu        sync.Mutex
	conn      *protocol.Conn
	broken    bool
	sessionID string
	server    protocol.InitializeResult
	subs      map[int]chan Event
	nextSub   int
}

// New creates a Client; nothing is dialed before Initialize
func New(dial Dialer, opts Options, log zerolog.Logger) *Client {
	if opts.InitializeTimeout <= 0 {
		opts.InitializeTimeout = 10 * time.Second
	}
	return &Client{
		dial: dial,
		opts: opts,
		log:  log.With().Str("component", "client").Logger(),
		tree: tree.New(),
		subs: make(map[int]chan Event),
	}
}

// Tree returns the test tree
func (c *Client) Tree() *tree.Collection {
	return c.tree
}

// State returns the session state
func (c *Client) State() protocol.State {
	return c.state.Current()
}

// SessionID returns the id of the current or last run
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Server returns what the server reported in initialize
func (c *Client) Server() protocol.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Subscribe returns a channel of change events and a function to stop receiving them.
// Events are dropped for subscribers that fall too far behind.
func (c *Client) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, eventBuffer)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

func (c *Client) emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
			c.log.Warn().Int("kind", int(e.Kind)).Msg("subscriber too slow, event dropped")
		}
	}
}

// Initialize dials the server and performs the handshake within the initialize timeout
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.state.Enter(protocol.StateInitializing); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.InitializeTimeout)
	defer cancel()

	stream, err := c.dial(ctx)
	if err != nil {
		_ = c.state.Enter(protocol.StateUninitialized)
		return fmt.Errorf("connect: %w", err)
	}
	conn := protocol.NewConn(stream, c.log)
	conn.HandleNotification(protocol.MethodTestCaseUpdate, c.onUpdate)
	conn.HandleNotification(protocol.MethodDataOutput, c.onOutput)
	conn.HandleNotification(protocol.MethodDebugInformation, c.onDebug)
	go func() {
		if err := conn.Run(context.Background()); err != nil {
			c.log.Warn().Err(err).Msg("connection lost")
		}
	}()
	go c.watch(conn)

	var result protocol.InitializeResult
	err = conn.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		RootPath:  c.opts.Root,
		ProcessID: os.Getpid(),
		Settings:  c.opts.Settings,
	}, &result)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, protocol.ErrTimeout) {
			c.markBroken()
			return fmt.Errorf("initialize: %w: %w", ErrBroken, err)
		}
		_ = c.state.Enter(protocol.StateUninitialized)
		return fmt.Errorf("initialize: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.server = result
	c.mu.Unlock()

	if err := c.state.Enter(protocol.StateReady); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.log.Info().Str("server", result.Name).Str("version", result.Version).Msg("initialized")
	return nil
}

// watch marks the client broken when the connection drops while in use
func (c *Client) watch(conn *protocol.Conn) {
	<-conn.Done()
	c.mu.Lock()
	current := c.conn == conn
	c.mu.Unlock()
	if current && c.state.Current() != protocol.StateClosed {
		c.log.Warn().Msg("server connection closed")
		c.markBroken()
	}
}

func (c *Client) markBroken() {
	c.mu.Lock()
	c.broken = true
	conn := c.conn
	c.mu.Unlock()
	_ = c.state.Enter(protocol.StateClosed)
	if conn != nil {
		_ = conn.Close()
	}
	if stopped := c.tree.StopRunning(); len(stopped) > 0 {
		c.emit(Event{Kind: EventChanged})
	}
}

// begin enters an operation state, translating refusals into client errors
func (c *Client) begin(to protocol.State) (*protocol.Conn, error) {
	c.mu.Lock()
	broken, conn := c.broken, c.conn
	c.mu.Unlock()
	if broken {
		return nil, ErrBroken
	}
	if err := c.state.Enter(to); err != nil {
		var te *protocol.TransitionError
		if errors.As(err, &te) && te.NotInitialized() {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) end() {
	_ = c.state.Enter(protocol.StateReady)
}

func (c *Client) failed(op string, err error) error {
	if errors.Is(err, protocol.ErrTimeout) || errors.Is(err, protocol.ErrConnClosed) {
		c.markBroken()
		return fmt.Errorf("%s: %w: %w", op, ErrBroken, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// DiscoveryWorkspaceTests discovers every test under root and replaces the tree with the result
func (c *Client) DiscoveryWorkspaceTests(ctx context.Context, root string) ([]*domain.TestNode, error) {
	c.op.Lock()
	defer c.op.Unlock()

	conn, err := c.begin(protocol.StateDiscovering)
	if err != nil {
		return nil, err
	}
	defer c.end()

	var result protocol.DiscoveryResult
	if err := conn.Call(ctx, protocol.MethodDiscoveryTestCases, protocol.DiscoveryParams{Directory: root}, &result); err != nil {
		return nil, c.failed("discover", err)
	}

	c.tree.UpsertAll(result.TestCases)
	c.emit(Event{Kind: EventChanged})
	return result.TestCases, nil
}

// DiscoverFiles rediscovers single files and replaces their nodes in the tree
func (c *Client) DiscoverFiles(ctx context.Context, files []string) ([]*domain.TestNode, error) {
	c.op.Lock()
	defer c.op.Unlock()

	conn, err := c.begin(protocol.StateDiscovering)
	if err != nil {
		return nil, err
	}
	defer c.end()

	var result protocol.DiscoveryResult
	if err := conn.Call(ctx, protocol.MethodDiscoveryTestCases, protocol.DiscoveryParams{Files: files}, &result); err != nil {
		return nil, c.failed("discover files", err)
	}

	byPath := make(map[string][]*domain.TestNode)
	var paths []string
	for _, n := range result.TestCases {
		if _, ok := byPath[n.Path]; !ok {
			paths = append(paths, n.Path)
		}
		byPath[n.Path] = append(byPath[n.Path], n)
	}
	for _, p := range paths {
		c.tree.ReplaceFile(p, byPath[p])
	}
	// files that yielded nothing were deleted or became unreadable
	for _, f := range files {
		if _, ok := byPath[f]; !ok && filepath.IsAbs(f) {
			c.tree.ReplaceFile(f, nil)
		}
	}
	c.emit(Event{Kind: EventChanged})
	return result.TestCases, nil
}

// RunTests runs the given nodes, containers included, or every test when nodes is empty.
// Nodes are marked running until the server answers; the answer is the only completion signal.
func (c *Client) RunTests(ctx context.Context, nodes []*domain.TestNode, debug bool) (domain.RunSummary, error) {
	return c.run(ctx, nodes, debug, false)
}

// RunTestsFailFast is RunTests that stops starting new files after the first failure
func (c *Client) RunTestsFailFast(ctx context.Context, nodes []*domain.TestNode, debug bool) (domain.RunSummary, error) {
	return c.run(ctx, nodes, debug, true)
}

func (c *Client) run(ctx context.Context, nodes []*domain.TestNode, debug, failFast bool) (domain.RunSummary, error) {
	c.op.Lock()
	defer c.op.Unlock()

	conn, err := c.begin(protocol.StateRunning)
	if err != nil {
		return domain.RunSummary{}, err
	}
	defer c.end()

	sessionID := ulid.Make().String()
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	var ids []string
	running := c.runningIDs(nodes)
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	for _, n := range c.tree.MarkRunning(running, sessionID) {
		c.emit(Event{Kind: EventChanged, Node: n})
	}

	var summary domain.RunSummary
	err = conn.Call(ctx, protocol.MethodRunTestCases, protocol.RunParams{
		SessionID:   sessionID,
		TestCaseIDs: ids,
		Debug:       debug,
		FailFast:    failFast,
	}, &summary)

	for _, n := range c.tree.StopRunning() {
		c.emit(Event{Kind: EventChanged, Node: n})
	}
	if err != nil {
		return summary, c.failed("run", err)
	}
	return summary, nil
}

// runningIDs expands the selection to every node that will run, containers included
func (c *Client) runningIDs(nodes []*domain.TestNode) []string {
	if len(nodes) == 0 {
		var ids []string
		for _, n := range c.tree.Values() {
			ids = append(ids, n.ID)
		}
		return ids
	}
	var ids []string
	for _, n := range nodes {
		ids = append(ids, n.ID)
		for _, d := range c.tree.Descendants(n.ID) {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// StopRunningTests asks the server to cancel the current run
func (c *Client) StopRunningTests() error {
	if c.state.Current() != protocol.StateRunning {
		return nil
	}
	c.mu.Lock()
	conn, sessionID := c.conn, c.sessionID
	c.mu.Unlock()
	if conn == nil {
		return ErrNotInitialized
	}
	if err := conn.Notify(protocol.MethodCancel, protocol.CancelParams{SessionID: sessionID}); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return nil
}

// StopServer shuts the server down and closes the connection
func (c *Client) StopServer() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	_ = c.state.Enter(protocol.StateClosed)
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := conn.Call(ctx, protocol.MethodShutdown, nil, nil); err != nil {
		c.log.Debug().Err(err).Msg("shutdown")
	}
	_ = conn.Notify(protocol.MethodExit, nil)
	return conn.Close()
}

// Restart stops the server and initializes a new connection. The tree is kept.
func (c *Client) Restart(ctx context.Context) error {
	if err := c.StopServer(); err != nil {
		c.log.Debug().Err(err).Msg("stop server")
	}
	c.mu.Lock()
	c.broken = false
	c.mu.Unlock()
	c.state.Reset()
	return c.Initialize(ctx)
}

func (c *Client) onUpdate(_ context.Context, raw json.RawMessage) {
	var update domain.StatusUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		c.log.Warn().Err(err).Msg("bad test case update")
		return
	}
	if c.state.Current() != protocol.StateRunning || update.SessionID != c.SessionID() {
		c.log.Debug().Str("id", update.ID).Str("session", update.SessionID).Msg("stale update dropped")
		return
	}
	node, ok := c.tree.ApplyStatusUpdate(update)
	if !ok {
		c.log.Debug().Str("id", update.ID).Msg("update for unknown node dropped")
		return
	}
	c.emit(Event{Kind: EventChanged, Node: node})
}

func (c *Client) onOutput(_ context.Context, raw json.RawMessage) {
	var params protocol.DataOutputParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.Warn().Err(err).Msg("bad data output")
		return
	}
	c.emit(Event{Kind: EventOutput, Text: params.Text})
}

func (c *Client) onDebug(_ context.Context, raw json.RawMessage) {
	var params protocol.DebugInformationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.Warn().Err(err).Msg("bad debug information")
		return
	}
	c.emit(Event{Kind: EventDebug, Text: params.Text})
}
