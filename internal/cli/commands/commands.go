package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mte/internal/cli"
	"mte/internal/client"
	"mte/internal/config"
	"mte/internal/logger"
	"mte/internal/storage"
	"mte/internal/ui"
)

// ErrTestsFailed is returned by run when a test failed or the run was cancelled
var ErrTestsFailed = errors.New("tests failed")

// env is shared by all commands. It is filled once flags are parsed.
type env struct {
	config  *config.Config
	log     zerolog.Logger
	logFile io.Closer
	version string
	out     io.Writer
}

func (e *env) formatter() *ui.Formatter {
	return ui.NewFormatter(e.config, e.out)
}

func (e *env) storage() storage.Storage {
	return storage.NewJSONStorage(e.config)
}

// dialer connects to server.connect when set, otherwise spawns server.command over stdio
func (e *env) dialer() client.Dialer {
	if e.config.Server.Connect != "" {
		return client.WebSocket(e.config.Server.Connect)
	}
	return client.Spawn(e.config.Server.Command, e.config.Server.Args, e.config.RootPath())
}

// connect starts a client session and discovers the workspace
func (e *env) connect(ctx context.Context) (*client.Client, error) {
	c := client.New(e.dialer(), client.Options{
		Root:              e.config.RootPath(),
		Settings:          e.config.Settings(),
		InitializeTimeout: e.config.Timeouts.Initialize,
	}, e.log)
	if err := c.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("start test server: %w", err)
	}
	if _, err := c.DiscoveryWorkspaceTests(ctx, e.config.RootPath()); err != nil {
		_ = c.StopServer()
		return nil, err
	}
	return c, nil
}

// Commands holds all CLI commands
type Commands struct {
	env     *env
	Serve   *ServeCommand
	List    *ListCommand
	Run     *RunCommand
	Results *ResultsCommand
	Locate  *LocateCommand
	Watch   *WatchCommand
}

// NewCommands creates all commands with dependencies
func NewCommands(cfg *config.Config, version string, out io.Writer) *Commands {
	e := &env{config: cfg, log: zerolog.Nop(), version: version, out: out}
	return &Commands{
		env:     e,
		Serve:   &ServeCommand{env: e},
		List:    &ListCommand{env: e},
		Run:     &RunCommand{env: e},
		Results: &ResultsCommand{env: e},
		Locate:  &LocateCommand{env: e},
		Watch:   &WatchCommand{env: e},
	}
}

// Close releases the log file, if any
func (c *Commands) Close() error {
	if c.env.logFile == nil {
		return nil
	}
	return c.env.logFile.Close()
}

// setup loads the workspace configuration and applies the parsed flags over it
func (c *Commands) setup(flags *cli.Flags, cfg *config.Config) error {
	loaded, err := config.Load(flags.ProjectPath)
	if err != nil {
		return err
	}
	*cfg = *loaded
	cfg.ApplyFlags(flags.ToConfigFlags())

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	c.env.log = log
	c.env.logFile = closer
	return nil
}

// Register registers all commands with cobra
func (c *Commands) Register(rootCmd *cobra.Command, flags *cli.Flags, cfg *config.Config) {
	rootCmd.PersistentFlags().StringVarP(&flags.ProjectPath, "project", "C", config.DefaultProjectPath, "Workspace root containing the mocha project")
	rootCmd.PersistentFlags().StringVar(&flags.Connect, "connect", "", "Connect to a running server (ws://host:port) instead of spawning one")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return c.setup(flags, cfg)
	}

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the test language server",
		Long:  "Serve discovery and run requests over stdio, or over websocket with --listen",
		Args:  cobra.NoArgs,
		RunE:  c.Serve.Execute,
	}
	serveCmd.Flags().StringVar(&flags.Listen, "listen", "", "Listen for websocket clients on this address, e.g. 127.0.0.1:7357")
	rootCmd.AddCommand(serveCmd)

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered tests",
		Long:  "Discover all mocha suites and test cases in the workspace without running them",
		Args:  cobra.NoArgs,
		RunE:  c.List.Execute,
	}
	listCmd.Flags().StringVarP(&flags.Filter, "filter", "f", "", "Filter tests by full title (supports wildcards, e.g. '*login*')")
	listCmd.Flags().StringVarP(&flags.GroupBy, "group-by", "g", "", "Group test cases by duration, status or file instead of printing the tree")
	rootCmd.AddCommand(listCmd)

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run mocha tests in parallel",
		Long:  "Discover and execute mocha tests using parallel workers, one mocha process per file",
		Args:  cobra.NoArgs,
		RunE:  c.Run.Execute,
	}
	runCmd.Flags().IntVarP(&flags.Processors, "processors", "p", 0, "Number of mocha processes to run at once (default from config)")
	runCmd.Flags().StringVarP(&flags.Filter, "filter", "f", "", "Run only tests whose full title matches (supports wildcards)")
	runCmd.Flags().BoolVar(&flags.Debug, "debug", false, "Start mocha with --inspect-brk and a single worker")
	runCmd.Flags().BoolVar(&flags.FailFast, "fail-fast", false, "Stop starting new files after the first failure")
	runCmd.Flags().BoolVarP(&flags.Interactive, "interactive", "i", false, "Open the results viewer when the run has failures")
	rootCmd.AddCommand(runCmd)

	// Results command
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Show the last run",
		Long:  "Display the stored results of the last run, or browse them with --interactive",
		Args:  cobra.NoArgs,
		RunE:  c.Results.Execute,
	}
	resultsCmd.Flags().BoolVarP(&flags.Interactive, "interactive", "i", false, "Browse results in an interactive viewer")
	resultsCmd.Flags().StringVarP(&flags.Filter, "filter", "f", "", "Show the result of every test whose full title matches")
	rootCmd.AddCommand(resultsCmd)

	// Locate command
	locateCmd := &cobra.Command{
		Use:   "locate <pattern>",
		Short: "Print the source location of tests",
		Long:  "Print path:line:column of every suite or test case whose full title matches the pattern",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Locate.Execute,
	}
	rootCmd.AddCommand(locateCmd)

	// Watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Rediscover tests when files change",
		Long:  "Watch the workspace and rediscover changed test files, optionally running them",
		Args:  cobra.NoArgs,
		RunE:  c.Watch.Execute,
	}
	watchCmd.Flags().BoolVar(&flags.Run, "run", false, "Run the test cases of changed files")
	rootCmd.AddCommand(watchCmd)
}
