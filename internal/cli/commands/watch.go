package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/bep/debounce"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"mte/internal/client"
	"mte/internal/discovery"
	"mte/internal/domain"
)

// WatchCommand handles the watch command
type WatchCommand struct {
	*env
	mu sync.Mutex
}

// changeSet collects changed files between two debounced rediscoveries
type changeSet struct {
	mu    sync.Mutex
	files map[string]bool
}

func newChangeSet() *changeSet {
	return &changeSet{files: make(map[string]bool)}
}

func (s *changeSet) add(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = true
}

// take returns the collected files, sorted, and empties the set
func (s *changeSet) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make([]string, 0, len(s.files))
	for f := range s.files {
		files = append(files, f)
	}
	s.files = make(map[string]bool)
	sort.Strings(files)
	return files
}

// watchDirs adds dir and every directory below it that the scanner does not skip
func watchDirs(watcher *fsnotify.Watcher, root, dir string, scanner *discovery.Scanner) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." && scanner.Skips(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// Execute runs the command
func (wc *WatchCommand) Execute(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := wc.connect(ctx)
	if err != nil {
		return err
	}
	defer c.StopServer()

	root := wc.config.RootPath()
	scanner := discovery.NewScanner(wc.config.Discovery.SkipDirs, wc.config.Discovery.Include, wc.config.Discovery.Exclude)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watchDirs(watcher, root, root, scanner); err != nil {
		return err
	}

	color.Cyan("Watching %d test case(s) in %s, press Ctrl+C to stop", len(c.Tree().TestCases()), root)

	changes := newChangeSet()
	debounced := debounce.New(wc.config.Watch.Debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			rel, err := filepath.Rel(root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if scanner.Skips(rel) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchDirs(watcher, root, event.Name, scanner); err != nil {
						wc.log.Warn().Err(err).Str("path", event.Name).Msg("watch directory")
					}
					continue
				}
			}
			if !scanner.Matches(rel) {
				continue
			}
			changes.add(event.Name)
			debounced(func() { wc.rediscover(ctx, c, changes.take()) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			wc.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// discoverChanged rediscovers files, restarting a broken server and rebuilding its tree first
func (wc *WatchCommand) discoverChanged(ctx context.Context, c *client.Client, files []string) ([]*domain.TestNode, error) {
	nodes, err := c.DiscoverFiles(ctx, files)
	if !errors.Is(err, client.ErrBroken) {
		return nodes, err
	}

	wc.log.Warn().Err(err).Msg("restarting test server")
	if err := c.Restart(ctx); err != nil {
		return nil, err
	}
	if _, err := c.DiscoveryWorkspaceTests(ctx, wc.config.RootPath()); err != nil {
		return nil, err
	}
	return c.DiscoverFiles(ctx, files)
}

// rediscover refreshes the changed files and runs their test cases when asked to
func (wc *WatchCommand) rediscover(ctx context.Context, c *client.Client, files []string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if len(files) == 0 || ctx.Err() != nil {
		return
	}

	nodes, err := wc.discoverChanged(ctx, c, files)
	if err != nil {
		wc.log.Error().Err(err).Strs("files", files).Msg("rediscovery failed")
		return
	}

	var cases []*domain.TestNode
	for _, n := range nodes {
		if n.IsTestCase {
			cases = append(cases, n)
		}
	}
	color.Cyan("Rediscovered %d file(s): %d test case(s)", len(files), len(cases))
	if !wc.config.Flags.Run || len(cases) == 0 {
		return
	}

	summary, err := c.RunTests(ctx, cases, false)
	if err != nil {
		wc.log.Error().Err(err).Msg("run failed")
		return
	}
	if summary.Success() {
		color.Green("✓ %d passed, %d skipped", summary.Passed, summary.Skipped)
		return
	}
	color.Red("✗ %d failed, %d passed", summary.Failed, summary.Passed)

	var failed []*domain.TestNode
	for _, n := range c.Tree().TestCases() {
		if n.Status == domain.StatusFailed && n.SessionID == c.SessionID() {
			failed = append(failed, n)
		}
	}
	wc.formatter().PrintFailedTestsTree(failed)
}
