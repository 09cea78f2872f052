package discovery

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mte/internal/domain"
)

// Workspace runs the finder over every test file of a directory tree
type Workspace struct {
	scanner *Scanner
	finder  *Finder
	workers int
	log     zerolog.Logger
}

// NewWorkspace creates a Workspace discovering with at most workers files in parallel
func NewWorkspace(scanner *Scanner, finder *Finder, workers int, log zerolog.Logger) *Workspace {
	if workers <= 0 {
		workers = 1
	}
	return &Workspace{
		scanner: scanner,
		finder:  finder,
		workers: workers,
		log:     log.With().Str("component", "workspace").Logger(),
	}
}

// Scanner returns the scanner used to list files
func (w *Workspace) Scanner() *Scanner {
	return w.scanner
}

// Discover scans root and discovers every matching file
func (w *Workspace) Discover(ctx context.Context, root string) ([]*domain.TestNode, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	files, err := w.scanner.Scan(abs)
	if err != nil {
		return nil, err
	}
	return w.DiscoverFiles(ctx, files)
}

// DiscoverFiles discovers the given files concurrently. The result is the concatenation of
// each file's nodes in the order of files. A file that cannot be read is logged and skipped.
func (w *Workspace) DiscoverFiles(ctx context.Context, files []string) ([]*domain.TestNode, error) {
	perFile := make([][]*domain.TestNode, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			nodes, err := w.finder.FindTestCases(ctx, file)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				w.log.Warn().Err(err).Str("path", file).Msg("skipping file")
				return nil
			}
			perFile[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*domain.TestNode
	for _, nodes := range perFile {
		all = append(all, nodes...)
	}
	w.log.Debug().Int("files", len(files)).Int("nodes", len(all)).Msg("discovery finished")
	return all, nil
}
