package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Scanner scans a workspace for test files matching include globs
type Scanner struct {
	skipDirs map[string]bool
	include  []string
	exclude  []string
}

// NewScanner creates a new Scanner. Patterns are doublestar globs relative to the scanned root.
func NewScanner(skipDirs, include, exclude []string) *Scanner {
	skipMap := make(map[string]bool)
	for _, dir := range skipDirs {
		skipMap[dir] = true
	}
	return &Scanner{skipDirs: skipMap, include: include, exclude: exclude}
}

// Scan finds all test files in the given root directory, sorted by path
func (s *Scanner) Scan(root string) ([]string, error) {
	var testFiles []string

	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("test path does not exist: %s", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test path is not a directory: %s", root)
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if s.skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if s.Matches(filepath.ToSlash(rel)) {
			testFiles = append(testFiles, path)
		}
		return nil
	})

	sort.Strings(testFiles)
	return testFiles, err
}

// Matches reports whether a slash separated path, relative to the root, is a test file
func (s *Scanner) Matches(rel string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Skips reports whether any path segment of the slash separated relative path is skipped
func (s *Scanner) Skips(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if s.skipDirs[part] || (strings.HasPrefix(part, ".") && part != "." && part != "..") {
			return true
		}
	}
	return false
}
