package discovery

import (
	"path/filepath"
	"strings"

	"mte/internal/domain"
)

// Filter filters test files and test nodes by name pattern
type Filter struct{}

// NewFilter creates a new Filter
func NewFilter() *Filter {
	return &Filter{}
}

// FilterByName filters test files by name pattern using wildcard matching
// Supports patterns like "*user.test.js" or "*payment*"
func (f *Filter) FilterByName(files []string, pattern string) []string {
	if pattern == "" {
		return files
	}

	var filtered []string
	for _, file := range files {
		if matchName(filepath.Base(file), pattern) {
			filtered = append(filtered, file)
		}
	}
	return filtered
}

// FilterNodes keeps the non-root nodes whose full title matches the pattern.
// Matching containers are kept, so a matching describe selects everything below it.
func (f *Filter) FilterNodes(nodes []*domain.TestNode, pattern string) []*domain.TestNode {
	if pattern == "" {
		return nodes
	}

	var filtered []*domain.TestNode
	for _, n := range nodes {
		if n.IsRoot() {
			continue
		}
		if matchName(n.FullTitle, pattern) {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

// matchName tries a glob match, then falls back to matching every literal part of a
// wildcard pattern, then to a plain substring check
func matchName(name, pattern string) bool {
	if matched, err := filepath.Match(pattern, name); err == nil && matched {
		return true
	}

	if strings.Contains(pattern, "*") {
		hasPart := false
		for _, part := range strings.Split(pattern, "*") {
			if part == "" {
				continue
			}
			hasPart = true
			if !strings.Contains(name, part) {
				return false
			}
		}
		return hasPart
	}

	if !strings.Contains(pattern, "?") {
		return strings.Contains(name, pattern)
	}
	return false
}
