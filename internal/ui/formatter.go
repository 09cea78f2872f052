package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"mte/internal/config"
	"mte/internal/domain"
	"mte/internal/groupby"
	"mte/internal/tree"
)

// Formatter formats and displays output
type Formatter struct {
	config *config.Config
	out    io.Writer
}

// NewFormatter creates a new Formatter writing to out
func NewFormatter(cfg *config.Config, out io.Writer) *Formatter {
	return &Formatter{config: cfg, out: out}
}

// relPath shortens paths inside the workspace
func (f *Formatter) relPath(path string) string {
	if rel, err := filepath.Rel(f.config.RootPath(), path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

// StatusMark is the one-character badge of a node
func StatusMark(n *domain.TestNode) string {
	if n.IsRunning {
		return color.CyanString("…")
	}
	switch n.Status {
	case domain.StatusPassed:
		return color.GreenString("✓")
	case domain.StatusFailed:
		return color.RedString("✗")
	case domain.StatusSkipped:
		return color.YellowString("-")
	case domain.StatusNotFound:
		return color.MagentaString("?")
	default:
		return "○"
	}
}

func durationSuffix(n *domain.TestNode) string {
	if ms, ok := n.DurationMillis(); ok {
		return color.HiBlackString(" (%dms)", ms)
	}
	return ""
}

// PrintTree prints every file with its suites and cases
func (f *Formatter) PrintTree(c *tree.Collection) {
	roots := c.Roots()
	cases := len(c.TestCases())
	color.New(color.FgGreen).Fprintf(f.out, "Found %d test case(s) in %d file(s):\n\n", cases, len(roots))

	for i, root := range roots {
		isLastFile := i == len(roots)-1
		connector := "├── "
		if isLastFile {
			connector = "└── "
		}
		fmt.Fprintf(f.out, "%s%s\n", connector, color.CyanString(f.relPath(root.Path)))

		prefix := "│   "
		if isLastFile {
			prefix = "    "
		}
		children := c.Children(root.ID)
		if len(children) == 0 {
			fmt.Fprintf(f.out, "%s└── %s\n", prefix, color.RedString("(no test cases found)"))
		}
		f.printChildren(c, children, prefix)
	}
}

func (f *Formatter) printChildren(c *tree.Collection, nodes []*domain.TestNode, prefix string) {
	for i, n := range nodes {
		isLast := i == len(nodes)-1
		connector, childPrefix := "├── ", prefix+"│   "
		if isLast {
			connector, childPrefix = "└── ", prefix+"    "
		}

		title := n.Title
		if n.Kind.IsContainer() {
			title = color.YellowString(title)
		}
		if n.Pending {
			title += color.HiBlackString(" (skipped)")
		}
		fmt.Fprintf(f.out, "%s%s%s %s%s\n", prefix, connector, StatusMark(n), title, durationSuffix(n))
		f.printChildren(c, c.Children(n.ID), childPrefix)
	}
}

// PrintGroups prints the test cases grouped by the strategy
func (f *Formatter) PrintGroups(strategy groupby.Strategy, nodes []*domain.TestNode) {
	color.New(color.FgCyan, color.Bold).Fprintf(f.out, "%s\n", strategy.Name())
	fmt.Fprintf(f.out, "%s\n\n", color.HiBlackString(strategy.Description()))

	labels := strategy.Categories(nodes)
	if len(labels) == 0 {
		fmt.Fprintln(f.out, color.YellowString("No test cases found"))
		return
	}
	for _, label := range labels {
		fmt.Fprintf(f.out, "%s %s\n", statusColor(label.Status)(label.Name), color.HiBlackString("(%d)", len(label.Nodes)))
		for i, n := range label.Nodes {
			connector := "├── "
			if i == len(label.Nodes)-1 {
				connector = "└── "
			}
			fmt.Fprintf(f.out, "%s%s %s %s%s\n", connector, StatusMark(n), n.FullTitle,
				color.HiBlackString("%s:%d", f.relPath(n.Path), n.Line+1), durationSuffix(n))
		}
		fmt.Fprintln(f.out)
	}
}

func statusColor(s domain.Status) func(format string, a ...interface{}) string {
	switch s {
	case domain.StatusPassed:
		return color.GreenString
	case domain.StatusFailed:
		return color.RedString
	case domain.StatusSkipped:
		return color.YellowString
	case domain.StatusNotFound:
		return color.MagentaString
	default:
		return color.WhiteString
	}
}

// PrintTestResult prints one test case result: title, source position, timings and error
func (f *Formatter) PrintTestResult(n *domain.TestNode) {
	fmt.Fprintln(f.out, n.Title)
	fmt.Fprintf(f.out, "Source: %s\n", n.Location())
	if n.Status == domain.StatusNone {
		return
	}
	if ms, ok := n.DurationMillis(); ok {
		fmt.Fprintf(f.out, "Duration: %d\n", ms)
	}
	if n.StartTime != nil {
		fmt.Fprintf(f.out, "Start Time: %s\n", n.StartTime.Format("2006-01-02 15:04:05.000"))
	}
	if n.EndTime != nil {
		fmt.Fprintf(f.out, "End Time: %s\n", n.EndTime.Format("2006-01-02 15:04:05.000"))
	}
	if n.Status == domain.StatusFailed {
		fmt.Fprintf(f.out, "Error: %s\n", color.RedString(n.ErrorMessage))
		fmt.Fprintf(f.out, "Stack Trace: %s\n", n.ErrorStackTrace)
	}
}

// PrintMetaStats displays the statistics of a stored run, followed by its failures
func (f *Formatter) PrintMetaStats(output *domain.RunResultsOutput) {
	meta := output.Meta
	w := f.out

	fmt.Fprint(w, "\n")
	cyan := color.New(color.FgCyan)
	cyan.Fprintln(w, "╔═══════════════════════════════════════════════════════════════╗")
	cyan.Fprintln(w, "║                    Test Execution Statistics                  ║")
	cyan.Fprintln(w, "╚═══════════════════════════════════════════════════════════════╝")

	const sep = "├─────────────────────────────────┼─────────────────────────────┤"
	rows := []struct {
		name  string
		value string
		paint func(format string, a ...interface{}) string
	}{
		{"Total Test Cases", fmt.Sprint(meta.TotalTestCases), color.WhiteString},
		{"Passed Test Cases", fmt.Sprint(meta.PassedTestCases), color.GreenString},
		{"Failed Test Cases", fmt.Sprint(meta.FailedTestCases), color.RedString},
		{"Skipped Test Cases", fmt.Sprint(meta.SkippedCases), color.YellowString},
		{"Not Found Test Cases", fmt.Sprint(meta.NotFoundCases), color.MagentaString},
		{"Duration", fmt.Sprintf("%.2fs", meta.DurationSeconds), color.WhiteString},
		{"Workers", fmt.Sprint(meta.Workers), color.WhiteString},
		{"Timestamp", meta.Timestamp, color.WhiteString},
	}
	fmt.Fprintln(w, "┌─────────────────────────────────┬─────────────────────────────┐")
	for i, row := range rows {
		fmt.Fprintf(w, "│ %-31s │ %s │\n", row.name, row.paint("%-27s", row.value))
		if i < len(rows)-1 {
			fmt.Fprintln(w, sep)
		}
	}
	fmt.Fprintln(w, "└─────────────────────────────────┴─────────────────────────────┘")

	fmt.Fprintln(w)
	failures := output.Failures()
	switch {
	case meta.Cancelled:
		fmt.Fprintln(w, color.YellowString("■ Run was cancelled"))
	case len(failures) == 0:
		fmt.Fprintln(w, color.GreenString("✓ All tests passed!"))
	default:
		fmt.Fprintln(w, color.RedString("✗ %d test case(s) failed", len(failures)))
		fmt.Fprintln(w)
		f.PrintFailedTestsTree(failures)
	}
}

// treeNode is a directory or file in the failures tree
type treeNode struct {
	name     string
	children map[string]*treeNode
	failures []*domain.TestNode
	isFile   bool
}

// PrintFailedTestsTree prints failed cases below their directories and files
func (f *Formatter) PrintFailedTestsTree(failures []*domain.TestNode) {
	if len(failures) == 0 {
		return
	}

	root := &treeNode{children: make(map[string]*treeNode)}
	for _, failure := range failures {
		parts := strings.Split(f.relPath(failure.Path), "/")
		current := root
		for i, part := range parts {
			if part == "" {
				continue
			}
			if current.children[part] == nil {
				current.children[part] = &treeNode{
					name:     part,
					children: make(map[string]*treeNode),
					isFile:   i == len(parts)-1,
				}
			}
			current = current.children[part]
		}
		current.failures = append(current.failures, failure)
	}
	f.printTreeNode(root, "")
}

func (f *Formatter) printTreeNode(node *treeNode, prefix string) {
	keys := make([]string, 0, len(node.children))
	for key := range node.children {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for i, key := range keys {
		child := node.children[key]
		isLast := i == len(keys)-1
		connector, childPrefix := "├── ", prefix+"│   "
		if isLast {
			connector, childPrefix = "└── ", prefix+"    "
		}

		if child.isFile {
			fmt.Fprintf(f.out, "%s%s%s\n", prefix, connector, color.YellowString(child.name))
			for j, failure := range child.failures {
				caseConnector := "├── "
				if j == len(child.failures)-1 {
					caseConnector = "└── "
				}
				fmt.Fprintf(f.out, "%s%s%s %s\n", childPrefix, caseConnector, color.RedString(failure.FullTitle),
					color.HiBlackString(":%d", failure.Line+1))
			}
			continue
		}
		fmt.Fprintf(f.out, "%s%s%s\n", prefix, connector, color.CyanString(child.name))
		f.printTreeNode(child, childPrefix)
	}
}
