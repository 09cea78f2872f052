package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"mte/internal/domain"
)

const maxStackLines = 10

// ResultsViewer browses the test cases of the last run
type ResultsViewer struct{}

// NewResultsViewer creates a new ResultsViewer
func NewResultsViewer() *ResultsViewer {
	return &ResultsViewer{}
}

// visibleCases returns the test cases shown in the list, optionally failures only
func visibleCases(results *domain.RunResultsOutput, failedOnly bool) []*domain.TestNode {
	var cases []*domain.TestNode
	for _, n := range results.Nodes {
		if !n.IsTestCase {
			continue
		}
		if failedOnly && n.Status != domain.StatusFailed {
			continue
		}
		cases = append(cases, n)
	}
	return cases
}

// View runs the TUI until the user exits
func (rv *ResultsViewer) View(results *domain.RunResultsOutput) error {
	if len(visibleCases(results, false)) == 0 {
		color.Yellow("No test results found")
		return nil
	}

	failedOnly := len(results.Failures()) > 0
	var cases []*domain.TestNode

	app := tview.NewApplication()
	list := tview.NewList().
		ShowSecondaryText(false).
		SetHighlightFullLine(true)
	list.SetMainTextColor(tview.Styles.PrimaryTextColor).
		SetSelectedTextColor(tcell.ColorWhite).
		SetSelectedBackgroundColor(tcell.ColorDarkCyan)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	detailsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetWordWrap(true)
	headerView := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true)

	updateDetails := func() {
		index := list.GetCurrentItem()
		if index < 0 || index >= len(cases) {
			statsView.SetText("")
			detailsView.SetText("")
			return
		}
		statsView.SetText(formatResultStats(cases[index]))
		detailsView.SetText(formatResultDetails(cases[index]))
	}

	reload := func() {
		cases = visibleCases(results, failedOnly)
		list.Clear()
		for i, n := range cases {
			list.AddItem(formatListItem(i, n), "", 0, nil)
		}
		headerView.SetText(formatHeader(results.Meta, len(cases), failedOnly))
		updateDetails()
	}

	rightSide := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(statsView, 3, 0, false).
		AddItem(tview.NewFlex().
			AddItem(detailsView, 0, 1, false).
			AddItem(tview.NewBox(), 2, 0, false), 0, 1, false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(list, 0, 1, true).
		AddItem(rightSide, 0, 2, false)

	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEnter, tcell.KeyRight:
			app.SetFocus(detailsView)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'f', 'F':
				failedOnly = !failedOnly
				reload()
				return nil
			case 'q':
				app.Stop()
				return nil
			}
		}
		return event
	})
	detailsView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyLeft, tcell.KeyEsc:
			app.SetFocus(list)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		}
		return event
	})
	list.SetChangedFunc(func(int, string, string, rune) {
		updateDetails()
	})

	reload()

	mainLayout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(headerView, 1, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(flex, 0, 1, true)

	if err := app.SetRoot(mainLayout, true).SetFocus(list).Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func formatHeader(meta domain.RunResultsMeta, shown int, failedOnly bool) string {
	filter := "all"
	if failedOnly {
		filter = "failed"
	}
	return fmt.Sprintf(" Results: %d passed, [red]%d failed[white], %d skipped | showing %s (%d) | [yellow]F[white] toggle failed, → details, ← back, [yellow]Q[white] to exit ",
		meta.PassedTestCases, meta.FailedTestCases, meta.SkippedCases, filter, shown)
}

// tagColor maps a status to a tview color tag
func tagColor(s domain.Status) string {
	switch s {
	case domain.StatusPassed:
		return "green"
	case domain.StatusFailed:
		return "red"
	case domain.StatusSkipped:
		return "yellow"
	case domain.StatusNotFound:
		return "purple"
	default:
		return "gray"
	}
}

func formatListItem(index int, n *domain.TestNode) string {
	return fmt.Sprintf("[%s]%s[white] [yellow]%d.[white] %s", tagColor(n.Status), n.Status.Label(), index+1, tview.Escape(n.FullTitle))
}

func formatResultStats(n *domain.TestNode) string {
	return fmt.Sprintf("[cyan]path:[white] [yellow]%s[white]::[yellow]%s[white]\n",
		tview.Escape(n.Path), tview.Escape(n.FullTitle))
}

// formatResultDetails renders a test case using tview color tags
func formatResultDetails(n *domain.TestNode) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s]%s %s[white]\n\n", tagColor(n.Status), n.Status.Label(), tview.Escape(n.Title))
	fmt.Fprintf(&b, "[cyan]Source:[white] %s\n", tview.Escape(n.Location()))
	if ms, ok := n.DurationMillis(); ok {
		fmt.Fprintf(&b, "[cyan]Duration:[white] %dms\n", ms)
	}
	if n.StartTime != nil {
		fmt.Fprintf(&b, "[cyan]Start Time:[white] %s\n", n.StartTime.Format("2006-01-02 15:04:05.000"))
	}
	if n.EndTime != nil {
		fmt.Fprintf(&b, "[cyan]End Time:[white] %s\n", n.EndTime.Format("2006-01-02 15:04:05.000"))
	}

	if n.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n[yellow]Error:[white]\n%s\n", tview.Escape(n.ErrorMessage))
	}
	stack := n.StackLines()
	if len(stack) > 0 {
		b.WriteString("\n[yellow]Stack Trace:[white]\n")
		for i, line := range stack {
			if i == maxStackLines {
				fmt.Fprintf(&b, "  [gray]... and %d more lines[white]\n", len(stack)-maxStackLines)
				break
			}
			fmt.Fprintf(&b, "  %s\n", tview.Escape(line))
		}
	}
	return b.String()
}
