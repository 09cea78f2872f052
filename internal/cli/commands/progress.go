package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"mte/internal/client"
	"mte/internal/domain"
	"mte/internal/ui"
)

// runProgress counts finished test cases from client events
type runProgress struct {
	bar      *ui.ProgressBar
	finished map[string]domain.Status
	passed   int
	failed   int
	verbose  bool
}

func newRunProgress(total int, verbose bool) *runProgress {
	p := &runProgress{finished: make(map[string]domain.Status), verbose: verbose}
	if !verbose {
		p.bar = ui.NewProgressBar(total)
	}
	return p
}

func (p *runProgress) handle(e client.Event, log zerolog.Logger) {
	switch e.Kind {
	case client.EventChanged:
		p.record(e.Node)
	case client.EventOutput:
		if p.verbose {
			fmt.Fprint(os.Stderr, e.Text)
			return
		}
		log.Debug().Str("output", strings.TrimRight(e.Text, "\n")).Msg("mocha output")
	case client.EventDebug:
		fmt.Fprintln(os.Stderr, color.MagentaString(strings.TrimRight(e.Text, "\n")))
	}
}

// record counts a test case once, when it leaves the running state with a result
func (p *runProgress) record(n *domain.TestNode) {
	if n == nil || !n.IsTestCase || n.IsRunning || n.Status == domain.StatusNone {
		return
	}
	if _, seen := p.finished[n.ID]; seen {
		return
	}
	p.finished[n.ID] = n.Status
	switch n.Status {
	case domain.StatusPassed:
		p.passed++
	case domain.StatusFailed:
		p.failed++
	}
	if p.bar != nil {
		p.bar.Update(len(p.finished), p.passed, p.failed)
	}
}

func (p *runProgress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
