package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mte/internal/discovery"
	"mte/internal/ui"
)

// ResultsCommand handles the results command
type ResultsCommand struct {
	*env
}

// Execute runs the command
func (rc *ResultsCommand) Execute(cmd *cobra.Command, args []string) error {
	results, err := rc.storage().Load()
	if errors.Is(err, os.ErrNotExist) {
		color.Yellow("No stored results, run the tests first")
		return nil
	}
	if err != nil {
		return err
	}

	if rc.config.Flags.Interactive {
		return ui.NewResultsViewer().View(results)
	}

	formatter := rc.formatter()
	if pattern := rc.config.Flags.Filter; pattern != "" {
		matched := 0
		for _, n := range discovery.NewFilter().FilterNodes(results.Nodes, pattern) {
			if !n.IsTestCase {
				continue
			}
			if matched > 0 {
				fmt.Fprintln(rc.out)
			}
			formatter.PrintTestResult(n)
			matched++
		}
		if matched == 0 {
			color.Yellow("No test cases match %q", pattern)
		}
		return nil
	}

	formatter.PrintMetaStats(results)
	return nil
}
