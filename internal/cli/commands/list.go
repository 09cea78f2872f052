package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mte/internal/discovery"
	"mte/internal/domain"
	"mte/internal/groupby"
	"mte/internal/tree"
)

// ListCommand handles the list command
type ListCommand struct {
	*env
}

// Execute runs the command
func (lc *ListCommand) Execute(cmd *cobra.Command, args []string) error {
	c, err := lc.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.StopServer()

	formatter := lc.formatter()
	flags := lc.config.Flags
	if flags.Filter == "" && flags.GroupBy == "" {
		if c.Tree().Len() == 0 {
			color.Yellow("No tests found")
			return nil
		}
		formatter.PrintTree(c.Tree())
		return nil
	}

	cases := selectCases(c.Tree(), discovery.NewFilter().FilterNodes(c.Tree().Values(), flags.Filter))
	if len(cases) == 0 {
		color.Yellow("No tests found")
		return nil
	}

	provider := groupby.NewProvider()
	if err := provider.Select(groupby.Type(lc.config.GroupBy)); err != nil {
		return err
	}
	formatter.PrintGroups(provider.Selected(), cases)
	return nil
}

// selectCases expands the selected nodes to their test cases, without duplicates, in tree order
func selectCases(t *tree.Collection, selected []*domain.TestNode) []*domain.TestNode {
	want := make(map[string]bool)
	for _, n := range selected {
		want[n.ID] = true
		for _, d := range t.Descendants(n.ID) {
			want[d.ID] = true
		}
	}
	var cases []*domain.TestNode
	for _, n := range t.TestCases() {
		if want[n.ID] {
			cases = append(cases, n)
		}
	}
	return cases
}
