package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mte/internal/discovery"
)

// LocateCommand handles the locate command
type LocateCommand struct {
	*env
}

// Execute runs the command
func (lc *LocateCommand) Execute(cmd *cobra.Command, args []string) error {
	c, err := lc.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.StopServer()

	matches := discovery.NewFilter().FilterNodes(c.Tree().Values(), args[0])
	if len(matches) == 0 {
		color.Yellow("No tests match %q", args[0])
		return nil
	}
	for _, n := range matches {
		fmt.Fprintf(lc.out, "%s\t%s\n", n.Location(), n.FullTitle)
	}
	return nil
}
