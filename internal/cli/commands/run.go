package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mte/internal/client"
	"mte/internal/discovery"
	"mte/internal/domain"
	"mte/internal/ui"
)

// RunCommand handles the run command
type RunCommand struct {
	*env
}

// Execute runs the command
func (rc *RunCommand) Execute(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := rc.connect(ctx)
	if err != nil {
		return err
	}
	defer c.StopServer()

	flags := rc.config.Flags
	var selected []*domain.TestNode
	if flags.Filter != "" {
		selected = discovery.NewFilter().FilterNodes(c.Tree().Values(), flags.Filter)
		if len(selected) == 0 {
			color.Yellow("No tests to execute")
			return nil
		}
	}
	cases := c.Tree().TestCases()
	if selected != nil {
		cases = selectCases(c.Tree(), selected)
	}
	if len(cases) == 0 {
		color.Yellow("No tests to execute")
		return nil
	}

	stopSignals := rc.cancelOnInterrupt(c, cancel)
	defer stopSignals()

	progress := newRunProgress(len(cases), flags.Debug)
	events, unsubscribe := c.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range events {
			progress.handle(e, rc.log)
		}
	}()

	var summary domain.RunSummary
	if flags.FailFast {
		summary, err = c.RunTestsFailFast(ctx, selected, flags.Debug)
	} else {
		summary, err = c.RunTests(ctx, selected, flags.Debug)
	}
	unsubscribe()
	wg.Wait()
	progress.finish()
	if err != nil {
		return err
	}

	nodes := c.Tree().Values()
	if err := rc.storage().Save(summary, nodes, rc.config.Execution.Processors); err != nil {
		return fmt.Errorf("failed to save test results: %w", err)
	}

	output := &domain.RunResultsOutput{
		Meta:  domain.NewRunResultsMeta(summary, rc.config.Execution.Processors),
		Nodes: nodes,
	}
	rc.formatter().PrintMetaStats(output)

	if flags.Interactive && len(output.Failures()) > 0 {
		if err := ui.NewResultsViewer().View(output); err != nil {
			return err
		}
	}
	if !summary.Success() {
		return ErrTestsFailed
	}
	return nil
}

// cancelOnInterrupt stops the run on the first interrupt and gives up on the second
func (rc *RunCommand) cancelOnInterrupt(c *client.Client, cancel context.CancelFunc) func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		interrupted := false
		for {
			select {
			case <-done:
				return
			case <-signals:
				if interrupted {
					cancel()
					return
				}
				interrupted = true
				color.Yellow("\nStopping tests, interrupt again to abort")
				if err := c.StopRunningTests(); err != nil {
					rc.log.Warn().Err(err).Msg("stop running tests")
				}
			}
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}
