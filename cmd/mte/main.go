package main

import (
	"errors"
	"fmt"
	"os"

	"mte/internal/cli"
	"mte/internal/cli/commands"
	"mte/internal/config"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:           "mte",
		Short:         "Mocha test explorer",
		Long:          `Discover, run and inspect mocha tests from the terminal. Test files run in parallel mocha processes driven by a test language server, which editors can also talk to over stdio or websocket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Defaults until the workspace config is loaded
	cfg := config.New()

	var flags cli.Flags

	cmds := commands.NewCommands(cfg, version, os.Stdout)
	cmds.Register(rootCmd, &flags, cfg)

	err := rootCmd.Execute()
	_ = cmds.Close()
	if errors.Is(err, commands.ErrTestsFailed) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
