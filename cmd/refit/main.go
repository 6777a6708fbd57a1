package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refit",
		Short: "Framework-migration benchmark pipeline",
		Long:  "Refit drives coding agents through framework conversions and scores the results: convert, compile, run, aggregate.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newConvertCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newCompileCmd())
	cmd.AddCommand(newDockerCmd())
	cmd.AddCommand(newSummaryCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newDBCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "refit %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
