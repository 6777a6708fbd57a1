package main

import (
	"fmt"
	"os/exec"
	"text/tabwriter"

	"github.com/refit-bench/refit/internal/catalog"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark application catalog",
	}

	cmd.AddCommand(newBenchListCmd())
	cmd.AddCommand(newBenchTestCmd())
	return cmd
}

func newBenchListCmd() *cobra.Command {
	var root, layer string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List benchmark applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := catalog.List(root, layer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LAYER\tAPPLICATION\tFRAMEWORK\tPATH")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Layer, e.Application, e.Framework, e.Path)
			}
			w.Flush()
			fmt.Fprintf(out, "\n%d application variant(s)\n", len(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "benchmark", "benchmark tree root")
	cmd.Flags().StringVar(&layer, "layer", "", "restrict to one layer")
	return cmd
}

func newBenchTestCmd() *cobra.Command {
	var root, layer string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run make test in every benchmark application",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := catalog.List(root, layer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			passed, failed := 0, 0
			for _, e := range entries {
				if dryRun {
					fmt.Fprintf(out, "%swould run%s make test in %s\n", dim, reset, e.Path)
					continue
				}
				test := exec.CommandContext(cmd.Context(), "make", "test")
				test.Dir = e.Path
				if output, err := test.CombinedOutput(); err != nil {
					fmt.Fprintf(out, "%sFAIL%s %s/%s/%s\n%s\n", red, reset, e.Layer, e.Application, e.Framework, output)
					failed++
				} else {
					fmt.Fprintf(out, "%sok%s   %s/%s/%s\n", green, reset, e.Layer, e.Application, e.Framework)
					passed++
				}
			}
			if !dryRun {
				hr(out)
				fmt.Fprintf(out, "Passed: %s%d%s  Failed: %s%d%s\n", green, passed, reset, red, failed, reset)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "benchmark", "benchmark tree root")
	cmd.Flags().StringVar(&layer, "layer", "", "restrict to one layer")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list commands without running them")
	return cmd
}
