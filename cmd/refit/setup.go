package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/refit-bench/refit/internal/config"
	"github.com/refit-bench/refit/internal/workspace"
	"github.com/spf13/cobra"
)

func newSetupCmd() *cobra.Command {
	var configPath string
	var numRuns int

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision run directories from seeds",
		Long:  "Creates run_1..run_N working copies of every seed application. No agent runs, no containers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, configPath, numRuns)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to conversion spec file")
	cmd.Flags().IntVarP(&numRuns, "num-runs", "n", 0, "runs per conversion (overrides spec file)")
	return cmd
}

func runSetup(cmd *cobra.Command, configPath string, numRuns int) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(mustAbs(configPath))
	if numRuns <= 0 {
		numRuns = cfg.Runs
	}
	if len(cfg.Seeds) == 0 {
		return fmt.Errorf("no seeds in %s", configPath)
	}

	fmt.Fprintf(out, "%sProvisioning %d runs per seed%s\n", bold, numRuns, reset)
	hr(out)

	created, failed, missing := 0, 0, 0
	for i, seed := range cfg.Seeds {
		src := resolvePath(baseDir, seed.Source)
		dst := resolvePath(baseDir, seed.Output)
		fmt.Fprintf(out, "%s#%d/%d%s %s%s%s <- %s\n", dim, i+1, len(cfg.Seeds), reset, bold, dst, reset, src)

		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			fmt.Fprintf(out, "  %smissing source, skipping %d runs%s\n", yellow, numRuns, reset)
			missing++
			failed += numRuns
			continue
		}
		for n := 1; n <= numRuns; n++ {
			runDir := workspace.RunDir(dst, n)
			if err := workspace.Provision(src, runDir, seed.ExcludeFiles); err != nil {
				fmt.Fprintf(out, "  %s%s: %v%s\n", red, filepath.Base(runDir), err, reset)
				failed++
				continue
			}
			fmt.Fprintf(out, "  %s└─%s %s seeded\n", dim, reset, filepath.Base(runDir))
			created++
		}
	}

	hr(out)
	fmt.Fprintf(out, "Runs created: %s%d%s\n", green, created, reset)
	fmt.Fprintf(out, "Failures:     %s%d%s\n", red, failed, reset)
	if missing > 0 {
		fmt.Fprintf(out, "Missing seeds: %s%d%s\n", yellow, missing, reset)
	}
	return nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
