package main

import (
	"fmt"
	"log"
	"time"

	"github.com/refit-bench/refit/internal/dockercheck"
	"github.com/refit-bench/refit/internal/history"
	"github.com/refit-bench/refit/internal/ledger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newDockerCmd() *cobra.Command {
	var resultsFile, resultFile, baseDir, conversionsDir, benchRoot, historyDB string
	var maxWorkers, buildTimeout, startupWait, smokeWait, smokeAttempts int
	var smokeDelay float64
	var dryRun, skipExisting bool

	cmd := &cobra.Command{
		Use:   "docker",
		Short: "Containerize and smoke-test compiled conversions",
		Long:  "Builds an image per eligible run, starts it, watches the logs for the framework's readiness banner, and runs the application's smoke test inside the container.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocker(cmd, resultsFile, resultFile, historyDB, dryRun, dockercheck.Options{
				BaseDir:        baseDir,
				ConversionsDir: conversionsDir,
				BenchRoot:      benchRoot,
				SkipExisting:   skipExisting,
				MaxWorkers:     maxWorkers,
				BuildTimeout:   time.Duration(buildTimeout) * time.Second,
				StartupWait:    time.Duration(startupWait) * time.Second,
				SmokeWait:      time.Duration(smokeWait) * time.Second,
				SmokeAttempts:  smokeAttempts,
				SmokeDelay:     time.Duration(smokeDelay * float64(time.Second)),
			})
		},
	}

	cmd.Flags().StringVar(&resultsFile, "results-file", "whole_app_conversions.md", "results ledger file to read and update")
	cmd.Flags().StringVar(&resultFile, "result-file", "", "optional output CSV for per-run outcomes")
	cmd.Flags().StringVar(&baseDir, "base-dir", ".", "directory holding Dockerfile templates and evaluation outputs")
	cmd.Flags().StringVar(&conversionsDir, "conversions-dir", "agentic", "conversion output tree")
	cmd.Flags().StringVar(&benchRoot, "bench-root", "benchmark", "benchmark tree supplying smoke scripts")
	cmd.Flags().StringVar(&historyDB, "history-db", "refit.db", "attempt-history database file; empty disables recording")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would run without touching docker")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "keep runs already marked successful")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 128, "parallel container jobs")
	cmd.Flags().IntVar(&buildTimeout, "build-timeout", 600, "image build timeout in seconds")
	cmd.Flags().IntVar(&startupWait, "startup-wait", 2, "readiness poll budget in seconds")
	cmd.Flags().IntVar(&smokeWait, "smoke-wait", 480, "delay before first smoke attempt in seconds")
	cmd.Flags().IntVar(&smokeAttempts, "smoke-attempts", 5, "smoke test attempts")
	cmd.Flags().Float64Var(&smokeDelay, "smoke-delay", 2.0, "delay between smoke attempts in seconds")
	return cmd
}

func runDocker(cmd *cobra.Command, resultsFile, resultFile, historyDB string, dryRun bool, opts dockercheck.Options) error {
	out := cmd.OutOrStdout()

	table, err := ledger.Load(resultsFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Parsed %s%d%s rows from %s\n", bold, len(table.Rows()), reset, resultsFile)

	plan := dockercheck.PlanTasks(table, opts)
	if dryRun {
		for _, task := range plan.Tasks {
			fmt.Fprintf(out, "  %swould run%s %s (run_%d, target %s)\n", dim, reset, task.RunDir, task.RunNum, task.Target)
		}
		fmt.Fprintf(out, "%s[dry run] would process %d runs and update %s%s\n", yellow, len(plan.Tasks), resultsFile, reset)
		return nil
	}

	var results []dockercheck.TaskResult
	if len(plan.Tasks) > 0 {
		fmt.Fprintf(out, "Processing %s%d%s container runs (max-workers=%d)\n", bold, len(plan.Tasks), reset, opts.MaxWorkers)
		results = dockercheck.ProcessAll(cmd.Context(), dockercheck.RealEngine{}, plan.Tasks, opts)
		recordDockerAttempts(openAttemptLog(historyDB), results)
	}

	dockercheck.ApplyResults(table, plan, results)
	if err := table.Save(resultsFile); err != nil {
		return err
	}
	fmt.Fprintf(out, "Updated %s\n", resultsFile)

	if resultFile != "" && len(results) > 0 {
		if err := dockercheck.WriteCSV(resultFile, results); err != nil {
			return err
		}
		fmt.Fprintf(out, "Docker results saved to %s\n", resultFile)
	}

	pass, fail := 0, 0
	for _, r := range results {
		if r.Symbol == ledger.RunPass {
			pass++
		} else {
			fail++
		}
	}
	hr(out)
	fmt.Fprintf(out, "Passed: %s%d%s  Failed: %s%d%s\n", green, pass, reset, red, fail, reset)
	return nil
}

// recordDockerAttempts appends one history row per attempted container run.
// Best effort; a nil db is a no-op.
func recordDockerAttempts(db *gorm.DB, results []dockercheck.TaskResult) {
	if db == nil {
		return
	}
	for _, r := range results {
		if err := history.Record(db, history.Attempt{
			Solution: r.Task.Key.CliTool, Model: r.Task.Key.Model, Layer: r.Task.Key.Layer,
			App: r.Task.Key.App, Conversion: r.Task.Key.Conversion,
			Stage: "ran", RunNum: r.Task.RunNum,
			Outcome: r.Symbol, Detail: r.Error,
		}); err != nil {
			log.Printf("docker: %v", err)
		}
	}
}
