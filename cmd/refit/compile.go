package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/refit-bench/refit/internal/buildcheck"
	"github.com/refit-bench/refit/internal/catalog"
	"github.com/refit-bench/refit/internal/history"
	"github.com/refit-bench/refit/internal/ledger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newCompileCmd() *cobra.Command {
	var conversionsDir, resultFile, resultsMD, onlyFailures, historyDB string
	var maxWorkers, timeoutSec int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Build every converted project and record compile status",
		Long:  "Finds Maven and Gradle projects at the run directory level, builds them in parallel, and records outcomes as a CSV plus the ledger's compiled column.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, compileOpts{
				conversionsDir: conversionsDir,
				resultFile:     resultFile,
				resultsMD:      resultsMD,
				onlyFailures:   onlyFailures,
				historyDB:      historyDB,
				maxWorkers:     maxWorkers,
				timeout:        time.Duration(timeoutSec) * time.Second,
				dryRun:         dryRun,
			})
		},
	}

	cmd.Flags().StringVar(&conversionsDir, "conversions-dir", "", "conversion output tree to scan (required)")
	cmd.Flags().StringVar(&resultFile, "result-file", "", "output CSV path (required)")
	cmd.Flags().StringVar(&resultsMD, "results-md", "", "results ledger file to update")
	cmd.Flags().StringVar(&onlyFailures, "only-failures", "", "ledger file to read failures from; rebuild only runs marked failed")
	cmd.Flags().StringVar(&historyDB, "history-db", "refit.db", "attempt-history database file; empty disables recording")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 4, "parallel build jobs")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 600, "per-build timeout in seconds")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list projects without building")
	cmd.MarkFlagRequired("conversions-dir")
	cmd.MarkFlagRequired("result-file")
	return cmd
}

type compileOpts struct {
	conversionsDir string
	resultFile     string
	resultsMD      string
	onlyFailures   string
	historyDB      string
	maxWorkers     int
	timeout        time.Duration
	dryRun         bool
}

func runCompile(cmd *cobra.Command, opts compileOpts) error {
	out := cmd.OutOrStdout()

	var include map[string]bool
	if opts.onlyFailures != "" {
		table, err := ledger.Load(opts.onlyFailures)
		if err != nil {
			return err
		}
		include = buildcheck.FailedEntries(table, opts.conversionsDir)
		if include == nil {
			fmt.Fprintf(out, "%sno compile failures in %s, nothing to rebuild%s\n", yellow, opts.onlyFailures, reset)
			return nil
		}
		fmt.Fprintf(out, "Rebuilding %d failed run(s) from %s\n", len(include)/2, opts.onlyFailures)
	}

	fmt.Fprintf(out, "Searching for projects in %s%s%s\n", blue, opts.conversionsDir, reset)
	projects, err := buildcheck.FindProjects(opts.conversionsDir, include)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %s%d%s project(s) to build\n", bold, len(projects), reset)
	if len(projects) == 0 {
		return nil
	}
	if opts.dryRun {
		for _, p := range projects {
			fmt.Fprintf(out, "  %s[%s]%s %s\n", dim, p.System, reset, p.Dir)
		}
		fmt.Fprintf(out, "%sDry run: nothing built%s\n", yellow, reset)
		return nil
	}

	fmt.Fprintf(out, "Building with %d workers...\n", opts.maxWorkers)
	results, err := buildcheck.CheckAll(cmd.Context(), projects, buildcheck.Options{
		ConversionsDir: opts.conversionsDir,
		MaxWorkers:     opts.maxWorkers,
		Timeout:        opts.timeout,
	})
	if err != nil {
		return err
	}
	recordCompileAttempts(openAttemptLog(opts.historyDB), results)

	if opts.onlyFailures != "" {
		existing, err := buildcheck.LoadCSV(opts.resultFile)
		if err != nil {
			return err
		}
		results = buildcheck.Merge(existing, results)
	}
	if err := buildcheck.WriteCSV(opts.resultFile, results); err != nil {
		return err
	}

	success := 0
	for _, r := range results {
		if r.Succeeded() {
			success++
		}
	}
	hr(out)
	fmt.Fprintf(out, "%sBUILD SUMMARY%s\n", bold, reset)
	fmt.Fprintf(out, "Successful: %s%d%s\n", green, success, reset)
	fmt.Fprintf(out, "Failed:     %s%d%s\n", red, len(results)-success, reset)
	fmt.Fprintf(out, "Results saved to %s\n", opts.resultFile)

	if opts.resultsMD != "" {
		table, err := ledger.Load(opts.resultsMD)
		if err != nil {
			return err
		}
		updated := buildcheck.ApplyToLedger(table, results)
		if err := table.Save(opts.resultsMD); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated %d rows in %s\n", updated, opts.resultsMD)
	}
	return nil
}

// recordCompileAttempts appends one history row per built project.
// Best effort; a nil db is a no-op.
func recordCompileAttempts(db *gorm.DB, results []buildcheck.Result) {
	if db == nil {
		return
	}
	for _, r := range results {
		comp, ok := catalog.ParseRunPath(r.Path)
		if !ok {
			continue
		}
		if err := history.Record(db, history.Attempt{
			Solution: comp.CliTool, Model: comp.Model, Layer: comp.Layer,
			App: comp.App, Conversion: comp.Conversion,
			Stage: "compiled", RunNum: catalog.RunNumber(r.Path),
			Outcome: strings.ToLower(r.Status), Detail: r.Error,
		}); err != nil {
			log.Printf("compile: %v", err)
		}
	}
}
