package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/refit-bench/refit/internal/catalog"
	"github.com/refit-bench/refit/internal/config"
	"github.com/refit-bench/refit/internal/ledger"
	"github.com/spf13/cobra"
)

func newProcessCmd() *cobra.Command {
	var resultsJSON, resultsMD, baseDir, conversionsDir, specOutputDir string
	var deleteFailed, generateSpecs, dryRun bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Fold convert results into the ledger",
		Long:  "Reads the convert stage's JSON results, updates the ledger's converted column, and optionally deletes failed run directories and generates rerun spec files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, processOpts{
				resultsJSON:    resultsJSON,
				resultsMD:      resultsMD,
				baseDir:        baseDir,
				conversionsDir: conversionsDir,
				specOutputDir:  specOutputDir,
				deleteFailed:   deleteFailed,
				generateSpecs:  generateSpecs,
				dryRun:         dryRun,
			})
		},
	}

	cmd.Flags().StringVar(&resultsJSON, "results-json", "", "JSON results file from refit convert (required)")
	cmd.Flags().StringVar(&resultsMD, "results-md", "whole_app_conversions.md", "results ledger file to update")
	cmd.Flags().StringVar(&baseDir, "base-dir", ".", "base directory for run paths")
	cmd.Flags().StringVar(&conversionsDir, "conversions-dir", "agentic", "conversion output tree, relative to base-dir")
	cmd.Flags().BoolVar(&deleteFailed, "delete-failed", false, "delete run directories of failed conversions")
	cmd.Flags().BoolVar(&generateSpecs, "generate-specs", false, "generate rerun spec files for failed conversions")
	cmd.Flags().StringVar(&specOutputDir, "spec-output-dir", "rerun-specs", "directory for generated rerun specs")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	cmd.MarkFlagRequired("results-json")
	return cmd
}

type processOpts struct {
	resultsJSON    string
	resultsMD      string
	baseDir        string
	conversionsDir string
	specOutputDir  string
	deleteFailed   bool
	generateSpecs  bool
	dryRun         bool
}

func runProcess(cmd *cobra.Command, opts processOpts) error {
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(opts.resultsJSON)
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}
	var report convertReport
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("parse %s: %w", opts.resultsJSON, err)
	}

	// Per-key run vectors; a slot missing from the results counts as failed.
	perKey := make(map[ledger.Key]map[int]bool)
	for _, res := range report.Results {
		comps, ok := catalog.ParseRunPath(res.OutputDir)
		if !ok {
			comps, ok = catalog.ParseRunPath(res.RunDir)
		}
		if !ok || res.RunNum < 1 {
			continue
		}
		key := ledger.Key{
			CliTool: comps.CliTool, Model: comps.Model, Layer: comps.Layer,
			Conversion: comps.Conversion, App: comps.App,
		}
		if perKey[key] == nil {
			perKey[key] = make(map[int]bool)
		}
		perKey[key][res.RunNum] = res.Success
	}
	if len(perKey) == 0 {
		fmt.Fprintf(out, "%sno parseable results in %s%s\n", yellow, opts.resultsJSON, reset)
		return nil
	}

	vectors := make(map[ledger.Key][]bool, len(perKey))
	for key, runs := range perKey {
		maxRun := 0
		for n := range runs {
			if n > maxRun {
				maxRun = n
			}
		}
		vec := make([]bool, maxRun)
		for n, ok := range runs {
			vec[n-1] = ok
		}
		vectors[key] = vec
	}

	table, err := ledger.Load(opts.resultsMD)
	if err != nil {
		return err
	}
	updated := 0
	for key, vec := range vectors {
		symbols := make([]string, len(vec))
		for i, ok := range vec {
			if ok {
				symbols[i] = ledger.Pass
			} else {
				symbols[i] = ledger.Fail
			}
		}
		table.SetSlots(key, ledger.StageConverted, symbols)
		updated++
	}
	if opts.dryRun {
		fmt.Fprintf(out, "%s[dry run] would update %d rows in %s%s\n", dim, updated, opts.resultsMD, reset)
	} else {
		if err := table.Save(opts.resultsMD); err != nil {
			return err
		}
		fmt.Fprintf(out, "%sUpdated %d rows in %s%s\n", green, updated, opts.resultsMD, reset)
	}

	deleted := 0
	if opts.deleteFailed {
		var failedDirs []string
		for key, vec := range vectors {
			appDir := filepath.Join(opts.baseDir, opts.conversionsDir,
				key.CliTool, key.Layer, key.App+"-"+key.Conversion)
			for i, ok := range vec {
				if ok {
					continue
				}
				runDir := filepath.Join(appDir, fmt.Sprintf("run_%d", i+1))
				if _, err := os.Stat(runDir); err == nil {
					failedDirs = append(failedDirs, runDir)
				}
			}
		}
		sort.Strings(failedDirs)
		for _, dir := range failedDirs {
			if opts.dryRun {
				fmt.Fprintf(out, "%s[dry run] would delete %s%s\n", dim, dir, reset)
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				fmt.Fprintf(out, "%sdelete %s: %v%s\n", red, dir, err, reset)
				continue
			}
			deleted++
		}
		if !opts.dryRun {
			fmt.Fprintf(out, "Deleted %d failed run directories\n", deleted)
		}
	}

	specCount := 0
	if opts.generateSpecs && !opts.dryRun {
		var failures []config.Failure
		for key, vec := range vectors {
			allOK := true
			for _, ok := range vec {
				allOK = allOK && ok
			}
			if !allOK {
				failures = append(failures, config.Failure{
					CliTool: key.CliTool, Layer: key.Layer,
					App: key.App, Conversion: key.Conversion,
				})
			}
		}
		specCount, err = config.WriteRerunSpecs(failures, opts.specOutputDir, opts.conversionsDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Generated %d rerun spec file(s) in %s\n", specCount, opts.specOutputDir)
	}

	totalRuns, successRuns := 0, 0
	for _, vec := range vectors {
		for _, ok := range vec {
			totalRuns++
			if ok {
				successRuns++
			}
		}
	}
	hr(out)
	fmt.Fprintf(out, "%sPROCESSING SUMMARY%s\n", bold, reset)
	hr(out)
	fmt.Fprintf(out, "Conversions processed: %s%d%s\n", bold, len(vectors), reset)
	fmt.Fprintf(out, "Total runs: %s%d%s (%s%d%s ok, %s%d%s failed)\n",
		bold, totalRuns, reset, green, successRuns, reset, red, totalRuns-successRuns, reset)
	if opts.deleteFailed {
		fmt.Fprintf(out, "Deleted run directories: %d\n", deleted)
	}
	if opts.generateSpecs {
		fmt.Fprintf(out, "Rerun specs generated: %d\n", specCount)
	}
	return nil
}
