package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/refit-bench/refit/internal/agent"
	"github.com/refit-bench/refit/internal/catalog"
	"github.com/refit-bench/refit/internal/config"
	"github.com/refit-bench/refit/internal/history"
	"github.com/refit-bench/refit/internal/notify"
	"github.com/refit-bench/refit/internal/workspace"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// runResult is one agent attempt in the machine-readable convert report.
type runResult struct {
	OutputDir  string `json:"output_dir"`
	RunDir     string `json:"run_dir"`
	RunNum     int    `json:"run_num"`
	Success    bool   `json:"success"`
	Outcome    string `json:"outcome"`
	PromptFile string `json:"prompt_file"`
}

type convertReport struct {
	ConfigFile     string      `json:"config_file"`
	TotalJobs      int         `json:"total_conversions"`
	TotalRuns      int         `json:"total_runs"`
	SuccessfulRuns int         `json:"successful_runs"`
	FailedRuns     int         `json:"failed_runs"`
	Results        []runResult `json:"results"`
}

func newConvertCmd() *cobra.Command {
	var configPath, resultsJSON string
	var numRuns int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Run the conversion agent over every job in a spec file",
		Long:  "Provisions each run directory from its seed, executes the agent command in it, and records per-run outcomes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, configPath, numRuns, dryRun, resultsJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to conversion spec file")
	cmd.Flags().IntVarP(&numRuns, "num-runs", "n", 0, "runs per conversion (overrides spec file)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be executed")
	cmd.Flags().StringVar(&resultsJSON, "results-json", "", "path to write a JSON results file")
	return cmd
}

func runConvert(cmd *cobra.Command, configPath string, numRuns int, dryRun bool, resultsJSON string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Command == "" {
		return fmt.Errorf("no command in %s", configPath)
	}
	baseDir := filepath.Dir(mustAbs(configPath))
	jobs := cfg.Jobs(baseDir)
	if len(jobs) == 0 {
		return fmt.Errorf("no conversions in %s", configPath)
	}
	if numRuns <= 0 {
		numRuns = cfg.Runs
	}

	fmt.Fprintf(out, "%sRunning agent conversions%s\n", bold, reset)
	fmt.Fprintf(out, "Command: %s%s%s\n", bold, cfg.Command, reset)
	fmt.Fprintf(out, "Runs per conversion: %s%d%s\n", bold, numRuns, reset)
	fmt.Fprintf(out, "Total conversions: %s%d%s\n", bold, len(jobs), reset)
	hr(out)

	if dryRun {
		for i, job := range jobs {
			fmt.Fprintf(out, "%s#%d/%d%s would run %s%s%s x%d (prompt %s)\n",
				dim, i+1, len(jobs), reset, blue, job.OutputDir, reset, numRuns, job.PromptFile)
		}
		fmt.Fprintf(out, "%sDry run: no commands executed%s\n", yellow, reset)
		return nil
	}

	var db *gorm.DB
	if db, err = history.Open(cfg.Results); err != nil {
		log.Printf("convert: history disabled: %v", err)
		db = nil
	} else if err := history.AutoMigrate(db); err != nil {
		log.Printf("convert: history disabled: %v", err)
		db = nil
	}

	report := convertReport{
		ConfigFile: configPath,
		TotalJobs:  len(jobs),
		TotalRuns:  len(jobs) * numRuns,
	}

	for i, job := range jobs {
		fmt.Fprintf(out, "%s#%d/%d%s %s%s%s\n", dim, i+1, len(jobs), reset, bold, job.OutputDir, reset)
		seed, hasSeed := cfg.SeedFor(baseDir, job.OutputDir)

		for n := 1; n <= numRuns; n++ {
			runDir := workspace.RunDir(job.OutputDir, n)
			if hasSeed {
				// Always reseed: a rerun must never append onto stale agent output.
				if err := workspace.Provision(resolvePath(baseDir, seed.Source), runDir, seed.ExcludeFiles); err != nil {
					fmt.Fprintf(out, "  %srun_%d: %v%s\n", red, n, err, reset)
					report.FailedRuns++
					report.Results = append(report.Results, runResult{
						OutputDir: job.OutputDir, RunDir: runDir, RunNum: n,
						Outcome: "provision_failed", PromptFile: job.PromptFile,
					})
					continue
				}
			} else if _, err := os.Stat(runDir); err != nil {
				fmt.Fprintf(out, "  %srun_%d: no seed and no existing run directory%s\n", yellow, n, reset)
				report.FailedRuns++
				report.Results = append(report.Results, runResult{
					OutputDir: job.OutputDir, RunDir: runDir, RunNum: n,
					Outcome: "provision_failed", PromptFile: job.PromptFile,
				})
				continue
			}

			res := agent.Run(cmd.Context(), agent.Request{
				Command:    cfg.Command,
				WorkingDir: runDir,
				PromptFile: job.PromptFile,
				Before:     cfg.Before,
				After:      cfg.After,
				Timeout:    time.Duration(job.TimeoutSeconds) * time.Second,
			})
			if res.Outcome.Success() {
				fmt.Fprintf(out, "  %s└─%s run_%d %scompleted%s\n", dim, reset, n, green, reset)
				report.SuccessfulRuns++
			} else {
				fmt.Fprintf(out, "  %s└─%s run_%d %s%s%s %s\n", dim, reset, n, red, res.Outcome, reset, res.Detail)
				report.FailedRuns++
			}
			report.Results = append(report.Results, runResult{
				OutputDir: job.OutputDir, RunDir: runDir, RunNum: n,
				Success: res.Outcome.Success(), Outcome: string(res.Outcome),
				PromptFile: job.PromptFile,
			})

			if db != nil {
				comp, _ := catalog.ParseRunPath(runDir)
				if err := history.Record(db, history.Attempt{
					Solution: comp.CliTool, Model: comp.Model, Layer: comp.Layer,
					App: comp.App, Conversion: comp.Conversion,
					Stage: "converted", RunNum: n,
					Outcome: string(res.Outcome), Detail: res.Detail,
				}); err != nil {
					log.Printf("convert: %v", err)
				}
			}
		}
		hr(out)
	}

	fmt.Fprintf(out, "%sEXECUTION SUMMARY%s\n", bold, reset)
	fmt.Fprintf(out, "Successful runs: %s%d%s\n", green, report.SuccessfulRuns, reset)
	fmt.Fprintf(out, "Failed runs:     %s%d%s\n", red, report.FailedRuns, reset)

	if resultsJSON != "" {
		if err := writeJSON(resultsJSON, report); err != nil {
			return err
		}
		fmt.Fprintf(out, "Results written to %s\n", resultsJSON)
	}

	notify.Post(cmd.Context(), notify.FromConfig(cfg.Notify), notify.Event{
		Stage: "convert", Succeeded: report.SuccessfulRuns, Failed: report.FailedRuns,
	})
	return nil
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
