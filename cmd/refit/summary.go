package main

import (
	"fmt"
	"time"

	"github.com/refit-bench/refit/internal/ledger"
	"github.com/refit-bench/refit/internal/summary"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newSummaryCmd() *cobra.Command {
	var org, link, cronExpr string

	cmd := &cobra.Command{
		Use:   "summary <results.md> <summary.csv>",
		Short: "Aggregate ledger results into the summary CSV",
		Long:  "Computes per-solution translate, compile, and run pass rates from the ledger and merges them into the summary CSV, preserving metadata of rows it recomputes.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cronExpr == "" {
				return runSummaryOnce(cmd, args[0], args[1], org, link)
			}
			return runSummaryCron(cmd, args[0], args[1], org, link, cronExpr)
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization name recorded on new rows (required)")
	cmd.Flags().StringVar(&link, "link", "", "website URL recorded on new rows")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression; recompute the summary on that schedule")
	cmd.MarkFlagRequired("org")
	return cmd
}

func runSummaryOnce(cmd *cobra.Command, mdPath, csvPath, org, link string) error {
	out := cmd.OutOrStdout()

	table, err := ledger.Load(mdPath)
	if err != nil {
		return err
	}
	if len(table.Rows()) == 0 {
		return fmt.Errorf("no ledger rows in %s", mdPath)
	}

	existing, err := summary.LoadCSV(csvPath)
	if err != nil {
		return err
	}
	rows := summary.Merge(summary.Aggregate(table, org, link), existing)
	if err := summary.WriteCSV(csvPath, rows); err != nil {
		return err
	}
	fmt.Fprintf(out, "%sWrote %d rows to %s%s\n", green, len(rows), csvPath, reset)
	return nil
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func runSummaryCron(cmd *cobra.Command, mdPath, csvPath, org, link, expr string) error {
	out := cmd.OutOrStdout()

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", expr, err)
	}
	for {
		next := sched.Next(time.Now())
		fmt.Fprintf(out, "%snext summary at %s%s\n", dim, next.Format(time.RFC3339), reset)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-cmd.Context().Done():
			timer.Stop()
			return nil
		}
		if err := runSummaryOnce(cmd, mdPath, csvPath, org, link); err != nil {
			fmt.Fprintf(out, "%ssummary failed: %v%s\n", red, err, reset)
		}
	}
}
