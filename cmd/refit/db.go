package main

import (
	"fmt"
	"log"
	"text/tabwriter"

	"github.com/refit-bench/refit/internal/config"
	"github.com/refit-bench/refit/internal/history"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Attempt-history database commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBResetCmd())
	cmd.AddCommand(newDBRecentCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory(configPath)
			if err != nil {
				return err
			}
			if err := history.AutoMigrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History tables migrated")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to conversion spec file")
	return cmd
}

func newDBResetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory(configPath)
			if err != nil {
				return err
			}
			if err := history.Reset(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History tables reset")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to conversion spec file")
	return cmd
}

func newDBRecentCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the newest recorded attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory(configPath)
			if err != nil {
				return err
			}
			attempts, err := history.Recent(db, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSOLUTION\tLAYER\tAPP\tCONVERSION\tSTAGE\tRUN\tOUTCOME")
			for _, a := range attempts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					a.CreatedAt.Format("2006-01-02 15:04"), a.Solution, a.Layer,
					a.App, a.Conversion, a.Stage, a.RunNum, a.Outcome)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to conversion spec file")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "max attempts to show")
	return cmd
}

// openAttemptLog opens the history database at path for best-effort stage
// recording. Any failure disables recording instead of failing the stage.
func openAttemptLog(path string) *gorm.DB {
	if path == "" {
		return nil
	}
	db, err := history.Open(config.ResultsConfig{Path: path})
	if err != nil {
		log.Printf("history disabled: %v", err)
		return nil
	}
	if err := history.AutoMigrate(db); err != nil {
		log.Printf("history disabled: %v", err)
		return nil
	}
	return db
}

func openHistory(configPath string) (*gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.Results)
}
