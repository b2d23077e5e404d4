package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dreamup/playtest/internal/db"
	"github.com/spf13/cobra"
)

var (
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past test runs",
	Long:  `List recorded test runs from the SQLite history, newest first.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyStatus, "status", "all", "Only show runs with this status (passed, passed_with_warnings, failed, timeout, session_closed, running)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().StringVar(&dbPath, "db", "", "SQLite run history path (overrides database.path)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = dbPath
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("no run history configured (set database.path or --db)")
	}

	d, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	runs, err := d.ListRuns(ctx, historyStatus, historyLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	total, err := d.CountRuns(ctx, historyStatus)
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tSTATUS\tSCORE\tACTIONS\tLEVELS\tDURATION\tURL")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1fs\t%s\n",
			run.CreatedAt.Local().Format("2006-01-02 15:04"),
			run.Status,
			run.Score,
			run.ActionsRun,
			run.LevelsAdvanced,
			float64(run.DurationMS)/1000,
			run.GameURL,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d of %d runs\n", len(runs), total)
	return nil
}
