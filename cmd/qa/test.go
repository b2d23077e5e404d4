package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/config"
	"github.com/dreamup/playtest/internal/runner"
	"github.com/spf13/cobra"
)

var (
	// Test command flags
	testURL    string
	scriptPath string
	outputDir  string
	dbPath     string
	headless   bool
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run QA test on a game URL",
	Long: `Execute a QA test session on a specified game URL.
The agent will launch a browser, navigate to the game, get past any entry
screens, play the action script, capture screenshots, and generate a report.`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVarP(&testURL, "url", "u", "", "Game URL to test (required)")
	testCmd.Flags().StringVarP(&scriptPath, "script", "s", "", "YAML or JSON file with an actions list (overrides the config script)")
	testCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for test results (overrides evidence.dir)")
	testCmd.Flags().StringVar(&dbPath, "db", "", "SQLite run history path (overrides database.path)")
	testCmd.Flags().BoolVar(&headless, "headless", true, "Run browser in headless mode")

	testCmd.MarkFlagRequired("url")
}

// applyTestFlags layers explicitly set flags over the loaded configuration
func applyTestFlags(cmd *cobra.Command, cfg *config.Config) ([]agent.Action, error) {
	if cmd.Flags().Changed("output") {
		cfg.Evidence.Dir = outputDir
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = dbPath
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if scriptPath == "" {
		return nil, nil
	}
	return config.LoadScript(scriptPath)
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	script, err := applyTestFlags(cmd, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("🚀 DreamUp QA Agent v%s\n", version)
	fmt.Printf("📋 Test Configuration:\n")
	fmt.Printf("   URL: %s\n", testURL)
	fmt.Printf("   Output Directory: %s\n", cfg.Evidence.Dir)
	fmt.Printf("   Headless Mode: %v\n", cfg.Browser.Headless)
	fmt.Printf("   Script Budget: %s (per action %s)\n", cfg.Timeouts.TotalScript, cfg.Timeouts.PerAction)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()
	if script != nil {
		r.Script = script
	}

	res, runErr := r.Run(ctx, testURL)
	if res == nil {
		return runErr
	}

	report := res.Report
	fmt.Printf("\n📊 Status: %s\n", report.Summary.Status)
	fmt.Printf("   Actions run: %d (failed: %d), levels advanced: %d\n",
		res.Outcome.ActionsRun, res.Outcome.ActionsFailed, res.Outcome.LevelsAdvanced)
	if report.Score != nil {
		fmt.Printf("   Playability score: %d/100\n", report.Score.OverallScore)
	}
	for _, issue := range report.Issues() {
		fmt.Printf("   ⚠️  %s\n", issue)
	}
	if res.ReportPath != "" {
		fmt.Printf("📁 Report saved to %s\n", res.ReportPath)
	}
	if res.ReportURL != "" {
		fmt.Printf("☁️  Report uploaded to %s\n", res.ReportURL)
	}

	if runErr != nil {
		return runErr
	}
	fmt.Println("\n✅ Test completed!")
	return nil
}
