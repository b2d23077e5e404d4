package main

import (
	"fmt"
	"os"

	"github.com/dreamup/playtest/internal/config"
	"github.com/dreamup/playtest/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Version information
	version = "0.2.0"

	configPath string
)

func main() {
	err := rootCmd.Execute()
	observability.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qa",
	Short: "DreamUp QA Agent - Automated game testing tool",
	Long: `DreamUp QA Agent is a browser automation tool for testing web-based games.
It drives the game over the Chrome DevTools Protocol, clears consent banners,
ads and start screens, plays a scripted session, and writes a report with
screenshots, console logs and an optional LLM playability score.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./config.yaml or $HOME/.dreamup/config.yaml)")
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig reads the configuration and starts the global logger from it
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	observability.InitializeLogger(cfg.Logger)
	return cfg, observability.GetLogger(), nil
}
