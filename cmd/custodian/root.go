package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "custodian",
	Short: "Custodian - maintenance rule engine for media libraries",
	Long: `Custodian keeps self-hosted media libraries tidy by evaluating
operator-defined retention rules against Radarr and Sonarr catalogs.

Rules combine watch history, age, size, quality, and rating criteria;
matched items enter a pending-action queue with a grace period before
the configured action (delete, unmonitor, flag for review) executes.
Every evaluation and execution attempt is recorded for audit.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
