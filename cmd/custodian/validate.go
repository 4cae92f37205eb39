package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"custodian-hq/custodian/pkg/cli"
	"custodian-hq/custodian/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without starting the server.

All validation failures are reported at once, not just the first.

Examples:
  # Validate the default config
  custodian validate

  # Validate a specific file
  custodian validate --config /etc/custodian/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	fmt.Printf("✓ Configuration valid: %s\n", cfgFile)
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddress)
	fmt.Printf("  Storage backend: %s\n", cfg.Storage.Backend)
	fmt.Printf("  Media services: %d\n", len(cfg.Services))
	if cfg.Playstats.Enabled {
		fmt.Printf("  Watch statistics: %s\n", cfg.Playstats.BaseURL)
	} else {
		fmt.Println("  Watch statistics: disabled")
	}
	return nil
}
