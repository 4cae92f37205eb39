package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"custodian-hq/custodian/pkg/cli"
	"custodian-hq/custodian/pkg/rules/seed"
)

var rulesLintFlags struct {
	file   string
	format string
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with rule seed files",
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate a rule seed file",
	Long: `Parse and validate a rule seed file without touching any store.

Examples:
  # Lint the seed file from the config
  custodian rules lint --file rules.yaml

  # Machine-readable output
  custodian rules lint --file rules.yaml --format json`,
	RunE: lintRules,
}

func init() {
	rulesCmd.AddCommand(rulesLintCmd)
	rootCmd.AddCommand(rulesCmd)

	rulesLintCmd.Flags().StringVarP(&rulesLintFlags.file, "file", "f", "", "seed file or directory to lint (required)")
	rulesLintCmd.Flags().StringVar(&rulesLintFlags.format, "format", "text", "output format: text, json")
	_ = rulesLintCmd.MarkFlagRequired("file")
}

type lintSummary struct {
	File  string   `json:"file"`
	Valid bool     `json:"valid"`
	Rules []string `json:"rules"`
}

func lintRules(cmd *cobra.Command, args []string) error {
	loaded, err := seed.Load(rulesLintFlags.file)
	if err != nil {
		return cli.NewCommandError("rules lint", err)
	}

	summary := lintSummary{File: rulesLintFlags.file, Valid: true}
	for _, rule := range loaded {
		summary.Rules = append(summary.Rules, rule.Name)
	}

	formatter, err := cli.NewFormatter(cli.OutputFormat(rulesLintFlags.format))
	if err != nil {
		return cli.NewCommandError("rules lint", err)
	}

	if rulesLintFlags.format == string(cli.FormatJSON) {
		return formatter.FormatTo(os.Stdout, summary)
	}

	fmt.Printf("✓ %s is valid (%d rules)\n", summary.File, len(summary.Rules))
	for _, name := range summary.Rules {
		fmt.Printf("  - %s\n", name)
	}
	return nil
}
