package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/smc/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage smc configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  smc config init -o smc.yaml
  smc config validate -f smc.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply SMC_* environment overrides and report
every problem found.`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "smc.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  smc run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Instrument: %s (tick %g, $%g/pt)\n", cfg.Instrument.Symbol, cfg.Instrument.TickSize, cfg.Instrument.PointValue)
	fmt.Printf("  Account:    $%.2f\n", cfg.Account.Equity)
	fmt.Printf("  Bars:       %s -> %v\n", cfg.Data.BaseTimeframe, cfg.Data.Timeframes)
	fmt.Printf("  Entry/Bias: %s / %s\n", cfg.Fusion.EntryTimeframe, cfg.Fusion.BiasTimeframe)
	fmt.Printf("  Risk:       %.2f%% per trade, %.2f%% daily stop\n", cfg.Risk.RiskPercent, cfg.Risk.DailyLossPercent)
	fmt.Printf("  Broker:     %s\n", cfg.Broker.Type)
	fmt.Printf("  Feed:       %s\n", cfg.Feed.Type)
	fmt.Printf("  Journal:    %s\n", cfg.Journal.Type)
	return nil
}
