package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/smc/config"
)

var rootCmd = &cobra.Command{
	Use:   "smc",
	Short: "Smart-money-concepts futures trading core",
	Long: `smc trades one futures instrument from closed bars using market structure
(BOS/CHoCH), order blocks, fair value gaps and liquidity pools, with risk based
sizing and a broker execution state machine.

It provides tools for:
  - Replaying a bar file through the simulated broker
  - Trading live bars from a RabbitMQ queue against a websocket gateway
  - Generating and validating configuration
  - Querying the trade and audit journal`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envPath)
	},
}

var (
	configPath string
	envPath    string
	logLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file with SMC_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level: debug|info|warn|error")
}

// loadConfig reads --config, or the defaults plus environment overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		c, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
