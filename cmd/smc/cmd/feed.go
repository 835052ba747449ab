package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/smc/feed"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Bar feed utilities",
}

var feedPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish bars from a CSV file to the AMQP bar queue",
	Long: `Read base-timeframe bars from a CSV file and publish them, in order, to
feed.queue at feed.uri. Useful for driving "smc run --live" from history.

Example:
  smc feed publish -c live.yaml --file data/mnq_m1.csv --pace 100ms`,
	Args: cobra.NoArgs,
	RunE: runFeedPublish,
}

var (
	publishFile string
	publishPace time.Duration
)

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedPublishCmd)

	feedPublishCmd.Flags().StringVar(&publishFile, "file", "", "CSV bar file (required)")
	feedPublishCmd.Flags().DurationVar(&publishPace, "pace", 0, "delay between bars")
	feedPublishCmd.MarkFlagRequired("file")
}

func runFeedPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Feed.URI == "" {
		return fmt.Errorf("feed.uri is required to publish")
	}

	src, err := feed.NewCSV(publishFile, cfg.BaseTimeframe(), time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("open %s: %w", publishFile, err)
	}
	defer src.Close()

	pub, err := feed.NewPublisher(cfg.Feed.URI, cfg.Feed.Queue, cfg.Instrument.Symbol)
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx := cmd.Context()
	n := 0
	for {
		b, ok, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := pub.Publish(ctx, b); err != nil {
			return fmt.Errorf("publish bar %d: %w", n+1, err)
		}
		n++
		if publishPace > 0 {
			time.Sleep(publishPace)
		}
	}
	fmt.Fprintf(os.Stdout, "✓ Published %d bars to %s\n", n, cfg.Feed.Queue)
	return nil
}
