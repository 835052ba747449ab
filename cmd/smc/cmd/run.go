package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/smc/config"
	"github.com/rustyeddy/smc/feed"
	"github.com/rustyeddy/smc/journal"
	"github.com/rustyeddy/smc/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a bar feed or trade live bars",
	Long: `Drive the pipeline from the configured feed.

Without --live the feed is replayed to its end and a summary is printed.
With --live bars are consumed from the RabbitMQ queue until interrupted.

Examples:
  smc run -c smc.yaml
  smc run -c smc.yaml --report run.org
  smc run -c live.yaml --live`,
	RunE: runRun,
}

var (
	runLive   bool
	runReport string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runLive, "live", false, "consume bars from the AMQP queue until interrupted")
	runCmd.Flags().StringVar(&runReport, "report", "", "write an org-mode run report to this path (sqlite journal only)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, db, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	b, closeBroker, err := openBroker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer closeBroker()

	p, err := pipeline.New(pipeline.Deps{Config: cfg, Broker: b, Journal: j, Logger: logger})
	if err != nil {
		return err
	}

	var res pipeline.Result
	if runLive {
		if cfg.Feed.Type != "amqp" {
			return errors.New("--live needs feed.type amqp")
		}
		src, err := feed.DialAMQP(cfg.Feed.URI, cfg.Feed.Queue, 5, logger)
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer src.Close()
		fmt.Printf("Trading %s live from %s (run %s)\n", cfg.Instrument.Symbol, cfg.Feed.Queue, p.RunID())
		if err := p.RunLive(ctx, src.Bars(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		res = p.Result()
	} else {
		src, err := openFeed(cfg, logger)
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		res, err = p.Run(ctx, src)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	printResult(res)

	if db == nil {
		if runReport != "" {
			return errors.New("--report needs journal.type sqlite")
		}
		return nil
	}
	raw, _ := yaml.Marshal(cfg)
	rec := res.Record(cfg.Instrument.Symbol, dataset(cfg), raw)
	if err := db.RecordRun(rec); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if runReport == "" {
		return nil
	}
	all, err := db.ListTradesClosedBetween(res.Start, res.End.Add(time.Nanosecond))
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	var trades []journal.TradeRecord
	for _, t := range all {
		if t.RunID == rec.RunID {
			trades = append(trades, t)
		}
	}
	if err := journal.WriteRunOrg(runReport, rec, trades); err != nil {
		return err
	}
	fmt.Printf("✓ Report written: %s\n", runReport)
	return nil
}

func openFeed(cfg *config.Config, logger *slog.Logger) (feed.Feed, error) {
	if cfg.Feed.Type == "amqp" {
		a, err := feed.DialAMQP(cfg.Feed.URI, cfg.Feed.Queue, 5, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	from, to := cfg.FeedRange()
	c, err := feed.NewCSV(cfg.Feed.Path, cfg.BaseTimeframe(), from, to)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func dataset(cfg *config.Config) string {
	if cfg.Feed.Type == "amqp" {
		return "amqp:" + cfg.Feed.Queue
	}
	return cfg.Feed.Path
}

func printResult(r pipeline.Result) {
	fmt.Printf("Run %s\n", r.RunID)
	if !r.Start.IsZero() {
		fmt.Printf("  Period:   %s to %s\n", r.Start.Format("2006-01-02 15:04"), r.End.Format("2006-01-02 15:04"))
	}
	fmt.Printf("  Bars:     %d (faults %d)\n", r.Bars, r.Faults)
	fmt.Printf("  Signals:  %d (rejected %d)\n", r.Signals, r.Rejected)
	fmt.Printf("  Trades:   %d (won %d, lost %d)\n", r.Trades, r.Wins, r.Losses)
	fmt.Printf("  Equity:   %s -> %s (net %s)\n", r.StartEquity.StringFixed(2), r.EndEquity.StringFixed(2), r.NetPL().StringFixed(2))
	fmt.Printf("  Max DD:   %.2f%%\n", r.MaxDrawdownPct)
	if r.OpenPosition {
		fmt.Println("  ! position still open")
	}
	if r.Suspended {
		fmt.Println("  ! trading suspended: broker unreachable")
	}
}
