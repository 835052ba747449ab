package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/smc/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade and audit journal",
	Long: `Query and display records from the SQLite journal.

Subcommands:
  trades - List trades closed in a date range
  trade  - Get details of a specific trade by ID
  events - List audit events
  run    - Show a run summary

Examples:
  smc journal trades --from 2025-03-03 --to 2025-03-07
  smc journal trade <trade-id>
  smc journal events --kind risk --run <run-id>
  smc journal run <run-id>`,
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List trades closed in a date range",
	Args:  cobra.NoArgs,
	RunE:  runJournalTrades,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List audit events oldest first",
	Args:  cobra.NoArgs,
	RunE:  runJournalEvents,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a run summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var (
	journalDBPath string
	tradesFrom    string
	tradesTo      string
	eventsKind    string
	eventsRun     string
	eventsSince   string
	eventsLimit   int
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradesCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalEventsCmd)
	journalCmd.AddCommand(journalRunCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./smc.db", "path to SQLite journal DB")

	journalTradesCmd.Flags().StringVar(&tradesFrom, "from", "", "first day YYYY-MM-DD (default today)")
	journalTradesCmd.Flags().StringVar(&tradesTo, "to", "", "last day YYYY-MM-DD (default --from)")

	journalEventsCmd.Flags().StringVar(&eventsKind, "kind", "", "structure|zone|signal|risk|transition|fault|session")
	journalEventsCmd.Flags().StringVar(&eventsRun, "run", "", "run ID")
	journalEventsCmd.Flags().StringVar(&eventsSince, "since", "", "RFC3339 time or YYYY-MM-DD")
	journalEventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "maximum events, 0 for all")
}

func runJournalTrades(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	loc := time.Local
	from := tradesFrom
	if from == "" {
		from = time.Now().In(loc).Format("2006-01-02")
	}
	to := tradesTo
	if to == "" {
		to = from
	}
	start, _, err := dayBounds(loc, from)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	_, end, err := dayBounds(loc, to)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	fmt.Println(journal.FormatTradesOrg(recs))
	return nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	fmt.Println(journal.FormatTradeOrg(rec))
	return nil
}

func runJournalEvents(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	f := journal.EventFilter{
		RunID: eventsRun,
		Kind:  journal.EventKind(eventsKind),
		Limit: eventsLimit,
	}
	if eventsSince != "" {
		t, err := parseSince(eventsSince)
		if err != nil {
			return fmt.Errorf("since: %w", err)
		}
		f.Since = t
	}

	events, err := j.ListEvents(f)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	for _, e := range events {
		line := fmt.Sprintf("%s %-10s %-4s %s", e.Time.Format(time.RFC3339), e.Kind, e.Timeframe, e.Message)
		if len(e.Fields) > 0 {
			b, _ := json.Marshal(e.Fields)
			line += " " + string(b)
		}
		fmt.Println(line)
	}
	return nil
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	r, err := j.GetRun(args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	s, err := journal.FormatRunOrg(r)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	start, _, err := dayBounds(time.Local, s)
	return start, err
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
