package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/config"
	"github.com/rustyeddy/smc/journal"
	"github.com/rustyeddy/smc/market"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	configPath, envPath, logLevel = "", filepath.Join(t.TempDir(), ".env"), "error"
	runLive, runReport = false, ""
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// writeReplay writes a single-timeframe M5 config and a bar file that
// contains one long setup running to its target.
func writeReplay(t *testing.T) (cfgPath, dbPath string) {
	dir := t.TempDir()
	rows := [][4]float64{
		{20010, 20050, 20000, 20020},
		{20050, 20100, 20040, 20080},
		{20060, 20070, 20010, 20020},
		{20030, 20040, 19950, 19960},
		{19980, 20000, 19970, 19990},
		{19990, 20030, 19980, 20020},
		{20000, 20010, 19930, 19940},
		{19950, 19960, 19900, 19910},
		{19920, 19950, 19910, 19940},
		{19970, 20040, 19970, 20040},
		{20040, 20080, 20030, 20070},
		{20060, 20060, 20020, 20030},
		{20040, 20100, 20040, 20090},
		{20090, 20330, 20080, 20300},
	}
	t0 := time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString("time,open,high,low,close,volume\n")
	for i, r := range rows {
		at := t0.Add(time.Duration(i) * 5 * time.Minute)
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,1\n", at.Format(time.RFC3339), r[0], r[1], r[2], r[3])
	}
	bars := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(bars, []byte(b.String()), 0o644))

	c := config.Default()
	c.Data.BaseTimeframe = "M5"
	c.Data.Timeframes = []string{"M5"}
	c.Data.Calendar = "always"
	c.Fusion.EntryTimeframe = "M5"
	c.Fusion.BiasTimeframe = "M5"
	c.Structure.SwingStrength = 1
	c.Feed.Path = bars
	c.Journal.DBPath = filepath.Join(dir, "smc.db")
	cfgPath = filepath.Join(dir, "smc.yaml")
	require.NoError(t, c.SaveToFile(cfgPath))
	return cfgPath, c.Journal.DBPath
}

func TestConfigInitThenValidate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "smc.yaml")
	require.NoError(t, execute(t, "config", "init", "-o", out))
	assert.FileExists(t, out)
	require.NoError(t, execute(t, "config", "validate", "-f", out))
}

func TestConfigValidateFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  risk_percent: 9\n"), 0o644))
	err := execute(t, "config", "validate", "-f", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk_percent")
}

func TestRunReplayRecordsRunAndReport(t *testing.T) {
	cfgPath, dbPath := writeReplay(t)
	report := filepath.Join(t.TempDir(), "run.org")

	require.NoError(t, execute(t, "run", "-c", cfgPath, "--report", report))

	j, err := journal.NewSQLite(dbPath)
	require.NoError(t, err)
	defer j.Close()

	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	trades, err := j.ListTradesClosedBetween(day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BUY", trades[0].Side)
	assert.InDelta(t, 1704.0, trades[0].RealizedPL, 1e-9)

	run, err := j.GetRun(trades[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, 14, run.Bars)
	assert.Equal(t, 1, run.Trades)
	assert.InDelta(t, 101704.0, run.EndEquity, 1e-9)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), trades[0].RunID)

	risk, err := j.ListEvents(journal.EventFilter{RunID: run.RunID, Kind: journal.KindRisk})
	require.NoError(t, err)
	assert.Len(t, risk, 1)
}

func TestRunLiveNeedsAMQPFeed(t *testing.T) {
	cfgPath, _ := writeReplay(t)
	err := execute(t, "run", "-c", cfgPath, "--live")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--live")
}

func TestDayBounds(t *testing.T) {
	start, end, err := dayBounds(time.UTC, "2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	_, _, err = dayBounds(time.UTC, "03/09/2025")
	assert.Error(t, err)
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2025-03-04T14:05:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 4, 14, 5, 0, 0, time.UTC)))

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}

func TestGatewayServesVenueToGatewayBroker(t *testing.T) {
	cfgPath, _ := writeReplay(t)
	cfg, err := config.LoadFromFile(cfgPath)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serveGateway(ctx, cfg, ln, venueOptions{Path: "/ws"}, logger) }()

	cfg.Broker.Type = "gateway"
	cfg.Broker.URL = "ws://" + ln.Addr().String() + "/ws"
	b, closeBroker, err := openBroker(context.Background(), cfg, logger)
	require.NoError(t, err)

	ack, err := b.Submit(context.Background(), broker.OrderRequest{
		ClientRef: "c1", Symbol: cfg.Instrument.Symbol, Side: market.Bullish, Type: broker.Market, Qty: 1,
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)

	st, err := b.QueryStatus(context.Background(), ack.Ref)
	require.NoError(t, err)
	assert.Equal(t, ack.Ref, st.Ref)

	closeBroker()
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
