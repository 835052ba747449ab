package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func trade(id string, closeT time.Time, pl float64) TradeRecord {
	return TradeRecord{
		TradeID:    id,
		RunID:      "run-1",
		SignalID:   "sig-" + id,
		Symbol:     "MNQ",
		Side:       "BUY",
		Quantity:   2,
		EntryPrice: 20001,
		ExitPrice:  20100,
		OpenTime:   closeT.Add(-time.Hour),
		CloseTime:  closeT,
		RealizedPL: pl,
		Reason:     "target hit",
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())
	for _, name := range []string{"trades", "equity", "events", "runs"} {
		assert.True(t, found[name], name)
	}
}

func TestSQLiteTradeRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	at := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	rec := trade("T1", at, 396)
	require.NoError(t, j.RecordTrade(rec))

	got, err := j.GetTrade("T1")
	require.NoError(t, err)
	assert.Equal(t, rec.SignalID, got.SignalID)
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, 396.0, got.RealizedPL)
	assert.True(t, got.CloseTime.Equal(at))

	_, err = j.GetTrade("missing")
	assert.ErrorContains(t, err, "not found")

	assert.Error(t, j.RecordTrade(rec), "trade ids are unique")
}

func TestListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("late", day.Add(20*time.Hour), -204)))
	require.NoError(t, j.RecordTrade(trade("early", day.Add(15*time.Hour), 396)))
	require.NoError(t, j.RecordTrade(trade("next-day", day.Add(30*time.Hour), 10)))

	got, err := j.ListTradesClosedBetween(day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].TradeID)
	assert.Equal(t, "late", got[1].TradeID)

	got, err = j.ListTradesClosedBetween(day.Add(48*time.Hour), day.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListEquityBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	at := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: at, Equity: 100396, StartEquity: 100000, RealizedToday: 396}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: at.Add(time.Hour), Equity: 100192, StartEquity: 100000, RealizedToday: 192}))

	got, err := j.ListEquityBetween(at, at.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100192.0, got[1].Equity)
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	at := time.Date(2025, 3, 4, 14, 5, 0, 0, time.UTC)
	events := []Event{
		{ID: "e1", RunID: "r1", Time: at, Kind: KindStructure, Timeframe: "M5", Message: "CHoCH bullish",
			Fields: map[string]any{"level": 20010.5}},
		{ID: "e2", RunID: "r1", Time: at.Add(time.Minute), Kind: KindZone, Timeframe: "M5", Ref: "7", Message: "fvg active"},
		{ID: "e3", RunID: "r2", Time: at.Add(2 * time.Minute), Kind: KindStructure, Message: "BOS bullish"},
	}
	for _, e := range events {
		require.NoError(t, j.RecordEvent(e))
	}

	got, err := j.ListEvents(EventFilter{RunID: "r1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, KindStructure, got[0].Kind)
	assert.Equal(t, 20010.5, got[0].Fields["level"])
	assert.Nil(t, got[1].Fields)

	got, err = j.ListEvents(EventFilter{Kind: KindStructure, Since: at.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e3", got[0].ID)

	got, err = j.ListEvents(EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	r := RunRecord{
		RunID:       "r1",
		Created:     time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC),
		Symbol:      "MNQ",
		Dataset:     "mnq.csv",
		Start:       time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		Bars:        1380,
		Signals:     3,
		Trades:      2,
		Wins:        1,
		Losses:      1,
		StartEquity: 100000,
		EndEquity:   100192,
		MaxDDPct:    0.2,
		Config:      []byte("risk:\n  risk_percent: 1\n"),
	}
	require.NoError(t, j.RecordRun(r))
	require.NoError(t, j.RecordRun(r), "rewriting a run replaces it")

	got, err := j.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, 1380, got.Bars)
	assert.Equal(t, r.Config, got.Config)
	assert.InDelta(t, 0.192, got.ReturnPct(), 1e-9)
}
