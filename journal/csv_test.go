package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tp, ep, vp := filepath.Join(dir, "trades.csv"), filepath.Join(dir, "equity.csv"), filepath.Join(dir, "events.csv")
	j, err := NewCSV(tp, ep, vp)
	require.NoError(t, err)

	at := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("T1", at, -204)))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: at, Equity: 99796, StartEquity: 100000, RealizedToday: -204}))
	require.NoError(t, j.RecordEvent(Event{Time: at, Kind: KindSignal, Timeframe: "M5", Message: "long signal",
		Fields: map[string]any{"confidence": 0.8}}))
	require.NoError(t, j.Close())

	trades := readCSV(t, tp)
	require.Len(t, trades, 2)
	assert.Equal(t, tradeHeader, trades[0])
	assert.Equal(t, []string{"T1", "run-1", "sig-T1", "MNQ", "BUY", "2", "20001.00", "20100.00",
		"2025-03-04T14:00:00Z", "2025-03-04T15:00:00Z", "-204.00", "target hit"}, trades[1])

	equity := readCSV(t, ep)
	require.Len(t, equity, 2)
	assert.Equal(t, "99796.00", equity[1][1])

	events := readCSV(t, vp)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"2025-03-04T15:00:00Z", "signal", "M5", "", "long signal", `{"confidence":0.8}`}, events[1])
}

func TestCSVJournalWithoutEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(filepath.Join(dir, "t.csv"), filepath.Join(dir, "e.csv"), "")
	require.NoError(t, err)
	assert.NoError(t, j.RecordEvent(Event{Kind: KindFault, Message: "dropped"}))
	assert.NoError(t, j.Close())
}

func TestCSVJournalBadPath(t *testing.T) {
	t.Parallel()

	_, err := NewCSV(filepath.Join(t.TempDir(), "missing", "t.csv"), "e.csv", "")
	assert.Error(t, err)
}
