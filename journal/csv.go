package journal

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"time"
)

var (
	tradeHeader  = []string{"trade_id", "run_id", "signal_id", "symbol", "side", "quantity", "entry_price", "exit_price", "open_time", "close_time", "realized_pl", "reason"}
	equityHeader = []string{"time", "equity", "start_equity", "realized_today", "open_risk"}
	eventHeader  = []string{"time", "kind", "timeframe", "ref", "message", "fields"}
)

// CSV writes trades, equity and events to three files. An empty events path
// drops events.
type CSV struct {
	trades, equity, events *csv.Writer
	files                  []*os.File
}

func NewCSV(tradesPath, equityPath, eventsPath string) (*CSV, error) {
	j := &CSV{}
	open := func(path string, header []string) (*csv.Writer, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.trades, err = open(tradesPath, tradeHeader); err != nil {
		j.Close()
		return nil, err
	}
	if j.equity, err = open(equityPath, equityHeader); err != nil {
		j.Close()
		return nil, err
	}
	if eventsPath != "" {
		if j.events, err = open(eventsPath, eventHeader); err != nil {
			j.Close()
			return nil, err
		}
	}
	return j, nil
}

func (j *CSV) RecordTrade(t TradeRecord) error {
	return write(j.trades, []string{
		t.TradeID,
		t.RunID,
		t.SignalID,
		t.Symbol,
		t.Side,
		strconv.Itoa(t.Quantity),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		f(t.RealizedPL),
		t.Reason,
	})
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	return write(j.equity, []string{
		e.Time.UTC().Format(time.RFC3339),
		f(e.Equity),
		f(e.StartEquity),
		f(e.RealizedToday),
		f(e.OpenRisk),
	})
}

func (j *CSV) RecordEvent(e Event) error {
	if j.events == nil {
		return nil
	}
	fields := ""
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			return err
		}
		fields = string(b)
	}
	return write(j.events, []string{
		e.Time.UTC().Format(time.RFC3339),
		string(e.Kind),
		e.Timeframe,
		e.Ref,
		e.Message,
		fields,
	})
}

func (j *CSV) Close() error {
	var first error
	for _, w := range []*csv.Writer{j.trades, j.equity, j.events} {
		if w == nil {
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil && first == nil {
			first = err
		}
	}
	for _, fh := range j.files {
		if err := fh.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}
