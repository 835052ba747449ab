package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, run_id, signal_id, symbol, side, quantity, entry_price, exit_price, open_time, close_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.RunID, t.SignalID, t.Symbol, t.Side, t.Quantity, t.EntryPrice,
		t.ExitPrice, t.OpenTime.UTC(), t.CloseTime.UTC(), t.RealizedPL, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, equity, start_equity, realized_today, open_risk)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time.UTC(), e.Equity, e.StartEquity, e.RealizedToday, e.OpenRisk,
	)
	return err
}

func (j *SQLite) RecordEvent(e Event) error {
	fields := []byte("{}")
	if len(e.Fields) > 0 {
		var err error
		if fields, err = json.Marshal(e.Fields); err != nil {
			return fmt.Errorf("encode event fields: %w", err)
		}
	}
	_, err := j.db.Exec(`
		INSERT INTO events
		(id, run_id, time, kind, timeframe, ref, message, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Time.UTC(), string(e.Kind), e.Timeframe, e.Ref, e.Message, string(fields),
	)
	return err
}

func (j *SQLite) RecordRun(r RunRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, created, symbol, dataset, start_time, end_time, bars, signals, trades, wins, losses,
		 start_equity, end_equity, max_dd_pct, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created.UTC(), r.Symbol, r.Dataset, r.Start.UTC(), r.End.UTC(), r.Bars, r.Signals,
		r.Trades, r.Wins, r.Losses, r.StartEquity, r.EndEquity, r.MaxDDPct, string(r.Config),
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
