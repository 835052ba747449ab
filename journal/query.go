package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const tradeColumns = `trade_id, run_id, signal_id, symbol, side, quantity, entry_price, exit_price,
	open_time, close_time, realized_pl, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.TradeID,
		&rec.RunID,
		&rec.SignalID,
		&rec.Symbol,
		&rec.Side,
		&rec.Quantity,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.RealizedPL,
		&rec.Reason,
	)
	return rec, err
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return TradeRecord{}, fmt.Errorf("trade %q not found", tradeID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT run_id, time, equity, start_equity, realized_today, open_risk
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Equity, &e.StartEquity, &e.RealizedToday, &e.OpenRisk); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	RunID string
	Kind  EventKind
	Since time.Time
	Limit int
}

// ListEvents returns audit events oldest first.
func (j *SQLite) ListEvents(f EventFilter) ([]Event, error) {
	q := `SELECT id, run_id, time, kind, timeframe, ref, message, fields FROM events WHERE 1=1`
	var args []any
	if f.RunID != "" {
		q += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		q += ` AND time >= ?`
		args = append(args, f.Since.UTC())
	}
	q += ` ORDER BY time ASC, id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			kind   string
			fields string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Time, &kind, &e.Timeframe, &e.Ref, &e.Message, &fields); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		if fields != "" && fields != "{}" {
			if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
				return nil, fmt.Errorf("event %s fields: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetRun loads one run summary.
func (j *SQLite) GetRun(runID string) (RunRecord, error) {
	var (
		r   RunRecord
		cfg string
	)
	err := j.db.QueryRow(`
		SELECT run_id, created, symbol, dataset, start_time, end_time, bars, signals, trades, wins, losses,
		       start_equity, end_equity, max_dd_pct, config
		FROM runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Symbol, &r.Dataset, &r.Start, &r.End, &r.Bars, &r.Signals,
		&r.Trades, &r.Wins, &r.Losses, &r.StartEquity, &r.EndEquity, &r.MaxDDPct, &cfg)
	if err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, fmt.Errorf("run %q not found", runID)
		}
		return RunRecord{}, err
	}
	r.Config = []byte(cfg)
	return r, nil
}
