// Package journal persists the audit trail: closed trades, equity
// snapshots, and one record per structure event, zone transition, signal,
// risk decision and state-machine transition.
package journal

import (
	"time"
)

type TradeRecord struct {
	TradeID    string    `json:"trade_id"`
	RunID      string    `json:"run_id,omitempty"`
	SignalID   string    `json:"signal_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // BUY or SELL on entry
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
	RealizedPL float64   `json:"realized_pl"`
	Reason     string    `json:"reason"`
}

type EquitySnapshot struct {
	RunID         string    `json:"run_id,omitempty"`
	Time          time.Time `json:"time"`
	Equity        float64   `json:"equity"`
	StartEquity   float64   `json:"start_equity"`
	RealizedToday float64   `json:"realized_today"`
	OpenRisk      float64   `json:"open_risk"`
}

type EventKind string

const (
	KindStructure  EventKind = "structure"
	KindZone       EventKind = "zone"
	KindSignal     EventKind = "signal"
	KindRisk       EventKind = "risk"
	KindTransition EventKind = "transition"
	KindFault      EventKind = "fault"
	KindSession    EventKind = "session"
)

// Event is one audit record. Fields carries the kind-specific detail.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id,omitempty"`
	Time      time.Time      `json:"time"`
	Kind      EventKind      `json:"kind"`
	Timeframe string         `json:"timeframe,omitempty"`
	Ref       string         `json:"ref,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordEvent(Event) error
	Close() error
}
