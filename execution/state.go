// Package execution drives one order at a time from submission to exit and
// owns the position and the account it affects.
package execution

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/risk"
)

type State string

const (
	Idle          State = "idle"
	PendingSubmit State = "pending_submit"
	Working       State = "working"
	Filled        State = "filled"
	Managing      State = "managing"
	Closing       State = "closing"
	Closed        State = "closed"
	Rejected      State = "rejected"
	Cancelled     State = "cancelled"
	Reconciling   State = "reconciling"
)

// terminal states release the slot and fall straight back to Idle.
func (s State) terminal() bool {
	return s == Closed || s == Rejected || s == Cancelled
}

var (
	ErrPositionOpen      = errors.New("execution: position or order already open")
	ErrNotIdle           = errors.New("execution: machine busy")
	ErrHalted            = errors.New("execution: daily loss halt active")
	ErrSuspended         = errors.New("execution: trading suspended")
	ErrRejected          = errors.New("execution: order rejected")
	ErrNotManaging       = errors.New("execution: no position to exit")
	ErrBrokerUnreachable = errors.New("execution: broker unreachable")
)

type Config struct {
	Symbol           string
	Instrument       market.Instrument
	EntryType        broker.OrderType // MARKET or LIMIT
	EntryTimeoutBars int              // working entry bars before the remainder is cancelled
	TimeLimit        time.Duration    // maximum holding time, 0 for none
	RequestTimeout   time.Duration
	ReconcileRetries int
	ReconcileBackoff time.Duration
	ReconnectBars    int // bars to wait for a reconnect before reconciling anyway
}

func (c *Config) defaults() {
	if c.Symbol == "" {
		c.Symbol = c.Instrument.Symbol
	}
	if c.EntryType == "" {
		c.EntryType = broker.Market
	}
	if c.EntryTimeoutBars < 1 {
		c.EntryTimeoutBars = 1
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.ReconcileRetries < 1 {
		c.ReconcileRetries = 1
	}
	if c.ReconnectBars < 1 {
		c.ReconnectBars = 1
	}
}

// Intent is a sized order plus what the monitor later needs to know about
// the signal behind it.
type Intent struct {
	Order           risk.SizedOrder
	SignalTimeframe market.Timeframe
	Invalidation    float64
	At              time.Time
}

type Position struct {
	OrderRef        string
	SignalID        string
	Direction       market.Direction
	EntryFillPrice  float64
	Quantity        int
	OpenedAt        time.Time
	StopPrice       float64
	TargetPrice     float64
	TimeLimit       time.Time // zero means no limit
	SignalTimeframe market.Timeframe
	Invalidation    float64
	StopRef         string
	TargetRef       string
}

// ExitIntent asks the machine to flatten. Type is MARKET or LIMIT at Price.
type ExitIntent struct {
	Reason string
	Type   broker.OrderType
	Price  float64
	At     time.Time
}

type Transition struct {
	From     State
	To       State
	At       time.Time
	Reason   string
	OrderRef string
}

// Trade is a completed round trip.
type Trade struct {
	ID         string
	SignalID   string
	Symbol     string
	Direction  market.Direction
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	PnL        decimal.Decimal
	Reason     string
}

// Sink receives the machine's audit records.
type Sink interface {
	Transition(Transition)
	TradeClosed(Trade)
}

type nopSink struct{}

func (nopSink) Transition(Transition) {}
func (nopSink) TradeClosed(Trade)     {}

// Snapshot is a read-only copy of the machine.
type Snapshot struct {
	State        State
	Account      risk.Account
	Position     *Position
	Order        *risk.SizedOrder
	EntryFilled  int
	Halted       bool
	Suspended    bool
	LastRollover time.Time
}
