package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/market"
)

// Policy holds the risk limits. Percentages are of equity, 1 meaning 1%.
type Policy struct {
	RiskPercent      float64 `json:"risk_percent" yaml:"risk_percent"`
	MaxRiskPercent   float64 `json:"max_risk_percent" yaml:"max_risk_percent"`
	DailyLossPercent float64 `json:"daily_loss_percent" yaml:"daily_loss_percent"`
	MaxContracts     int     `json:"max_contracts" yaml:"max_contracts"`
	MinEquity        float64 `json:"min_equity" yaml:"min_equity"`

	// Stop and target placement, in price points.
	StopBufferPoints float64 `json:"stop_buffer_points" yaml:"stop_buffer_points"`
	RewardRatio      float64 `json:"reward_ratio" yaml:"reward_ratio"`
	MinTargetPoints  float64 `json:"min_target_points" yaml:"min_target_points"`
	MinRR            float64 `json:"min_rr" yaml:"min_rr"`
}

func DefaultPolicy() Policy {
	return Policy{
		RiskPercent:      1.0,
		MaxRiskPercent:   1.0,
		DailyLossPercent: 3.0,
		MaxContracts:     10,
		MinEquity:        1000,
		StopBufferPoints: 2,
		RewardRatio:      2,
		MinTargetPoints:  40,
		MinRR:            1.5,
	}
}

// Account is the cash side of the book. The execution machine owns and
// mutates it; everyone else reads a copy.
type Account struct {
	Equity           decimal.Decimal
	StartEquity      decimal.Decimal // equity at the last session rollover
	RealizedPnLToday decimal.Decimal
	OpenRisk         decimal.Decimal
}

func NewAccount(equity decimal.Decimal) Account {
	return Account{Equity: equity, StartEquity: equity}
}

// SizedOrder is an order intent whose quantity was derived by the Manager.
type SizedOrder struct {
	SignalID     string
	Direction    market.Direction
	Quantity     int
	EntryPrice   float64
	StopPrice    float64
	TargetPrice  float64
	TargetSource string // liquidity_pool or reward_ratio
	RiskAmount   decimal.Decimal
	CreatedAt    time.Time
}

// RiskPoints is the distance from entry to stop.
func (o SizedOrder) RiskPoints() float64 {
	d := o.EntryPrice - o.StopPrice
	if d < 0 {
		return -d
	}
	return d
}
