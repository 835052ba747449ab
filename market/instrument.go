package market

import (
	"math"

	"github.com/shopspring/decimal"
)

// Instrument describes the single futures contract being traded.
type Instrument struct {
	Symbol     string  `json:"symbol" yaml:"symbol"`
	Exchange   string  `json:"exchange" yaml:"exchange"`
	Currency   string  `json:"currency" yaml:"currency"`
	TickSize   float64 `json:"tick_size" yaml:"tick_size"`
	PointValue float64 `json:"point_value" yaml:"point_value"` // cash per 1.0 price point per contract
}

// MNQ is the CME Micro E-mini Nasdaq-100 contract.
var MNQ = Instrument{
	Symbol:     "MNQ",
	Exchange:   "CME",
	Currency:   "USD",
	TickSize:   0.25,
	PointValue: 2,
}

// RoundToTick snaps a price to the nearest valid tick.
func (i Instrument) RoundToTick(p float64) float64 {
	if i.TickSize <= 0 {
		return p
	}
	return math.Round(p/i.TickSize) * i.TickSize
}

// CashPerContract converts a price distance into cash risk for one contract.
func (i Instrument) CashPerContract(points float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Abs(points)).Mul(decimal.NewFromFloat(i.PointValue))
}

// PnL returns the realized cash result of moving from entry to exit with qty
// contracts in direction dir.
func (i Instrument) PnL(dir Direction, qty int, entry, exit float64) decimal.Decimal {
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	return move.
		Mul(decimal.NewFromInt(int64(dir))).
		Mul(decimal.NewFromInt(int64(qty))).
		Mul(decimal.NewFromFloat(i.PointValue))
}
