package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/market"
)

// PlannedRisk computes the cash lost across qty contracts if the stop is hit.
func PlannedRisk(inst market.Instrument, qty int, entry, stop float64) decimal.Decimal {
	return inst.CashPerContract(entry - stop).Mul(decimal.NewFromInt(int64(qty)))
}

func RR(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	reward := math.Abs(target - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// RiskPct is risk as a percentage of equity (1 means 1%). It is zero when
// there is no equity to measure against.
func RiskPct(risk, equity decimal.Decimal) float64 {
	if !equity.IsPositive() {
		return 0
	}
	pct, _ := risk.Div(equity).Mul(hundred).Float64()
	return pct
}

var hundred = decimal.NewFromInt(100)

func percentOf(equity decimal.Decimal, pct float64) decimal.Decimal {
	return equity.Mul(decimal.NewFromFloat(pct)).Div(hundred)
}
