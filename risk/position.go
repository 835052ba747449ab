package risk

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/market"
)

type Inputs struct {
	Equity       decimal.Decimal
	RiskPercent  float64 // 1 means 1% of equity
	EntryPrice   float64
	StopPrice    float64
	Instrument   market.Instrument
	MaxContracts int // 0 leaves size uncapped
}

type Result struct {
	Contracts   int
	Uncapped    int
	StopPoints  float64
	RiskBudget  decimal.Decimal // equity x risk percent
	RiskPerUnit decimal.Decimal // cash lost per contract at the stop
}

// Calculate sizes a position so that hitting the stop loses at most the risk
// budget: floor(budget / (|entry-stop| x point value)), then capped.
func Calculate(in Inputs) Result {
	r := Result{
		StopPoints:  in.EntryPrice - in.StopPrice,
		RiskBudget:  percentOf(in.Equity, in.RiskPercent),
		RiskPerUnit: in.Instrument.CashPerContract(in.EntryPrice - in.StopPrice),
	}
	if r.StopPoints < 0 {
		r.StopPoints = -r.StopPoints
	}
	if !r.RiskPerUnit.IsPositive() || !r.RiskBudget.IsPositive() {
		return r
	}

	r.Uncapped = int(r.RiskBudget.Div(r.RiskPerUnit).Floor().IntPart())
	r.Contracts = r.Uncapped
	if in.MaxContracts > 0 && r.Contracts > in.MaxContracts {
		r.Contracts = in.MaxContracts
	}
	return r
}
