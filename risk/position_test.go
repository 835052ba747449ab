package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/smc/market"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       Inputs
		want     int
		uncapped int
		points   float64
		budget   string
	}{
		{
			name: "capped",
			in: Inputs{Equity: decimal.NewFromInt(100000), RiskPercent: 1,
				EntryPrice: 20000, StopPrice: 19950, Instrument: market.MNQ, MaxContracts: 2},
			want: 2, uncapped: 10, points: 50, budget: "1000.00",
		},
		{
			name: "uncapped",
			in: Inputs{Equity: decimal.NewFromInt(100000), RiskPercent: 1,
				EntryPrice: 20000, StopPrice: 19950, Instrument: market.MNQ},
			want: 10, uncapped: 10, points: 50, budget: "1000.00",
		},
		{
			name: "short floors down",
			in: Inputs{Equity: decimal.NewFromInt(25000), RiskPercent: 0.5,
				EntryPrice: 20000, StopPrice: 20030.25, Instrument: market.MNQ, MaxContracts: 10},
			want: 2, uncapped: 2, points: 30.25, budget: "125.00",
		},
		{
			name: "too small",
			in: Inputs{Equity: decimal.NewFromInt(2000), RiskPercent: 1,
				EntryPrice: 20000, StopPrice: 19950, Instrument: market.MNQ, MaxContracts: 10},
			want: 0, uncapped: 0, points: 50, budget: "20.00",
		},
		{
			name: "zero distance",
			in: Inputs{Equity: decimal.NewFromInt(2000), RiskPercent: 1,
				EntryPrice: 20000, StopPrice: 20000, Instrument: market.MNQ, MaxContracts: 10},
			want: 0, uncapped: 0, points: 0, budget: "20.00",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Calculate(tt.in)
			assert.Equal(t, tt.want, got.Contracts)
			assert.Equal(t, tt.uncapped, got.Uncapped)
			assert.InDelta(t, tt.points, got.StopPoints, 1e-9)
			assert.Equal(t, tt.budget, got.RiskBudget.StringFixed(2))
		})
	}
}

func TestRR(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 2.0, RR(20000, 19950, 20100), 1e-9)
	assert.InDelta(t, 2.0, RR(20000, 20050, 19900), 1e-9)
	assert.Zero(t, RR(20000, 20000, 20100))
}

func TestPlannedRisk(t *testing.T) {
	t.Parallel()
	got := PlannedRisk(market.MNQ, 2, 20000, 19950)
	assert.Equal(t, "200", got.String())
	assert.InDelta(t, 0.2, RiskPct(got, decimal.NewFromInt(100000)), 1e-9)
}
