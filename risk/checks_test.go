package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/signal"
	"github.com/rustyeddy/smc/zones"
)

func longSignal(inv float64) signal.TradeSignal {
	return signal.TradeSignal{
		ID:           "sig-1",
		Direction:    market.Bullish,
		Invalidation: inv,
		GeneratedAt:  time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC),
	}
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.MaxContracts = 2
	return p
}

func TestEvaluateScenario(t *testing.T) {
	m := NewManager(testPolicy(), market.MNQ)
	acct := NewAccount(decimal.NewFromInt(100000))

	// Invalidation 19952 less the 2 point buffer puts the stop at 19950.
	o, d := m.Evaluate(longSignal(19952), 20000, acct, nil)
	require.True(t, d.Allowed, d.String())
	assert.False(t, d.Halt)
	assert.Equal(t, 2, o.Quantity)
	assert.Equal(t, 19950.0, o.StopPrice)
	assert.Equal(t, 20100.0, o.TargetPrice)
	assert.Equal(t, "reward_ratio", o.TargetSource)
	assert.Equal(t, "200", o.RiskAmount.String())
	assert.Equal(t, "sig-1", o.SignalID)
	assert.InDelta(t, 2.0, d.PlannedRR, 1e-9)
}

func TestEvaluateRejections(t *testing.T) {
	tests := []struct {
		name string
		acct Account
		sig  signal.TradeSignal
		code string
		halt bool
	}{
		{
			name: "daily loss limit",
			acct: Account{Equity: decimal.NewFromInt(97000), StartEquity: decimal.NewFromInt(100000),
				RealizedPnLToday: decimal.NewFromInt(-3000)},
			sig:  longSignal(19952),
			code: "DAILY_LOSS_LIMIT",
			halt: true,
		},
		{
			name: "size too small",
			acct: NewAccount(decimal.NewFromInt(5000)),
			sig:  longSignal(19902),
			code: "SIZE_TOO_SMALL",
		},
		{
			name: "equity too low",
			acct: NewAccount(decimal.NewFromInt(900)),
			sig:  longSignal(19995),
			code: "EQUITY_TOO_LOW",
		},
		{
			name: "stop above long entry",
			acct: NewAccount(decimal.NewFromInt(100000)),
			sig:  longSignal(20010),
			code: "NO_STOP_OR_ENTRY",
		},
	}

	m := NewManager(testPolicy(), market.MNQ)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o, d := m.Evaluate(tt.sig, 20000, tt.acct, nil)
			assert.False(t, d.Allowed)
			assert.True(t, d.Has(tt.code), d.String())
			assert.Equal(t, tt.halt, d.Halt)
			assert.Zero(t, o.Quantity)
		})
	}
}

func TestDailyLimitBoundary(t *testing.T) {
	m := NewManager(testPolicy(), market.MNQ)
	acct := NewAccount(decimal.NewFromInt(100000))

	acct.RealizedPnLToday = decimal.NewFromFloat(-2999.99)
	assert.False(t, m.DailyLimitBreached(acct))
	acct.RealizedPnLToday = decimal.NewFromInt(-3000)
	assert.True(t, m.DailyLimitBreached(acct))
}

func TestTargetPrefersLiquidity(t *testing.T) {
	m := NewManager(testPolicy(), market.MNQ)
	pools := []zones.Zone{
		{Kind: zones.LiquidityPool, Direction: market.Bullish, State: zones.Active, Low: 20150, High: 20151},
		{Kind: zones.LiquidityPool, Direction: market.Bullish, State: zones.Active, Low: 20090, High: 20092},
		{Kind: zones.LiquidityPool, Direction: market.Bearish, State: zones.Active, Low: 20080, High: 20081},
		{Kind: zones.LiquidityPool, Direction: market.Bullish, State: zones.Mitigated, Low: 20085, High: 20086},
	}

	target, src := m.Target(market.Bullish, 20000, 19950, pools)
	assert.Equal(t, 20090.0, target)
	assert.Equal(t, "liquidity_pool", src)

	// 20060 pays only 1.2R, below the 1.5 minimum.
	near := append(pools, zones.Zone{Kind: zones.LiquidityPool, Direction: market.Bullish,
		State: zones.Active, Low: 20060, High: 20061})
	target, src = m.Target(market.Bullish, 20000, 19950, near)
	assert.Equal(t, 20100.0, target)
	assert.Equal(t, "reward_ratio", src)

	// Short side aims at equal lows below.
	target, src = m.Target(market.Bearish, 20000, 20050, []zones.Zone{
		{Kind: zones.LiquidityPool, Direction: market.Bearish, State: zones.Active, Low: 19880, High: 19890.1},
	})
	assert.Equal(t, 19890.0, target)
	assert.Equal(t, "liquidity_pool", src)
}

func TestMinTargetPoints(t *testing.T) {
	m := NewManager(testPolicy(), market.MNQ)
	target, _ := m.Target(market.Bullish, 20000, 19990, nil)
	assert.Equal(t, 20040.0, target, "2R is 20 points, floor is 40")
}

func TestShortOrder(t *testing.T) {
	m := NewManager(testPolicy(), market.MNQ)
	sig := longSignal(20048)
	sig.Direction = market.Bearish

	o, d := m.Evaluate(sig, 20000, NewAccount(decimal.NewFromInt(100000)), nil)
	require.True(t, d.Allowed, d.String())
	assert.Equal(t, market.Bearish, o.Direction)
	assert.Equal(t, 20050.0, o.StopPrice)
	assert.Equal(t, 19900.0, o.TargetPrice)
	assert.Equal(t, 2, o.Quantity)
}

// Whatever the inputs, an allowed order never risks more than the cap.
func TestRiskNeverExceedsCap(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		p := DefaultPolicy()
		p.RiskPercent = 0.1 + r.Float64()*4.9
		p.MaxRiskPercent = p.RiskPercent + r.Float64()*(5-p.RiskPercent)
		p.MaxContracts = 1 + r.Intn(50)
		p.MinRR = 0
		m := NewManager(p, market.MNQ)

		equity := decimal.NewFromFloat(1000 + r.Float64()*500000).Round(2)
		entry := market.MNQ.RoundToTick(15000 + r.Float64()*10000)
		sig := longSignal(entry - 0.25 - r.Float64()*300)
		if r.Intn(2) == 0 {
			sig.Direction = market.Bearish
			sig.Invalidation = entry + (entry - sig.Invalidation)
		}

		o, d := m.Evaluate(sig, entry, NewAccount(equity), nil)
		if !d.Allowed {
			continue
		}
		limit := percentOf(equity, p.MaxRiskPercent)
		require.True(t, o.RiskAmount.LessThanOrEqual(limit),
			"case %d: risk %s above cap %s", i, o.RiskAmount, limit)
		require.LessOrEqual(t, o.Quantity, p.MaxContracts)
		require.GreaterOrEqual(t, o.Quantity, 1)
	}
}
