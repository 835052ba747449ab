package zones

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/structure"
)

var t0 = time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)

type ohlc [4]float64

type harness struct {
	t   *testing.T
	agg *market.Aggregator
	s   *market.Series
	an  *structure.Analyzer
	m   *Mapper
	n   int
}

func newHarness(t *testing.T, cfg Config) *harness {
	agg := market.NewAggregator([]market.Timeframe{market.M1}, market.AggregatorOptions{})
	s, ok := agg.Series(market.M1)
	require.True(t, ok)
	return &harness{
		t:   t,
		agg: agg,
		s:   s,
		an:  structure.NewAnalyzer(market.M1, structure.Config{SwingStrength: 1, History: 20}),
		m:   NewMapper(cfg),
	}
}

func (h *harness) push(o ohlc) Result {
	b := market.Bar{
		Timeframe: market.M1,
		Time:      t0.Add(time.Duration(h.n) * time.Minute),
		Open:      o[0], High: o[1], Low: o[2], Close: o[3],
		Volume: 1,
	}
	h.n++
	_, err := h.agg.Append(b)
	require.NoError(h.t, err)
	return h.m.OnBar(h.s, h.an.OnBar(h.s))
}

func (h *harness) pushAll(bars ...ohlc) []Transition {
	var out []Transition
	for _, b := range bars {
		out = append(out, h.push(b).Transitions...)
	}
	return out
}

func ofKind(ts []Transition, k Kind) []Transition {
	var out []Transition
	for _, tr := range ts {
		if tr.Zone.Kind == k {
			out = append(out, tr)
		}
	}
	return out
}

var fvgPath = []ohlc{
	{100, 101, 99, 100.5},
	{100.5, 106, 100.5, 105.5},
	{105.5, 108, 103, 107}, // bar 3 low 103 clears bar 1 high 101
}

func TestBullishFVG(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ts := ofKind(h.pushAll(fvgPath...), FVG)

	require.Len(t, ts, 1)
	z := ts[0].Zone
	assert.Equal(t, market.Bullish, z.Direction)
	assert.Equal(t, 101.0, z.Low)
	assert.Equal(t, 103.0, z.High)
	assert.Equal(t, 1, z.Origin)
	assert.Equal(t, t0.Add(3*time.Minute), z.CreatedAt)
	assert.Equal(t, Active, ts[0].To)
	assert.Empty(t, ts[0].From)
}

func TestFVGFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FVGMinGap = 2.5
	h := newHarness(t, cfg)
	assert.Empty(t, ofKind(h.pushAll(fvgPath...), FVG), "gap of 2 below min gap")

	cfg = DefaultConfig()
	cfg.FVGSensitivity = 0.8
	h = newHarness(t, cfg)
	assert.Empty(t, ofKind(h.pushAll(fvgPath...), FVG), "gap of 2 not above 0.8 x avg range")
}

func TestMitigationBeatsExpiryOnLastBar(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FVGExpiry = 2

	for _, tc := range []struct {
		name  string
		last  ohlc
		state State
	}{
		{"touched", ohlc{106, 106, 99.5, 100}, Mitigated},
		{"untouched", ohlc{107, 108, 104, 106}, Expired},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, cfg)
			h.pushAll(fvgPath...)
			assert.Empty(t, ofKind(h.push(ohlc{107, 108, 105, 106}).Transitions, FVG))

			ts := ofKind(h.push(tc.last).Transitions, FVG)
			require.Len(t, ts, 1)
			assert.Equal(t, tc.state, ts[0].To)
			assert.Equal(t, Active, ts[0].From)
			assert.Equal(t, t0.Add(5*time.Minute), ts[0].At)
			assert.Equal(t, ts[0].Zone.ExpiresAt, ts[0].At)

			z, ok := h.m.Get(ts[0].Zone.ID)
			require.True(t, ok)
			assert.Equal(t, tc.state, z.State)
			assert.Empty(t, h.m.Active())
		})
	}
}

func TestBearishFVGClosedThrough(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.pushAll(
		ohlc{110, 111, 108, 109},
		ohlc{109, 109, 103, 104},
	)
	ts := ofKind(h.push(ohlc{104, 105, 102, 104.5}).Transitions, FVG)
	require.Len(t, ts, 1)
	assert.Equal(t, market.Bearish, ts[0].Zone.Direction)
	assert.Equal(t, 105.0, ts[0].Zone.Low)
	assert.Equal(t, 108.0, ts[0].Zone.High)
	assert.Len(t, h.m.Active(), 1)

	ts = ofKind(h.push(ohlc{104.5, 109, 104, 108.5}).Transitions, FVG)
	require.Len(t, ts, 1)
	assert.Equal(t, Mitigated, ts[0].To)
}

var bosPath = []ohlc{
	{100, 102, 99, 101},
	{101, 105, 100, 104},      // 1 swing high 105 (warm-up)
	{104, 104.5, 98, 99},      // 2 swing low 98 (warm-up)
	{99, 101, 98.5, 100},      //
	{100, 106, 99.5, 105.5},   // 4 closes above 105, seeds bullish bias
	{105.5, 107, 104, 106.5},  // 5 swing high 107
	{106.5, 106.8, 103, 103.5},
	{103.5, 104, 102, 102.5},  // 7 last bearish candle, swing low 102
	{102.5, 104.5, 102.2, 104},
	{104, 108.5, 103.8, 108},  // 9 BOS through 107
}

func TestOrderBlockFromBOS(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ts := ofKind(h.pushAll(bosPath...), OrderBlock)

	require.Len(t, ts, 1)
	z := ts[0].Zone
	assert.Equal(t, market.Bullish, z.Direction)
	assert.Equal(t, 102.0, z.Low)
	assert.Equal(t, 104.0, z.High)
	assert.Equal(t, 7, z.Origin)
	assert.Equal(t, t0.Add(10*time.Minute), z.CreatedAt)

	ev, ok := h.an.LastEvent()
	require.True(t, ok)
	assert.Equal(t, structure.BOS, ev.Kind)
	assert.Equal(t, ev.ID, z.SourceEvent)

	// Re-running with no new bars creates nothing.
	assert.Empty(t, h.m.OnBar(h.s, h.an.OnBar(h.s)).Transitions)
}

func TestOrderBlockLookback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OrderBlockLookback = 1
	h := newHarness(t, cfg)
	assert.Empty(t, ofKind(h.pushAll(bosPath...), OrderBlock))
}

func TestLiquidityPoolSweep(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ts := ofKind(h.pushAll(
		ohlc{100, 101, 99, 100},
		ohlc{100, 105, 99.5, 104}, // swing high 105
		ohlc{104, 104, 101, 102},
		ohlc{102, 103, 100, 101},
		ohlc{101, 104.8, 100.5, 104.5}, // equal high 104.8
		ohlc{104.5, 104.6, 102, 103},
	), LiquidityPool)

	require.Len(t, ts, 1)
	pool := ts[0].Zone
	assert.Equal(t, market.Bullish, pool.Direction)
	assert.Equal(t, 104.8, pool.Low)
	assert.Equal(t, 105.0, pool.High)
	assert.Equal(t, 2, pool.Touches)

	res := h.push(ohlc{103, 105.5, 102.5, 103.2})
	ts = ofKind(res.Transitions, LiquidityPool)
	require.Len(t, ts, 1)
	assert.Equal(t, Mitigated, ts[0].To)
	assert.Equal(t, "swept", ts[0].Reason)

	require.Len(t, res.Sweeps, 1)
	assert.Equal(t, pool.ID, res.Sweeps[0].ZoneID)
	assert.Equal(t, t0.Add(7*time.Minute), res.Sweeps[0].At)
	assert.Len(t, h.m.SweepsSince(t0), 1)
	assert.Empty(t, h.m.SweepsSince(t0.Add(8*time.Minute)))
}

func TestSignalFaultDiscardsZone(t *testing.T) {
	m := NewMapper(DefaultConfig())
	var res Result
	m.create(Zone{Kind: FVG, Direction: market.Bullish, Timeframe: market.M1, Low: 105, High: 100}, t0, &res)

	require.Len(t, res.Faults, 1)
	assert.Contains(t, res.Faults[0].Error(), "above high")
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, Discarded, res.Transitions[0].To)
	assert.Empty(t, m.Active())

	res = Result{}
	m.create(Zone{Kind: FVG, Direction: market.Bullish, Timeframe: market.M1, Low: 100, High: 101}, t0, &res)
	require.Empty(t, res.Faults)
	m.zones[1].High = math.NaN()

	res = Result{}
	m.update(market.Bar{Timeframe: market.M1, Time: t0, Open: 101, High: 102, Low: 100.5, Close: 101.5}, &res)
	require.Len(t, res.Faults, 1)
	assert.Equal(t, Discarded, m.zones[1].State)
}

func TestCompactKeepsIDsAddressable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepInactive = 1
	m := NewMapper(cfg)

	var res Result
	for i := 0; i < 3; i++ {
		m.create(Zone{Kind: FVG, Direction: market.Bullish, Timeframe: market.M1,
			Low: 100, High: 101}, t0, &res)
	}
	m.transition(&m.zones[0], Expired, t0, "expired", &res)
	m.transition(&m.zones[1], Expired, t0, "expired", &res)
	m.compact()

	_, ok := m.Get(1)
	assert.False(t, ok)
	z, ok := m.Get(2)
	require.True(t, ok)
	assert.Equal(t, Expired, z.State)
	z, ok = m.Get(3)
	require.True(t, ok)
	assert.Equal(t, Active, z.State)
	assert.Len(t, m.All(), 2)
}
