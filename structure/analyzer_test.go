package structure

import (
	"testing"
	"time"

	"github.com/rustyeddy/smc/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)

type ohlc struct{ o, h, l, c float64 }

// chochPath is a bearish leg that seeds a bearish bias, then a close above the
// last lower high (bar 9, a CHoCH), then a higher high break (bar 12, a BOS).
var chochPath = []ohlc{
	{101, 105, 100, 102}, // 0
	{105, 110, 104, 108}, // 1 swing high 110 (warm-up)
	{106, 107, 101, 102}, // 2
	{103, 104, 95, 96},   // 3 swing low 95 (warm-up)
	{98, 100, 97, 99},    // 4
	{99, 103, 98, 102},   // 5 swing high 103
	{100, 101, 93, 94},   // 6 closes below 95: seeds bearish bias
	{95, 96, 90, 91},     // 7 swing low 90
	{92, 95, 91, 94},     // 8
	{95, 104, 94, 104},   // 9 closes above 103: CHoCH
	{104, 108, 103, 107}, // 10 swing high 108
	{106, 106, 102, 103}, // 11 swing low 102
	{104, 110, 104, 109}, // 12 closes above 108: BOS
}

func feed(t *testing.T, rows []ohlc) (*market.Aggregator, *market.Series) {
	t.Helper()
	agg := market.NewAggregator([]market.Timeframe{market.M15}, market.AggregatorOptions{})
	for i, r := range rows {
		_, err := agg.Append(market.Bar{
			Timeframe: market.M15,
			Time:      t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:      r.o, High: r.h, Low: r.l, Close: r.c, Volume: 1,
		})
		require.NoError(t, err)
	}
	s, _ := agg.Series(market.M15)
	return agg, s
}

func run(t *testing.T, rows []ohlc) (*Analyzer, []Event) {
	t.Helper()
	agg := market.NewAggregator([]market.Timeframe{market.M15}, market.AggregatorOptions{})
	s, _ := agg.Series(market.M15)
	a := NewAnalyzer(market.M15, Config{SwingStrength: 1})

	var events []Event
	for i, r := range rows {
		_, err := agg.Append(market.Bar{
			Timeframe: market.M15,
			Time:      t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:      r.o, High: r.h, Low: r.l, Close: r.c, Volume: 1,
		})
		require.NoError(t, err)
		events = append(events, a.OnBar(s).Events...)
	}
	return a, events
}

func TestAnalyzerCHoCHThenBOS(t *testing.T) {
	t.Parallel()

	a, events := run(t, chochPath)
	require.Len(t, events, 2)

	choch := events[0]
	assert.Equal(t, CHoCH, choch.Kind)
	assert.Equal(t, market.Bullish, choch.Direction)
	assert.Equal(t, 103.0, choch.BrokenLevel)
	assert.Equal(t, 90.0, choch.Invalidation)
	assert.Equal(t, 9, choch.Index)
	assert.Equal(t, t0.Add(10*15*time.Minute), choch.Time)

	bos := events[1]
	assert.Equal(t, BOS, bos.Kind)
	assert.Equal(t, market.Bullish, bos.Direction)
	assert.Equal(t, 108.0, bos.BrokenLevel)
	assert.Equal(t, 102.0, bos.Invalidation)

	assert.Equal(t, market.Bullish, a.Bias())
	last, ok := a.LastEvent()
	require.True(t, ok)
	assert.Equal(t, bos.ID, last.ID)
}

func TestAnalyzerWarmupSwingsEmitNothing(t *testing.T) {
	t.Parallel()

	a, events := run(t, chochPath[:7])
	assert.Empty(t, events)
	// The warm-up low was broken, which seeds the bias without an event.
	assert.Equal(t, market.Bearish, a.Bias())
	assert.Equal(t, Ready, a.State())

	fresh := NewAnalyzer(market.M15, Config{SwingStrength: 1})
	assert.Equal(t, WarmingUp, fresh.State())
}

func TestAnalyzerReevaluationDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	_, s := feed(t, chochPath)
	a := NewAnalyzer(market.M15, Config{SwingStrength: 1})

	first := a.OnBar(s)
	require.Len(t, first.Events, 2)

	for i := 0; i < 3; i++ {
		again := a.OnBar(s)
		assert.True(t, again.Empty())
	}
}

func TestAnalyzerEqualHighsResolveToEarlier(t *testing.T) {
	t.Parallel()

	rows := []ohlc{
		{99, 100, 98, 99},
		{100, 105, 99, 104},
		{104, 105, 100, 101},
		{101, 101, 97, 98},
		{98, 99, 96, 97},
	}
	_, s := feed(t, rows)
	a := NewAnalyzer(market.M15, Config{SwingStrength: 1})
	a.OnBar(s)

	var highs []SwingPoint
	for _, sp := range a.Swings() {
		if sp.Kind == SwingHigh {
			highs = append(highs, sp)
		}
	}
	require.Len(t, highs, 1)
	assert.Equal(t, 1, highs[0].Index)
	assert.Equal(t, 105.0, highs[0].Price)
}

func TestAnalyzerUsesClosesNotWicks(t *testing.T) {
	t.Parallel()

	rows := append([]ohlc(nil), chochPath[:9]...)
	// Wick through 103 but close below it.
	rows = append(rows, ohlc{95, 106, 94, 102})
	_, events := run(t, rows)
	assert.Empty(t, events)
}

func TestAnalyzerReset(t *testing.T) {
	t.Parallel()

	a, _ := run(t, chochPath)
	a.Reset()
	assert.Equal(t, market.Neutral, a.Bias())
	assert.Equal(t, WarmingUp, a.State())
	assert.Empty(t, a.Swings())
	_, ok := a.LastEvent()
	assert.False(t, ok)
}

// longRun confirms one swing low and then more swing highs than the analyzer
// retains before any close breaks that low.
var longRun = []ohlc{
	{100, 102, 99, 100},   // 0
	{101, 105, 99.1, 101}, // 1 swing high (warm-up)
	{101, 103, 99.2, 100}, // 2
	{101, 106, 99.3, 101}, // 3 swing high (warm-up)
	{100, 101, 90, 95},    // 4 swing low 90
	{99, 104, 91, 100},    // 5 swing high
	{99, 101, 92, 98},     // 6
	{99, 105, 93, 100},    // 7 swing high
	{99, 102, 94, 99},     // 8
	{99, 106, 95, 101},    // 9 swing high
	{99, 103, 96, 100},    // 10
	{99, 107, 97, 102},    // 11 swing high
	{99, 104, 98, 101},    // 12
	{99, 108, 99, 103},    // 13 swing high 108
	{103, 105, 100, 104},  // 14
	{104, 106, 88, 89},    // 15 closes below 90
}

func TestAnalyzerBreaksSwingOlderThanHistory(t *testing.T) {
	t.Parallel()

	a, events := run(t, longRun)
	for _, sw := range a.Swings() {
		assert.NotEqual(t, 90.0, sw.Price)
	}

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, market.Bearish, ev.Direction)
	assert.Equal(t, 90.0, ev.BrokenLevel)
	assert.Equal(t, 108.0, ev.Invalidation)
	assert.Equal(t, 15, ev.Index)
	assert.Equal(t, market.Bearish, a.Bias())
}
