package market

import (
	"fmt"
	"math"
	"time"
)

// Bar is one closed OHLCV bar. Time is the bar's open time.
type Bar struct {
	Timeframe Timeframe
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CloseTime is the instant the bar closed and became immutable.
func (b Bar) CloseTime() time.Time {
	return b.Time.Add(b.Timeframe.Duration())
}

func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Direction reports the candle body direction.
func (b Bar) Direction() Direction {
	switch {
	case b.Close > b.Open:
		return Bullish
	case b.Close < b.Open:
		return Bearish
	default:
		return Neutral
	}
}

// Validate rejects bars that cannot have come from a real market.
func (b Bar) Validate() error {
	if b.Timeframe <= 0 {
		return fmt.Errorf("bar has no timeframe")
	}
	if b.Time.IsZero() {
		return fmt.Errorf("bar has no open time")
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bar %s %s has non-finite values", b.Timeframe, b.Time.Format(time.RFC3339))
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s %s high %.2f below low %.2f", b.Timeframe, b.Time.Format(time.RFC3339), b.High, b.Low)
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return fmt.Errorf("bar %s %s open/close outside high-low range", b.Timeframe, b.Time.Format(time.RFC3339))
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s %s negative volume", b.Timeframe, b.Time.Format(time.RFC3339))
	}
	return nil
}
