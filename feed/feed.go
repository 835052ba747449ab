// Package feed supplies closed base-timeframe bars to the pipeline.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rustyeddy/smc/market"
)

// Feed yields closed bars in time order. ok is false at end of stream.
type Feed interface {
	Next(ctx context.Context) (bar market.Bar, ok bool, err error)
	Close() error
}

// wireBar is the JSON form of a bar on the message bus.
type wireBar struct {
	Symbol    string           `json:"symbol,omitempty"`
	Timeframe market.Timeframe `json:"timeframe"`
	Time      time.Time        `json:"time"`
	Open      float64          `json:"open"`
	High      float64          `json:"high"`
	Low       float64          `json:"low"`
	Close     float64          `json:"close"`
	Volume    float64          `json:"volume"`
}

// DecodeBar parses and validates one JSON bar message.
func DecodeBar(body []byte) (market.Bar, error) {
	var w wireBar
	if err := json.Unmarshal(body, &w); err != nil {
		return market.Bar{}, fmt.Errorf("decode bar: %w", err)
	}
	b := market.Bar{
		Timeframe: w.Timeframe,
		Time:      w.Time.UTC(),
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
		Close:     w.Close,
		Volume:    w.Volume,
	}
	if err := b.Validate(); err != nil {
		return market.Bar{}, fmt.Errorf("decode bar: %w", err)
	}
	return b, nil
}

// EncodeBar is the inverse of DecodeBar.
func EncodeBar(symbol string, b market.Bar) ([]byte, error) {
	return json.Marshal(wireBar{
		Symbol:    symbol,
		Timeframe: b.Timeframe,
		Time:      b.Time,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	})
}

// Slice replays bars held in memory.
type Slice struct {
	bars []market.Bar
	i    int
}

func NewSlice(bars []market.Bar) *Slice {
	return &Slice{bars: bars}
}

func (s *Slice) Next(ctx context.Context) (market.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return market.Bar{}, false, err
	}
	if s.i >= len(s.bars) {
		return market.Bar{}, false, nil
	}
	b := s.bars[s.i]
	s.i++
	return b, true, nil
}

func (s *Slice) Close() error { return nil }

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
