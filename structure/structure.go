// Package structure tracks swing points on one timeframe and reports market
// structure breaks: Break of Structure (continuation) and Change of Character
// (bias flip). Breaks are judged on bar closes only.
package structure

import (
	"time"

	"github.com/rustyeddy/smc/market"
)

type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

type Kind string

const (
	BOS   Kind = "BOS"
	CHoCH Kind = "CHoCH"
)

type State string

const (
	WarmingUp State = "warming_up"
	Ready     State = "ready"
)

// SwingPoint is a confirmed local extreme.
type SwingPoint struct {
	ID        int64
	Timeframe market.Timeframe
	Time      time.Time // open time of the extreme bar
	Price     float64
	Kind      SwingKind
	Index     int // absolute bar index in the series
	Broken    bool
	warmup    bool
}

// Event is one structural break.
type Event struct {
	ID           int64
	Timeframe    market.Timeframe
	Time         time.Time // close time of the breaking bar
	Kind         Kind
	Direction    market.Direction
	BrokenLevel  float64
	SwingID      int64
	SwingIndex   int
	Index        int     // absolute index of the breaking bar
	Close        float64 // close of the breaking bar
	Invalidation float64 // protected swing on the other side
}

// Update is what one call to OnBar produced.
type Update struct {
	Swings []SwingPoint
	Events []Event
}

func (u Update) Empty() bool {
	return len(u.Swings) == 0 && len(u.Events) == 0
}

type Config struct {
	// SwingStrength is the number of bars required on each side of an
	// extreme before it is confirmed as a swing.
	SwingStrength int `json:"swing_strength" yaml:"swing_strength"`
	// History is how many confirmed swings are retained.
	History int `json:"history" yaml:"history"`
}

func DefaultConfig() Config {
	return Config{SwingStrength: 3, History: 50}
}
