// Package monitor watches the open position bar by bar and decides when it
// should be closed. It never talks to the broker.
package monitor

import (
	"fmt"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/execution"
	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/structure"
)

type Config struct {
	// ExitOnOppositeStructure closes on a BOS or CHoCH against the position
	// on the timeframe that produced the signal.
	ExitOnOppositeStructure bool `json:"exit_on_opposite_structure" yaml:"exit_on_opposite_structure"`
	// ExitOnInvalidation closes when a bar closes beyond the signal's
	// invalidation level.
	ExitOnInvalidation bool `json:"exit_on_invalidation" yaml:"exit_on_invalidation"`
}

func DefaultConfig() Config {
	return Config{ExitOnOppositeStructure: true, ExitOnInvalidation: true}
}

type Monitor struct {
	cfg Config
}

func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg}
}

// Evaluate checks one closed bar against the position. The first condition
// that holds wins: stop, target, invalidation, opposite structure, time.
// A nil result means hold.
func (m *Monitor) Evaluate(pos execution.Position, bar market.Bar, events []structure.Event) *execution.ExitIntent {
	at := bar.CloseTime()
	long := pos.Direction == market.Bullish

	switch {
	case pos.StopPrice > 0 && ((long && bar.Low <= pos.StopPrice) || (!long && bar.High >= pos.StopPrice)):
		return &execution.ExitIntent{Reason: "stop crossed", Type: broker.Market, At: at}
	case pos.TargetPrice > 0 && ((long && bar.High >= pos.TargetPrice) || (!long && bar.Low <= pos.TargetPrice)):
		return &execution.ExitIntent{Reason: "target reached", Type: broker.Limit, Price: pos.TargetPrice, At: at}
	}

	if m.cfg.ExitOnInvalidation && pos.Invalidation > 0 && bar.Timeframe == pos.SignalTimeframe {
		if (long && bar.Close < pos.Invalidation) || (!long && bar.Close > pos.Invalidation) {
			return &execution.ExitIntent{
				Reason: fmt.Sprintf("closed beyond invalidation %.2f", pos.Invalidation),
				Type:   broker.Market,
				At:     at,
			}
		}
	}

	if m.cfg.ExitOnOppositeStructure {
		for _, ev := range events {
			if ev.Timeframe != pos.SignalTimeframe || ev.Direction != pos.Direction.Opposite() {
				continue
			}
			if ev.Time.Before(pos.OpenedAt) {
				continue
			}
			return &execution.ExitIntent{
				Reason: fmt.Sprintf("opposite %s on %s", ev.Kind, ev.Timeframe),
				Type:   broker.Market,
				At:     at,
			}
		}
	}

	if !pos.TimeLimit.IsZero() && !at.Before(pos.TimeLimit) {
		return &execution.ExitIntent{Reason: "time stop", Type: broker.Market, At: at}
	}
	return nil
}
