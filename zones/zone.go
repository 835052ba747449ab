// Package zones maps order blocks, fair value gaps and liquidity pools and
// tracks each one through active, mitigated and expired.
package zones

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/smc/market"
)

type Kind string

const (
	OrderBlock    Kind = "order_block"
	FVG           Kind = "fvg"
	LiquidityPool Kind = "liquidity_pool"
)

type State string

const (
	Active    State = "active"
	Mitigated State = "mitigated"
	Expired   State = "expired"
	Discarded State = "discarded" // failed a bookkeeping invariant
)

type ID int64

// Zone is a price band of interest. For order blocks and FVGs, Direction is
// the side the zone supports (bullish zones sit below price as demand). For
// liquidity pools, Direction is the way price must travel to sweep the pool:
// bullish for equal highs, bearish for equal lows.
type Zone struct {
	ID          ID
	Kind        Kind
	Direction   market.Direction
	Timeframe   market.Timeframe
	Low         float64
	High        float64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	State       State
	StateAt     time.Time
	Origin      int   // absolute index of the bar the zone was cut from
	SourceEvent int64 // structure event that produced an order block
	Touches     int   // equal highs/lows making up a liquidity pool
}

func (z Zone) Contains(p float64) bool {
	return p >= z.Low && p <= z.High
}

func (z Zone) Mid() float64 {
	return (z.Low + z.High) / 2
}

// Proximal is the edge price meets first when returning to the zone.
func (z Zone) Proximal() float64 {
	if z.Direction == market.Bearish {
		return z.Low
	}
	return z.High
}

// Distal is the far edge; closing beyond it mitigates the zone.
func (z Zone) Distal() float64 {
	if z.Direction == market.Bearish {
		return z.High
	}
	return z.Low
}

func (z Zone) String() string {
	return fmt.Sprintf("%s#%d %s %s [%.2f, %.2f] %s", z.Kind, z.ID, z.Timeframe, z.Direction, z.Low, z.High, z.State)
}

func (z Zone) validate() error {
	for _, v := range []float64{z.Low, z.High} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite bound")
		}
	}
	if z.Low > z.High {
		return fmt.Errorf("low %.2f above high %.2f", z.Low, z.High)
	}
	if z.Direction == market.Neutral {
		return fmt.Errorf("zone has no direction")
	}
	if !z.ExpiresAt.After(z.CreatedAt) {
		return fmt.Errorf("expires_at not after created_at")
	}
	return nil
}

// Transition records a zone changing state. From is empty on creation.
type Transition struct {
	Zone   Zone
	From   State
	To     State
	At     time.Time
	Reason string
}

// SignalFault reports a zone bookkeeping invariant violation. The zone is
// discarded and processing continues.
type SignalFault struct {
	ZoneID ID
	Kind   Kind
	Reason string
}

func (f *SignalFault) Error() string {
	return fmt.Sprintf("signal fault: %s zone %d discarded: %s", f.Kind, f.ZoneID, f.Reason)
}

// Sweep records a liquidity pool being traded through.
type Sweep struct {
	ZoneID    ID
	Timeframe market.Timeframe
	Direction market.Direction // pool direction, see Zone
	Low       float64
	High      float64
	At        time.Time
}

type Config struct {
	OrderBlockExpiry   int     `json:"order_block_expiry" yaml:"order_block_expiry"` // bars
	FVGExpiry          int     `json:"fvg_expiry" yaml:"fvg_expiry"`
	PoolExpiry         int     `json:"pool_expiry" yaml:"pool_expiry"`
	FVGMinGap          float64 `json:"fvg_min_gap" yaml:"fvg_min_gap"`         // points
	FVGSensitivity     float64 `json:"fvg_sensitivity" yaml:"fvg_sensitivity"` // gap / avg range of the 3 bars, 0 disables
	LiquidityTolerance float64 `json:"liquidity_tolerance" yaml:"liquidity_tolerance"`
	LiquidityTouches   int     `json:"liquidity_touches" yaml:"liquidity_touches"`
	OrderBlockLookback int     `json:"order_block_lookback" yaml:"order_block_lookback"`
	KeepInactive       int     `json:"keep_inactive" yaml:"keep_inactive"` // audit retention, 0 keeps all
}

func DefaultConfig() Config {
	return Config{
		OrderBlockExpiry:   96,
		FVGExpiry:          48,
		PoolExpiry:         192,
		FVGMinGap:          1.0,
		LiquidityTolerance: 2.0,
		LiquidityTouches:   2,
		OrderBlockLookback: 10,
		KeepInactive:       5000,
	}
}

func (c Config) expiry(k Kind) int {
	switch k {
	case OrderBlock:
		return c.OrderBlockExpiry
	case FVG:
		return c.FVGExpiry
	default:
		return c.PoolExpiry
	}
}
