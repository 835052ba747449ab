// Package signal fuses structure events and active zones into trade signals.
package signal

import (
	"sort"
	"time"

	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/structure"
	"github.com/rustyeddy/smc/zones"
)

// Tag is one piece of evidence behind a signal.
type Tag string

const (
	TagBOS            Tag = "bos"
	TagCHoCH          Tag = "choch"
	TagOrderBlock     Tag = "order_block"
	TagFVG            Tag = "fvg"
	TagLiquiditySweep Tag = "liquidity_sweep"
	TagHTFBias        Tag = "htf_bias"
)

// TradeSignal is a candidate trade. It stays valid only while EntryZone is
// active and the bias it was generated under holds.
type TradeSignal struct {
	ID            string
	Direction     market.Direction
	Timeframe     market.Timeframe
	EntryZone     zones.Zone // order block
	Gap           zones.Zone // fair value gap
	Invalidation  float64
	Price         float64 // entry timeframe close when generated
	Event         structure.Event
	Session       string
	Confirmations []Tag
	Confidence    float64
	GeneratedAt   time.Time
}

func (s TradeSignal) Has(t Tag) bool {
	for _, c := range s.Confirmations {
		if c == t {
			return true
		}
	}
	return false
}

// Tags returns the confirmations as strings, sorted.
func (s TradeSignal) Tags() []string {
	out := make([]string, len(s.Confirmations))
	for i, c := range s.Confirmations {
		out[i] = string(c)
	}
	sort.Strings(out)
	return out
}

type Config struct {
	EntryTimeframe       market.Timeframe
	BiasTimeframe        market.Timeframe
	RequireBiasAlignment bool
	MaxEventAgeBars      int // entry timeframe bars a structure event stays usable
	SweepLookbackBars    int
	MaxSignalsPerSession int
	Sessions             []Session
}
