package signal

import (
	"time"

	"github.com/rustyeddy/smc/id"
	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/structure"
	"github.com/rustyeddy/smc/zones"
)

// Input is everything fusion looks at on one entry timeframe bar close.
type Input struct {
	Time   time.Time        // close time of the entry bar
	Price  float64          // its close
	Event  structure.Event  // latest entry timeframe event, zero ID when none
	Bias   market.Direction // bias timeframe structure bias
	Zones  []zones.Zone     // active zones across all timeframes
	Sweeps []zones.Sweep
}

// ZoneSource resolves a zone id to its current state.
type ZoneSource interface {
	Get(id zones.ID) (zones.Zone, bool)
}

// Engine is not safe for concurrent use.
type Engine struct {
	cfg Config

	lastUsed     int64 // highest event id that produced a signal
	sessionKey   string
	sessionCount int
}

func NewEngine(cfg Config) *Engine {
	if cfg.MaxSignalsPerSession < 1 {
		cfg.MaxSignalsPerSession = 1
	}
	if cfg.MaxEventAgeBars < 1 {
		cfg.MaxEventAgeBars = 1
	}
	if cfg.BiasTimeframe == 0 {
		cfg.BiasTimeframe = cfg.EntryTimeframe
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Session returns the configured session containing t.
func (e *Engine) Session(t time.Time) (Session, bool) {
	for _, s := range e.cfg.Sessions {
		if s.Contains(t) {
			return s, true
		}
	}
	return Session{}, false
}

// Evaluate returns a signal when every confirmation is present. A missing
// condition is not an error, it simply yields no signal. Each structure event
// produces at most one signal.
func (e *Engine) Evaluate(in Input) (TradeSignal, bool) {
	ev := in.Event
	if ev.ID == 0 || ev.ID <= e.lastUsed || ev.Timeframe != e.cfg.EntryTimeframe {
		return TradeSignal{}, false
	}
	maxAge := time.Duration(e.cfg.MaxEventAgeBars) * e.cfg.EntryTimeframe.Duration()
	if in.Time.Before(ev.Time) || in.Time.Sub(ev.Time) > maxAge {
		return TradeSignal{}, false
	}

	sess, ok := e.Session(in.Time)
	if !ok {
		return TradeSignal{}, false
	}
	key := sess.Key(in.Time)
	if key == e.sessionKey && e.sessionCount >= e.cfg.MaxSignalsPerSession {
		return TradeSignal{}, false
	}

	dir := ev.Direction
	htf := e.cfg.BiasTimeframe != e.cfg.EntryTimeframe && in.Bias == dir
	if e.cfg.RequireBiasAlignment && e.cfg.BiasTimeframe != e.cfg.EntryTimeframe && !htf {
		return TradeSignal{}, false
	}

	ob, _, okOB := nearest(in.Zones, zones.OrderBlock, dir, in.Price, ev.Invalidation)
	gap, gaps, okGap := nearest(in.Zones, zones.FVG, dir, in.Price, ev.Invalidation)
	if !okOB || !okGap {
		return TradeSignal{}, false
	}

	sig := TradeSignal{
		ID:           id.At(in.Time),
		Direction:    dir,
		Timeframe:    ev.Timeframe,
		EntryZone:    ob,
		Gap:          gap,
		Invalidation: ev.Invalidation,
		Price:        in.Price,
		Event:        ev,
		Session:      sess.Name,
		GeneratedAt:  in.Time,
	}
	if ev.Kind == structure.CHoCH {
		sig.Confirmations = append(sig.Confirmations, TagCHoCH)
	} else {
		sig.Confirmations = append(sig.Confirmations, TagBOS)
	}
	sig.Confirmations = append(sig.Confirmations, TagOrderBlock, TagFVG)
	swept := e.sweptBefore(in.Sweeps, ev)
	if swept {
		sig.Confirmations = append(sig.Confirmations, TagLiquiditySweep)
	}
	if htf {
		sig.Confirmations = append(sig.Confirmations, TagHTFBias)
	}
	sig.Confidence = confidence(ev.Kind, gaps, swept, htf)

	e.lastUsed = ev.ID
	if key != e.sessionKey {
		e.sessionKey, e.sessionCount = key, 0
	}
	e.sessionCount++
	return sig, true
}

// StillValid reports whether sig may still be acted on: its order block is
// active and the entry timeframe bias has not flipped.
func (e *Engine) StillValid(sig TradeSignal, src ZoneSource, bias market.Direction) bool {
	z, ok := src.Get(sig.EntryZone.ID)
	if !ok || z.State != zones.Active {
		return false
	}
	return bias == sig.Direction
}

// sweptBefore looks for opposing liquidity taken shortly before the event:
// sell-side (equal lows) ahead of a bullish break, buy-side ahead of a
// bearish one.
func (e *Engine) sweptBefore(sweeps []zones.Sweep, ev structure.Event) bool {
	if e.cfg.SweepLookbackBars <= 0 {
		return false
	}
	from := ev.Time.Add(-time.Duration(e.cfg.SweepLookbackBars) * ev.Timeframe.Duration())
	for _, s := range sweeps {
		if s.Direction == ev.Direction.Opposite() && !s.At.Before(from) && !s.At.After(ev.Time) {
			return true
		}
	}
	return false
}

// nearest picks the zone of kind aligned with dir that sits between price and
// the invalidation level and is closest to price. n counts all candidates.
func nearest(zs []zones.Zone, kind zones.Kind, dir market.Direction, price, inv float64) (best zones.Zone, n int, ok bool) {
	for _, z := range zs {
		if z.Kind != kind || z.Direction != dir || z.State != zones.Active {
			continue
		}
		switch dir {
		case market.Bullish:
			if z.Low < inv || z.Low > price {
				continue
			}
			if ok && z.High <= best.High {
				n++
				continue
			}
		case market.Bearish:
			if z.High > inv || z.High < price {
				continue
			}
			if ok && z.Low >= best.Low {
				n++
				continue
			}
		default:
			continue
		}
		best, ok = z, true
		n++
	}
	return best, n, ok
}

func confidence(kind structure.Kind, gaps int, swept, htf bool) float64 {
	c := 0.5
	if kind == structure.BOS {
		c += 0.2
	} else {
		c += 0.1
	}
	g := float64(gaps) * 0.1
	if g > 0.2 {
		g = 0.2
	}
	c += g + 0.1 // order block present
	if swept {
		c += 0.1
	}
	if htf {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}
