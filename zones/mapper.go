package zones

import (
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/structure"
)

// Result is what one call to OnBar produced.
type Result struct {
	Transitions []Transition
	Sweeps      []Sweep
	Faults      []*SignalFault
}

type level struct {
	price float64
	kind  structure.SwingKind
}

type tfState struct {
	lastIndex int
	levels    []level // unswept swing levels, candidates for pools
}

// Mapper owns every zone. Zones live in one arena keyed by monotonic ids;
// readers get copies under a read lock while the pipeline goroutine mutates.
type Mapper struct {
	mu  sync.RWMutex
	cfg Config

	zones  []Zone // arena, zones[i].ID == base+i
	base   ID
	nextID ID
	sweeps []Sweep
	tfs    map[market.Timeframe]*tfState
	obSeen map[obKey]struct{}
}

type obKey struct {
	tf    market.Timeframe
	event int64
}

const (
	maxLevels = 64
	maxSweeps = 256
)

func NewMapper(cfg Config) *Mapper {
	if cfg.LiquidityTouches < 2 {
		cfg.LiquidityTouches = 2
	}
	if cfg.OrderBlockLookback < 1 {
		cfg.OrderBlockLookback = 1
	}
	for _, e := range []*int{&cfg.OrderBlockExpiry, &cfg.FVGExpiry, &cfg.PoolExpiry} {
		if *e < 1 {
			*e = 1
		}
	}
	return &Mapper{
		cfg:    cfg,
		base:   1,
		nextID: 1,
		tfs:    make(map[market.Timeframe]*tfState),
		obSeen: make(map[obKey]struct{}),
	}
}

// ResetFrom drops the swing candidates of tf and resumes at absolute index i.
// Existing zones keep their state; a resync does not move price levels.
func (m *Mapper) ResetFrom(tf market.Timeframe, i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tfs[tf] = &tfState{lastIndex: i - 1}
}

// OnBar must be called after every bar close of s, with the structure update
// the analyzer produced for the same bars. Existing zones are updated with
// each new bar before any zone is created from it, so a zone is never judged
// against the bar that created it.
func (m *Mapper) OnBar(s *market.Series, u structure.Update) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	tf := s.Timeframe()
	st := m.tfs[tf]
	if st == nil {
		st = &tfState{lastIndex: -1}
		m.tfs[tf] = st
	}

	start := st.lastIndex + 1
	if start < s.First() {
		start = s.First()
	}
	var last market.Bar
	for i := start; i < s.Len(); i++ {
		bar, ok := s.At(i)
		if !ok {
			continue
		}
		m.update(bar, &res)
		m.pruneLevels(st, bar)
		m.detectFVG(s, i, &res)
		for _, ev := range u.Events {
			if ev.Index == i {
				m.detectOrderBlock(s, ev, &res)
			}
		}
		st.lastIndex = i
		last = bar
	}
	if !last.Time.IsZero() {
		for _, sw := range u.Swings {
			m.addLevel(st, tf, sw, last, &res)
		}
	}
	m.compact()
	if len(m.sweeps) > 2*maxSweeps {
		m.sweeps = append([]Sweep(nil), m.sweeps[len(m.sweeps)-maxSweeps:]...)
	}
	return res
}

// update applies one closed bar to every active zone that existed before the
// bar opened. Mitigation is checked before expiry.
func (m *Mapper) update(bar market.Bar, res *Result) {
	at := bar.CloseTime()
	for i := range m.zones {
		z := &m.zones[i]
		if z.State != Active || bar.Time.Before(z.CreatedAt) {
			continue
		}
		if err := z.validate(); err != nil {
			m.discard(z, at, err.Error(), res)
			continue
		}

		switch {
		case z.Kind == LiquidityPool && swept(*z, bar):
			sw := Sweep{ZoneID: z.ID, Timeframe: bar.Timeframe, Direction: z.Direction,
				Low: z.Low, High: z.High, At: at}
			m.sweeps = append(m.sweeps, sw)
			res.Sweeps = append(res.Sweeps, sw)
			m.transition(z, Mitigated, at, "swept", res)
		case z.Kind != LiquidityPool && closedThrough(*z, bar):
			m.transition(z, Mitigated, at, "closed through", res)
		case !at.Before(z.ExpiresAt):
			m.transition(z, Expired, at, "expired", res)
		}
	}
}

func closedThrough(z Zone, bar market.Bar) bool {
	if z.Direction == market.Bullish {
		return bar.Close < z.Low
	}
	return bar.Close > z.High
}

func swept(z Zone, bar market.Bar) bool {
	if z.Direction == market.Bullish {
		return bar.High > z.High
	}
	return bar.Low < z.Low
}

// detectFVG looks at the three bars ending at i.
func (m *Mapper) detectFVG(s *market.Series, i int, res *Result) {
	if i-2 < s.First() {
		return
	}
	b1, _ := s.At(i - 2)
	b2, _ := s.At(i - 1)
	b3, _ := s.At(i)

	var low, high float64
	var dir market.Direction
	switch {
	case b3.Low > b1.High:
		low, high, dir = b1.High, b3.Low, market.Bullish
	case b3.High < b1.Low:
		low, high, dir = b3.High, b1.Low, market.Bearish
	default:
		return
	}

	gap := high - low
	if gap < m.cfg.FVGMinGap {
		return
	}
	if m.cfg.FVGSensitivity > 0 {
		avg := (b1.Range() + b2.Range() + b3.Range()) / 3
		if gap <= avg*m.cfg.FVGSensitivity {
			return
		}
	}
	m.create(Zone{
		Kind:      FVG,
		Direction: dir,
		Timeframe: s.Timeframe(),
		Low:       low,
		High:      high,
		Origin:    i - 1,
	}, b3.CloseTime(), res)
}

// detectOrderBlock finds the last opposing candle before the move that broke
// structure, scanning back from the breaking bar.
func (m *Mapper) detectOrderBlock(s *market.Series, ev structure.Event, res *Result) {
	key := obKey{tf: ev.Timeframe, event: ev.ID}
	if _, ok := m.obSeen[key]; ok {
		return
	}
	m.obSeen[key] = struct{}{}

	stop := ev.Index - m.cfg.OrderBlockLookback
	if stop < s.First() {
		stop = s.First()
	}
	for j := ev.Index; j >= stop; j-- {
		b, ok := s.At(j)
		if !ok || b.Direction() != ev.Direction.Opposite() {
			continue
		}
		m.create(Zone{
			Kind:        OrderBlock,
			Direction:   ev.Direction,
			Timeframe:   s.Timeframe(),
			Low:         b.Low,
			High:        b.High,
			Origin:      j,
			SourceEvent: ev.ID,
		}, ev.Time, res)
		return
	}
}

func (m *Mapper) pruneLevels(st *tfState, bar market.Bar) {
	kept := st.levels[:0]
	for _, l := range st.levels {
		if l.kind == structure.SwingHigh && bar.High > l.price {
			continue
		}
		if l.kind == structure.SwingLow && bar.Low < l.price {
			continue
		}
		kept = append(kept, l)
	}
	st.levels = kept
}

// addLevel records a confirmed swing and forms or extends a liquidity pool
// when enough unswept swings of the same kind sit within tolerance.
func (m *Mapper) addLevel(st *tfState, tf market.Timeframe, sw structure.SwingPoint, last market.Bar, res *Result) {
	tol := m.cfg.LiquidityTolerance
	lo, hi, n := sw.Price, sw.Price, 1
	for _, l := range st.levels {
		if l.kind == sw.Kind && math.Abs(l.price-sw.Price) <= tol {
			lo, hi = math.Min(lo, l.price), math.Max(hi, l.price)
			n++
		}
	}
	st.levels = append(st.levels, level{price: sw.Price, kind: sw.Kind})
	if len(st.levels) > maxLevels {
		st.levels = append([]level(nil), st.levels[len(st.levels)-maxLevels:]...)
	}
	if n < m.cfg.LiquidityTouches {
		return
	}

	dir := market.Bullish
	if sw.Kind == structure.SwingLow {
		dir = market.Bearish
	}
	for i := range m.zones {
		z := &m.zones[i]
		if z.State != Active || z.Kind != LiquidityPool || z.Timeframe != tf || z.Direction != dir {
			continue
		}
		if sw.Price >= z.Low-tol && sw.Price <= z.High+tol {
			z.Low, z.High = math.Min(z.Low, sw.Price), math.Max(z.High, sw.Price)
			z.Touches++
			return
		}
	}
	m.create(Zone{
		Kind:      LiquidityPool,
		Direction: dir,
		Timeframe: tf,
		Low:       lo,
		High:      hi,
		Origin:    sw.Index,
		Touches:   n,
	}, last.CloseTime(), res)
}

func (m *Mapper) create(z Zone, at time.Time, res *Result) {
	z.ID = m.nextID
	m.nextID++
	z.CreatedAt = at
	z.ExpiresAt = at.Add(time.Duration(m.cfg.expiry(z.Kind)) * z.Timeframe.Duration())
	z.State = Active
	z.StateAt = at
	m.zones = append(m.zones, z)

	p := &m.zones[len(m.zones)-1]
	if err := p.validate(); err != nil {
		m.discard(p, at, err.Error(), res)
		return
	}
	res.Transitions = append(res.Transitions, Transition{Zone: *p, To: Active, At: at, Reason: "created"})
}

func (m *Mapper) transition(z *Zone, to State, at time.Time, reason string, res *Result) {
	from := z.State
	z.State = to
	z.StateAt = at
	res.Transitions = append(res.Transitions, Transition{Zone: *z, From: from, To: to, At: at, Reason: reason})
}

func (m *Mapper) discard(z *Zone, at time.Time, reason string, res *Result) {
	res.Faults = append(res.Faults, &SignalFault{ZoneID: z.ID, Kind: z.Kind, Reason: reason})
	m.transition(z, Discarded, at, reason, res)
}

// compact drops the oldest inactive zones once more than KeepInactive are
// retained. It stops at the first active zone so ids stay addressable.
func (m *Mapper) compact() {
	if m.cfg.KeepInactive <= 0 {
		return
	}
	inactive := 0
	for _, z := range m.zones {
		if z.State != Active {
			inactive++
		}
	}
	drop := 0
	for drop < len(m.zones) && inactive > m.cfg.KeepInactive && m.zones[drop].State != Active {
		drop++
		inactive--
	}
	if drop > 0 {
		m.zones = append([]Zone(nil), m.zones[drop:]...)
		m.base += ID(drop)
	}
}

// Get returns a copy of zone id.
func (m *Mapper) Get(id ID) (Zone, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := int(id - m.base)
	if i < 0 || i >= len(m.zones) {
		return Zone{}, false
	}
	return m.zones[i], true
}

// Active returns a snapshot of the active zones, oldest first.
func (m *Mapper) Active() []Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Zone
	for _, z := range m.zones {
		if z.State == Active {
			out = append(out, z)
		}
	}
	return out
}

// All returns every retained zone regardless of state.
func (m *Mapper) All() []Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Zone(nil), m.zones...)
}

// SweepsSince returns the liquidity sweeps recorded at or after t.
func (m *Mapper) SweepsSince(t time.Time) []Sweep {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Sweep
	for _, s := range m.sweeps {
		if !s.At.Before(t) {
			out = append(out, s)
		}
	}
	return out
}
