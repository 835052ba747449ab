package structure

import (
	"time"

	"github.com/rustyeddy/smc/market"
)

// warmupSwings is how many confirmed swings must exist before a break may
// produce an event. Breaks of those first swings only seed the bias.
const warmupSwings = 2

type eventKey struct {
	level float64
	time  time.Time
}

// Analyzer consumes one timeframe's series. It is not safe for concurrent use;
// the pipeline drives it from a single goroutine.
type Analyzer struct {
	tf  market.Timeframe
	cfg Config

	swings    []SwingPoint
	lastHigh  *SwingPoint // most recent swing high, kept apart from the trimmed history
	lastLow   *SwingPoint
	confirmed int
	bias      market.Direction

	lastIndex int
	nextSwing int64
	nextEvent int64
	emitted   map[eventKey]struct{}
	lastEvent *Event
}

func NewAnalyzer(tf market.Timeframe, cfg Config) *Analyzer {
	if cfg.SwingStrength < 1 {
		cfg.SwingStrength = 1
	}
	if cfg.History < 4 {
		cfg.History = 4
	}
	a := &Analyzer{tf: tf, cfg: cfg}
	a.Reset()
	return a
}

// Reset forgets all history. Used after a data resync breaks continuity.
func (a *Analyzer) Reset() {
	a.swings = nil
	a.lastHigh, a.lastLow = nil, nil
	a.confirmed = 0
	a.bias = market.Neutral
	a.lastIndex = -1
	a.emitted = make(map[eventKey]struct{})
	a.lastEvent = nil
}

// ResetFrom forgets all history and resumes at absolute index i, so bars
// before a resync are never reconsidered.
func (a *Analyzer) ResetFrom(i int) {
	a.Reset()
	a.lastIndex = i - 1
}

func (a *Analyzer) Timeframe() market.Timeframe { return a.tf }

func (a *Analyzer) Bias() market.Direction { return a.bias }

func (a *Analyzer) State() State {
	if a.confirmed < warmupSwings {
		return WarmingUp
	}
	return Ready
}

// LastEvent returns the most recent structure event.
func (a *Analyzer) LastEvent() (Event, bool) {
	if a.lastEvent == nil {
		return Event{}, false
	}
	return *a.lastEvent, true
}

// Swings returns a copy of the retained swing history, oldest first.
func (a *Analyzer) Swings() []SwingPoint {
	return append([]SwingPoint(nil), a.swings...)
}

// OnBar evaluates every bar of s not seen yet. Calling it again without new
// bars returns an empty Update.
func (a *Analyzer) OnBar(s *market.Series) Update {
	var u Update
	start := a.lastIndex + 1
	if start < s.First() {
		start = s.First()
	}
	for i := start; i < s.Len(); i++ {
		a.evaluate(s, i, &u)
		a.lastIndex = i
	}
	return u
}

func (a *Analyzer) evaluate(s *market.Series, i int, u *Update) {
	bar, ok := s.At(i)
	if !ok {
		return
	}

	a.confirmSwings(s, i, u)

	if sw := a.lastHigh; sw != nil && !sw.Broken && bar.Close > sw.Price {
		a.breakSwing(sw, market.Bullish, bar, i, u)
	}
	if sw := a.lastLow; sw != nil && !sw.Broken && bar.Close < sw.Price {
		a.breakSwing(sw, market.Bearish, bar, i, u)
	}
}

// confirmSwings checks whether the bar SwingStrength bars back is now a
// confirmed extreme. Ties go to the earlier bar: the candidate must be
// strictly beyond the bars before it and at least equal to the bars after.
func (a *Analyzer) confirmSwings(s *market.Series, i int, u *Update) {
	n := a.cfg.SwingStrength
	c := i - n
	if c-n < s.First() {
		return
	}
	cand, _ := s.At(c)

	isHigh, isLow := true, true
	for j := c - n; j <= c+n && (isHigh || isLow); j++ {
		if j == c {
			continue
		}
		b, _ := s.At(j)
		if j < c {
			isHigh = isHigh && cand.High > b.High
			isLow = isLow && cand.Low < b.Low
		} else {
			isHigh = isHigh && cand.High >= b.High
			isLow = isLow && cand.Low <= b.Low
		}
	}

	if isHigh {
		a.lastHigh = a.addSwing(SwingHigh, cand, c, u)
	}
	if isLow {
		a.lastLow = a.addSwing(SwingLow, cand, c, u)
	}
}

func (a *Analyzer) addSwing(kind SwingKind, b market.Bar, idx int, u *Update) *SwingPoint {
	a.nextSwing++
	price := b.High
	if kind == SwingLow {
		price = b.Low
	}
	sp := SwingPoint{
		ID:        a.nextSwing,
		Timeframe: a.tf,
		Time:      b.Time,
		Price:     price,
		Kind:      kind,
		Index:     idx,
		warmup:    a.confirmed < warmupSwings,
	}
	a.confirmed++
	a.swings = append(a.swings, sp)
	u.Swings = append(u.Swings, sp)

	if over := len(a.swings) - a.cfg.History; over > 0 {
		a.swings = append([]SwingPoint(nil), a.swings[over:]...)
	}
	return &sp
}

func (a *Analyzer) breakSwing(sw *SwingPoint, dir market.Direction, bar market.Bar, i int, u *Update) {
	sw.Broken = true
	for j := len(a.swings) - 1; j >= 0; j-- {
		if a.swings[j].ID == sw.ID {
			a.swings[j].Broken = true
			break
		}
	}
	prior := a.bias
	a.bias = dir

	if sw.warmup {
		return
	}

	ev := Event{
		Timeframe:   a.tf,
		Time:        bar.CloseTime(),
		Kind:        BOS,
		Direction:   dir,
		BrokenLevel: sw.Price,
		SwingID:     sw.ID,
		SwingIndex:  sw.Index,
		Index:       i,
		Close:       bar.Close,
	}
	if prior == dir.Opposite() {
		ev.Kind = CHoCH
	}
	ev.Invalidation = a.protectedLevel(dir, sw.Price)

	key := eventKey{level: ev.BrokenLevel, time: ev.Time}
	if _, dup := a.emitted[key]; dup {
		return
	}
	a.emitted[key] = struct{}{}

	a.nextEvent++
	ev.ID = a.nextEvent
	a.lastEvent = &ev
	u.Events = append(u.Events, ev)
}

// protectedLevel is the swing on the far side of a break: the most recent
// swing low for a bullish break, swing high for a bearish one. Without one the
// broken level itself is used.
func (a *Analyzer) protectedLevel(dir market.Direction, broken float64) float64 {
	if dir == market.Bullish && a.lastLow != nil {
		return a.lastLow.Price
	}
	if dir == market.Bearish && a.lastHigh != nil {
		return a.lastHigh.Price
	}
	return broken
}
