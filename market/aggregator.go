package market

import (
	"fmt"
	"sort"
	"time"
)

// AggregatorOptions tunes gap handling.
type AggregatorOptions struct {
	Calendar   Calendar // nil means AlwaysOpen
	MaxBars    int      // bars retained per timeframe, 0 keeps everything
	MaxPending int      // bars held while paused before a forced resync, 0 waits forever
}

type feedState struct {
	series  *Series
	paused  bool
	pending []Bar
}

// Aggregator owns one Series per configured timeframe. It accepts closed bars,
// rejects duplicates and out-of-order bars, and pauses a timeframe when a bar
// is missing until the hole is backfilled or the timeframe is resynced.
type Aggregator struct {
	opts  AggregatorOptions
	feeds map[Timeframe]*feedState
	order []Timeframe
}

func NewAggregator(tfs []Timeframe, opts AggregatorOptions) *Aggregator {
	if opts.Calendar == nil {
		opts.Calendar = AlwaysOpen{}
	}
	a := &Aggregator{
		opts:  opts,
		feeds: make(map[Timeframe]*feedState, len(tfs)),
	}
	for _, tf := range tfs {
		if _, ok := a.feeds[tf]; ok {
			continue
		}
		a.feeds[tf] = &feedState{series: newSeries(tf, opts.MaxBars)}
		a.order = append(a.order, tf)
	}
	// Highest timeframe first.
	sort.Slice(a.order, func(i, j int) bool { return a.order[i] > a.order[j] })
	return a
}

// Timeframes returns the configured timeframes, highest first.
func (a *Aggregator) Timeframes() []Timeframe {
	return append([]Timeframe(nil), a.order...)
}

// Series exposes the read-only history of tf.
func (a *Aggregator) Series(tf Timeframe) (*Series, bool) {
	f, ok := a.feeds[tf]
	if !ok {
		return nil, false
	}
	return f.series, true
}

// Paused reports whether tf is waiting for missing bars.
func (a *Aggregator) Paused(tf Timeframe) bool {
	f, ok := a.feeds[tf]
	return ok && f.paused
}

// Append adds a closed bar. It returns the bars released downstream, in
// order: usually just b, several when b fills a gap and unblocks held bars,
// and none when b is held or dropped. A non-nil *DataFault describes anything
// that was not a plain in-sequence append.
func (a *Aggregator) Append(b Bar) ([]Bar, error) {
	f, ok := a.feeds[b.Timeframe]
	if !ok {
		return nil, &DataFault{Kind: FaultUnknownTF, Timeframe: b.Timeframe, Got: b.Time,
			Msg: "timeframe not configured"}
	}
	if err := b.Validate(); err != nil {
		return nil, &DataFault{Kind: FaultInvalid, Timeframe: b.Timeframe, Got: b.Time, Msg: err.Error()}
	}

	s := f.series
	if last, ok := s.Last(); ok {
		if b.Time.Equal(last.Time) {
			return nil, &DataFault{Kind: FaultDuplicate, Timeframe: b.Timeframe, Expected: s.next(), Got: b.Time}
		}
		if b.Time.Before(last.Time) {
			return nil, &DataFault{Kind: FaultOutOfOrder, Timeframe: b.Timeframe, Expected: s.next(), Got: b.Time}
		}
	}

	if f.paused {
		return a.appendPaused(f, b)
	}

	if s.Len() > 0 && !a.contiguous(s, b.Time) {
		f.paused = true
		f.pending = []Bar{b}
		return nil, a.gapFault(s, b)
	}

	s.append(b)
	return []Bar{b}, nil
}

// Resync gives up waiting for a backfill: held bars are appended as the start
// of a new contiguous segment. Callers must reset anything that assumed
// continuity (swing detection) before consuming the released bars.
func (a *Aggregator) Resync(tf Timeframe) []Bar {
	f, ok := a.feeds[tf]
	if !ok || !f.paused {
		return nil
	}
	released := f.pending
	for _, b := range released {
		f.series.append(b)
	}
	f.pending = nil
	f.paused = false
	return released
}

func (a *Aggregator) appendPaused(f *feedState, b Bar) ([]Bar, error) {
	s := f.series

	if !a.contiguous(s, b.Time) {
		// Not the missing bar: hold it, keeping pending sorted and unique.
		i := sort.Search(len(f.pending), func(i int) bool { return !f.pending[i].Time.Before(b.Time) })
		if i < len(f.pending) && f.pending[i].Time.Equal(b.Time) {
			return nil, &DataFault{Kind: FaultDuplicate, Timeframe: b.Timeframe, Expected: s.next(), Got: b.Time}
		}
		f.pending = append(f.pending, Bar{})
		copy(f.pending[i+1:], f.pending[i:])
		f.pending[i] = b

		if a.opts.MaxPending > 0 && len(f.pending) > a.opts.MaxPending {
			released := a.Resync(b.Timeframe)
			return released, &DataFault{Kind: FaultResynced, Timeframe: b.Timeframe, Got: b.Time,
				Msg: fmt.Sprintf("%d bars held without backfill", len(released))}
		}
		return nil, a.gapFault(s, f.pending[0])
	}

	// Backfill: append and release whatever became contiguous.
	s.append(b)
	released := []Bar{b}
	for len(f.pending) > 0 && a.contiguous(s, f.pending[0].Time) {
		s.append(f.pending[0])
		released = append(released, f.pending[0])
		f.pending = f.pending[1:]
	}
	if len(f.pending) == 0 {
		f.paused = false
		f.pending = nil
		return released, nil
	}
	return released, a.gapFault(s, f.pending[0])
}

// contiguous reports whether a bar opening at t directly follows the series,
// allowing for scheduled exchange closures.
func (a *Aggregator) contiguous(s *Series, t time.Time) bool {
	next := s.next()
	if t.Equal(next) {
		return true
	}
	return t.After(next) && expectedGap(a.opts.Calendar, s.tf, next, t)
}

func (a *Aggregator) gapFault(s *Series, b Bar) *DataFault {
	next := s.next()
	missing := int(b.Time.Sub(next) / s.tf.Duration())
	return &DataFault{Kind: FaultGap, Timeframe: s.tf, Expected: next, Got: b.Time, Missing: missing}
}
