package market

import "time"

// Series is the append-only, time-ordered bar history of one timeframe.
// Indices are absolute: the i-th bar ever appended keeps index i even after
// old bars are trimmed from memory.
type Series struct {
	tf      Timeframe
	bars    []Bar
	offset  int // absolute index of bars[0]
	maxBars int
}

func newSeries(tf Timeframe, maxBars int) *Series {
	return &Series{tf: tf, maxBars: maxBars}
}

func (s *Series) Timeframe() Timeframe { return s.tf }

// Len is the absolute number of bars ever appended.
func (s *Series) Len() int { return s.offset + len(s.bars) }

// First is the absolute index of the oldest bar still retained.
func (s *Series) First() int { return s.offset }

// At returns the bar at absolute index i.
func (s *Series) At(i int) (Bar, bool) {
	j := i - s.offset
	if j < 0 || j >= len(s.bars) {
		return Bar{}, false
	}
	return s.bars[j], true
}

// Last returns the most recent bar.
func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

func (s *Series) next() time.Time {
	last, ok := s.Last()
	if !ok {
		return time.Time{}
	}
	return last.Time.Add(s.tf.Duration())
}

func (s *Series) append(b Bar) {
	s.bars = append(s.bars, b)
	if s.maxBars > 0 && len(s.bars) > 2*s.maxBars {
		drop := len(s.bars) - s.maxBars
		s.bars = append([]Bar(nil), s.bars[drop:]...)
		s.offset += drop
	}
}
