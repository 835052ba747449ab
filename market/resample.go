package market

import (
	"fmt"
	"sort"
	"time"
)

// Resampler builds higher timeframe bars from a stream of base bars. A
// higher timeframe bar is emitted on the base bar that completes its bucket,
// or early when a base bar lands in a later bucket (session breaks).
type Resampler struct {
	base    Timeframe
	targets []Timeframe
	open    map[Timeframe]*Bar
	skip    map[Timeframe]bool // flushed, waiting for a bucket to open cleanly
}

func NewResampler(base Timeframe, targets []Timeframe) (*Resampler, error) {
	r := &Resampler{base: base, open: make(map[Timeframe]*Bar), skip: make(map[Timeframe]bool)}
	for _, tf := range targets {
		if tf == base {
			continue
		}
		if tf < base || tf%base != 0 {
			return nil, fmt.Errorf("resample: %s is not a multiple of base %s", tf, base)
		}
		r.targets = append(r.targets, tf)
	}
	sort.Slice(r.targets, func(i, j int) bool { return r.targets[i] > r.targets[j] })
	return r, nil
}

// Push consumes one base bar and returns the higher timeframe bars that
// closed, highest timeframe first. The base bar itself is not included.
func (r *Resampler) Push(b Bar) []Bar {
	if b.Timeframe != r.base {
		return nil
	}
	var out []Bar
	for _, tf := range r.targets {
		bucket := BucketStart(b.Time, tf)
		cur := r.open[tf]
		if cur != nil && !cur.Time.Equal(bucket) {
			out = append(out, *cur)
			cur = nil
		}
		if cur == nil {
			if r.skip[tf] && !b.Time.Equal(bucket) {
				continue
			}
			delete(r.skip, tf)
			cur = &Bar{Timeframe: tf, Time: bucket, Open: b.Open, High: b.High, Low: b.Low}
			r.open[tf] = cur
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume

		if !b.CloseTime().Before(bucket.Add(tf.Duration())) {
			out = append(out, *cur)
			delete(r.open, tf)
		}
	}
	return out
}

// Flush returns the partially built bars and forgets them. Nothing more is
// built for a timeframe until a base bar opens one of its buckets, so a hole
// in the base stream is never bridged.
func (r *Resampler) Flush() []Bar {
	var out []Bar
	for _, tf := range r.targets {
		r.skip[tf] = true
		if cur := r.open[tf]; cur != nil {
			out = append(out, *cur)
			delete(r.open, tf)
		}
	}
	return out
}

// BucketStart returns the open time of the tf bucket containing t.
func BucketStart(t time.Time, tf Timeframe) time.Time {
	return t.Truncate(tf.Duration())
}
