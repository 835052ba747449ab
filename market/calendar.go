package market

import (
	"time"
	_ "time/tzdata"
)

// Calendar knows when the exchange is closed, so that missing bars inside a
// scheduled closure are not reported as gaps.
type Calendar interface {
	Open(t time.Time) bool
}

// AlwaysOpen treats every missing bar as a gap.
type AlwaysOpen struct{}

func (AlwaysOpen) Open(time.Time) bool { return true }

// CMEGlobex models the CME equity futures week: Sunday 17:00 to Friday 16:00
// Chicago time with a one hour maintenance break at 16:00 every day.
type CMEGlobex struct {
	loc *time.Location
}

func NewCMEGlobex() CMEGlobex {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		loc = time.FixedZone("CST", -6*60*60)
	}
	return CMEGlobex{loc: loc}
}

func (c CMEGlobex) Open(t time.Time) bool {
	lt := t.In(c.loc)
	mins := lt.Hour()*60 + lt.Minute()
	const breakStart, breakEnd = 16 * 60, 17 * 60

	switch lt.Weekday() {
	case time.Saturday:
		return false
	case time.Friday:
		if mins >= breakStart {
			return false
		}
	case time.Sunday:
		if mins < breakEnd {
			return false
		}
	}
	return mins < breakStart || mins >= breakEnd
}

// expectedGap reports whether every bar open time in [from, to) falls inside
// a closure of cal.
func expectedGap(cal Calendar, tf Timeframe, from, to time.Time) bool {
	step := tf.Duration()
	for t := from; t.Before(to); t = t.Add(step) {
		if cal.Open(t) {
			return false
		}
	}
	return true
}
