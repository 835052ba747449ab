package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/smc/market"
)

// CSV reads bar rows:
//
//	time,open,high,low,close[,volume]
//
// where time is the bar open in RFC3339 or Unix seconds. A header row is
// allowed and empty rows are skipped. Bars outside [from, to) are dropped
// when the bounds are set.
type CSV struct {
	f    *os.File
	r    *csv.Reader
	tf   market.Timeframe
	from time.Time
	to   time.Time

	line     int
	sawFirst bool
}

func NewCSV(path string, tf market.Timeframe, from, to time.Time) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	return &CSV{f: f, r: r, tf: tf, from: from, to: to}, nil
}

func (c *CSV) Close() error {
	if c.f != nil {
		return c.f.Close()
	}
	return nil
}

func (c *CSV) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return market.Bar{}, false, err
		}
		row, err := c.r.Read()
		if err == io.EOF {
			return market.Bar{}, false, nil
		}
		if err != nil {
			return market.Bar{}, false, err
		}
		c.line++
		if len(row) == 0 {
			continue
		}

		if !c.sawFirst {
			c.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		b, ok, err := parseBarRow(row, c.tf)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("%s line %d: %w", c.f.Name(), c.line, err)
		}
		if !ok || !inRange(b.Time, c.from, c.to) {
			continue
		}
		return b, true, nil
	}
}

func parseBarRow(row []string, tf market.Timeframe) (market.Bar, bool, error) {
	if len(row) < 5 {
		return market.Bar{}, false, nil
	}
	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Bar{}, false, nil
	}
	t, err := parseTime(ts)
	if err != nil {
		return market.Bar{}, false, err
	}

	var v [5]float64
	n := min(len(row), 6) - 1
	for i := 0; i < n; i++ {
		s := strings.TrimSpace(row[i+1])
		if s == "" && i == 4 {
			break
		}
		if v[i], err = strconv.ParseFloat(s, 64); err != nil {
			return market.Bar{}, false, fmt.Errorf("bad number %q: %w", row[i+1], err)
		}
	}

	b := market.Bar{Timeframe: tf, Time: t, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]}
	if err := b.Validate(); err != nil {
		return market.Bar{}, false, err
	}
	return b, true, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return time.Unix(sec, 0).UTC(), nil
}
