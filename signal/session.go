package signal

import (
	"fmt"
	"time"
)

// SessionConfig is the on-disk form of a Session.
type SessionConfig struct {
	Name     string `json:"name" yaml:"name"`
	Start    string `json:"start" yaml:"start"` // HH:MM
	End      string `json:"end" yaml:"end"`
	Location string `json:"location" yaml:"location"` // IANA zone, empty is UTC
}

// Session is a daily trading window. A window whose end is before its start
// wraps past midnight.
type Session struct {
	Name  string
	Start time.Duration // offset from local midnight
	End   time.Duration
	Loc   *time.Location
}

// DefaultSessions are the three UTC windows the strategy was tuned on.
func DefaultSessions() []SessionConfig {
	return []SessionConfig{
		{Name: "asia", Start: "01:00", End: "03:00", Location: "UTC"},
		{Name: "london_silver_1", Start: "14:00", End: "16:00", Location: "UTC"},
		{Name: "london_silver_2", Start: "16:00", End: "18:00", Location: "UTC"},
	}
}

func ParseSession(c SessionConfig) (Session, error) {
	start, err := parseClock(c.Start)
	if err != nil {
		return Session{}, fmt.Errorf("session %q start: %w", c.Name, err)
	}
	end, err := parseClock(c.End)
	if err != nil {
		return Session{}, fmt.Errorf("session %q end: %w", c.Name, err)
	}
	if start == end {
		return Session{}, fmt.Errorf("session %q is empty", c.Name)
	}
	loc := time.UTC
	if c.Location != "" {
		if loc, err = time.LoadLocation(c.Location); err != nil {
			return Session{}, fmt.Errorf("session %q: %w", c.Name, err)
		}
	}
	return Session{Name: c.Name, Start: start, End: end, Loc: loc}, nil
}

func ParseSessions(cs []SessionConfig) ([]Session, error) {
	out := make([]Session, 0, len(cs))
	for _, c := range cs {
		s, err := ParseSession(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (s Session) offset(t time.Time) (time.Duration, time.Time) {
	local := t.In(s.Loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Loc)
	return local.Sub(midnight), midnight
}

// Contains reports whether t falls in [Start, End).
func (s Session) Contains(t time.Time) bool {
	off, _ := s.offset(t)
	if s.Start < s.End {
		return off >= s.Start && off < s.End
	}
	return off >= s.Start || off < s.End
}

// Key identifies the occurrence of the session containing t, e.g.
// "asia/2025-03-04". A wrapping window is keyed by the day it opened.
func (s Session) Key(t time.Time) string {
	off, midnight := s.offset(t)
	if s.Start > s.End && off < s.End {
		midnight = midnight.AddDate(0, 0, -1)
	}
	return s.Name + "/" + midnight.Format("2006-01-02")
}
