package config

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/execution"
	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/signal"
)

// The accessors below assume Validate has passed.

func (c *Config) BaseTimeframe() market.Timeframe {
	tf, _ := market.ParseTimeframe(c.Data.BaseTimeframe)
	return tf
}

// TimeframeList returns the analysed timeframes, highest first.
func (c *Config) TimeframeList() []market.Timeframe {
	out := make([]market.Timeframe, 0, len(c.Data.Timeframes))
	for _, s := range c.Data.Timeframes {
		tf, _ := market.ParseTimeframe(s)
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func (c *Config) AggregatorOptions() market.AggregatorOptions {
	opts := market.AggregatorOptions{MaxBars: c.Data.MaxBars, MaxPending: c.Data.MaxPending}
	if c.Data.Calendar == "cme" {
		opts.Calendar = market.NewCMEGlobex()
	}
	return opts
}

func (c *Config) SignalConfig() (signal.Config, error) {
	sessions, err := signal.ParseSessions(c.Fusion.Sessions)
	if err != nil {
		return signal.Config{}, err
	}
	entry, _ := market.ParseTimeframe(c.Fusion.EntryTimeframe)
	bias, _ := market.ParseTimeframe(c.Fusion.BiasTimeframe)
	return signal.Config{
		EntryTimeframe:       entry,
		BiasTimeframe:        bias,
		RequireBiasAlignment: c.Fusion.RequireBiasAlignment,
		MaxEventAgeBars:      c.Fusion.MaxEventAgeBars,
		SweepLookbackBars:    c.Fusion.SweepLookbackBars,
		MaxSignalsPerSession: c.Fusion.MaxSignalsPerSession,
		Sessions:             sessions,
	}, nil
}

func (c *Config) ExecutionConfig() execution.Config {
	typ := broker.Market
	if c.Execution.EntryType == "limit" {
		typ = broker.Limit
	}
	return execution.Config{
		Symbol:           c.Instrument.Symbol,
		Instrument:       c.Instrument,
		EntryType:        typ,
		EntryTimeoutBars: c.Execution.EntryTimeoutBars,
		TimeLimit:        c.Execution.TimeLimit.D(),
		RequestTimeout:   c.Execution.RequestTimeout.D(),
		ReconcileRetries: c.Execution.ReconcileRetries,
		ReconcileBackoff: c.Execution.ReconcileBackoff.D(),
		ReconnectBars:    c.Execution.ReconnectBars,
	}
}

// RolloverSchedule parses the rollover cron spec in its time zone.
func (c *Config) RolloverSchedule() (cron.Schedule, *time.Location, error) {
	loc, err := time.LoadLocation(c.Rollover.Location)
	if err != nil {
		return nil, nil, err
	}
	sched, err := cron.ParseStandard(c.Rollover.Schedule)
	if err != nil {
		return nil, nil, err
	}
	return sched, loc, nil
}

// FeedRange returns the optional replay bounds.
func (c *Config) FeedRange() (from, to time.Time) {
	from, _ = time.Parse(time.RFC3339, c.Feed.From)
	to, _ = time.Parse(time.RFC3339, c.Feed.To)
	return from, to
}
