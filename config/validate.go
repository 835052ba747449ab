package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/signal"
)

// Error is a fatal configuration problem. Trading must not start.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks every range the pipeline relies on and reports all
// problems at once.
func (c *Config) Validate() error {
	var p []string
	bad := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }

	if c.Instrument.Symbol == "" {
		bad("instrument.symbol is required")
	}
	if c.Instrument.TickSize <= 0 {
		bad("instrument.tick_size must be positive")
	}
	if c.Instrument.PointValue <= 0 {
		bad("instrument.point_value must be positive")
	}
	if c.Account.Equity <= 0 {
		bad("account.equity must be positive")
	}

	// Timeframes
	base, err := market.ParseTimeframe(c.Data.BaseTimeframe)
	if err != nil {
		bad("data.base_timeframe: %v", err)
	}
	tfs := map[market.Timeframe]bool{}
	if len(c.Data.Timeframes) == 0 {
		bad("data.timeframes must not be empty")
	}
	for _, s := range c.Data.Timeframes {
		tf, err := market.ParseTimeframe(s)
		if err != nil {
			bad("data.timeframes: %v", err)
			continue
		}
		if tfs[tf] {
			bad("data.timeframes: %s listed twice", tf)
		}
		tfs[tf] = true
		if base > 0 && (tf < base || tf%base != 0) {
			bad("data.timeframes: %s is not a multiple of base %s", tf, base)
		}
	}
	for name, s := range map[string]string{
		"fusion.entry_timeframe": c.Fusion.EntryTimeframe,
		"fusion.bias_timeframe":  c.Fusion.BiasTimeframe,
	} {
		tf, err := market.ParseTimeframe(s)
		if err != nil {
			bad("%s: %v", name, err)
			continue
		}
		if !tfs[tf] && tf != base {
			bad("%s %s is not in data.timeframes", name, tf)
		}
	}
	switch c.Data.Calendar {
	case "cme", "always", "":
	default:
		bad("data.calendar must be cme or always")
	}
	if c.Data.MaxBars < 0 || c.Data.MaxPending < 0 {
		bad("data.max_bars and data.max_pending must not be negative")
	}

	// Structure and zones
	if c.Structure.SwingStrength < 1 {
		bad("structure.swing_strength must be at least 1")
	}
	if c.Structure.History < 2 {
		bad("structure.history must be at least 2")
	}
	z := c.Zones
	if z.OrderBlockExpiry < 1 || z.FVGExpiry < 1 || z.PoolExpiry < 1 {
		bad("zones expiry bars must be at least 1")
	}
	if z.FVGMinGap < 0 || z.FVGSensitivity < 0 || z.LiquidityTolerance < 0 {
		bad("zones tolerances must not be negative")
	}
	if z.LiquidityTouches < 2 {
		bad("zones.liquidity_touches must be at least 2")
	}
	if z.OrderBlockLookback < 1 {
		bad("zones.order_block_lookback must be at least 1")
	}

	// Fusion
	if len(c.Fusion.Sessions) == 0 {
		bad("fusion.sessions must not be empty")
	}
	if _, err := signal.ParseSessions(c.Fusion.Sessions); err != nil {
		bad("fusion.sessions: %v", err)
	}
	if c.Fusion.MaxEventAgeBars < 1 || c.Fusion.MaxSignalsPerSession < 1 {
		bad("fusion.max_event_age_bars and max_signals_per_session must be at least 1")
	}
	if c.Fusion.SweepLookbackBars < 0 {
		bad("fusion.sweep_lookback_bars must not be negative")
	}

	// Risk
	r := c.Risk
	if r.RiskPercent <= 0 || r.RiskPercent > 5 {
		bad("risk.risk_percent must be in (0, 5], got %g", r.RiskPercent)
	}
	if r.MaxRiskPercent <= 0 || r.MaxRiskPercent > 5 || r.MaxRiskPercent < r.RiskPercent {
		bad("risk.max_risk_percent must be in (0, 5] and at least risk_percent")
	}
	if r.DailyLossPercent <= 0 || r.DailyLossPercent > 20 {
		bad("risk.daily_loss_percent must be in (0, 20], got %g", r.DailyLossPercent)
	}
	if r.MaxContracts < 1 {
		bad("risk.max_contracts must be at least 1")
	}
	if r.RewardRatio <= 0 {
		bad("risk.reward_ratio must be positive")
	}
	if r.StopBufferPoints < 0 || r.MinTargetPoints < 0 || r.MinRR < 0 || r.MinEquity < 0 {
		bad("risk buffers and minimums must not be negative")
	}

	// Execution
	e := c.Execution
	switch e.EntryType {
	case "market", "limit":
	default:
		bad("execution.entry_type must be market or limit")
	}
	if e.EntryTimeoutBars < 1 {
		bad("execution.entry_timeout_bars must be at least 1")
	}
	if e.RequestTimeout <= 0 {
		bad("execution.request_timeout must be positive")
	}
	if e.TimeLimit < 0 || e.ReconcileBackoff < 0 {
		bad("execution durations must not be negative")
	}
	if e.ReconcileRetries < 1 || e.ReconnectBars < 1 {
		bad("execution.reconcile_retries and reconnect_bars must be at least 1")
	}

	// Rollover
	if _, err := cron.ParseStandard(c.Rollover.Schedule); err != nil {
		bad("rollover.schedule: %v", err)
	}
	if _, err := time.LoadLocation(c.Rollover.Location); err != nil {
		bad("rollover.location: %v", err)
	}

	// Collaborators
	switch c.Broker.Type {
	case "sim":
	case "gateway":
		if c.Broker.URL == "" {
			bad("broker.url is required for the gateway broker")
		}
	default:
		bad("broker.type must be sim or gateway")
	}
	switch c.Feed.Type {
	case "csv":
		if c.Feed.Path == "" {
			bad("feed.path is required for the csv feed")
		}
	case "amqp":
		if c.Feed.URI == "" || c.Feed.Queue == "" {
			bad("feed.uri and feed.queue are required for the amqp feed")
		}
	default:
		bad("feed.type must be csv or amqp")
	}
	for name, s := range map[string]string{"feed.from": c.Feed.From, "feed.to": c.Feed.To} {
		if s == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			bad("%s: %v", name, err)
		}
	}
	switch c.Journal.Type {
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			bad("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			bad("journal db_path required for SQLite type")
		}
	case "none":
	default:
		bad("journal.type must be csv, sqlite or none")
	}
	if c.Journal.AMQPURI != "" && c.Journal.Exchange == "" {
		bad("journal.exchange is required when journal.amqp_uri is set")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format must be text or json")
	}

	if len(p) > 0 {
		return &Error{Problems: p}
	}
	return nil
}
