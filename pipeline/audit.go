package pipeline

import (
	"fmt"
	"time"

	"github.com/rustyeddy/smc/execution"
	"github.com/rustyeddy/smc/id"
	"github.com/rustyeddy/smc/journal"
	"github.com/rustyeddy/smc/risk"
	"github.com/rustyeddy/smc/signal"
	"github.com/rustyeddy/smc/structure"
	"github.com/rustyeddy/smc/zones"
)

type nopJournal struct{}

func (nopJournal) RecordTrade(journal.TradeRecord) error     { return nil }
func (nopJournal) RecordEquity(journal.EquitySnapshot) error { return nil }
func (nopJournal) RecordEvent(journal.Event) error           { return nil }
func (nopJournal) Close() error                              { return nil }

// sink receives the execution machine's audit records.
type sink struct{ p *Pipeline }

func (s sink) Transition(tr execution.Transition) {
	s.p.record(journal.Event{
		Time:    tr.At,
		Kind:    journal.KindTransition,
		Ref:     tr.OrderRef,
		Message: fmt.Sprintf("%s -> %s: %s", tr.From, tr.To, tr.Reason),
		Fields:  map[string]any{"from": string(tr.From), "to": string(tr.To), "reason": tr.Reason},
	})
}

func (s sink) TradeClosed(t execution.Trade) {
	p := s.p
	pl := t.PnL.InexactFloat64()
	rec := journal.TradeRecord{
		TradeID:    t.ID,
		RunID:      p.runID,
		SignalID:   t.SignalID,
		Symbol:     t.Symbol,
		Side:       t.Direction.Side(),
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		OpenTime:   t.OpenedAt,
		CloseTime:  t.ClosedAt,
		RealizedPL: pl,
		Reason:     t.Reason,
	}
	if err := p.j.RecordTrade(rec); err != nil {
		p.log.Warn("journal trade", "trade_id", t.ID, "err", err)
	}

	p.res.Trades++
	switch {
	case pl > 0:
		p.res.Wins++
	case pl < 0:
		p.res.Losses++
	}
	p.snapshot(t.ClosedAt)
}

// snapshot records equity and tracks the drawdown from the running peak.
func (p *Pipeline) snapshot(at time.Time) {
	acct := p.machine.Account()
	p.res.EndEquity = acct.Equity
	if acct.Equity.GreaterThan(p.peak) {
		p.peak = acct.Equity
	}
	if p.peak.IsPositive() {
		dd := p.peak.Sub(acct.Equity).Div(p.peak).InexactFloat64() * 100
		if dd > p.res.MaxDrawdownPct {
			p.res.MaxDrawdownPct = dd
		}
	}
	err := p.j.RecordEquity(journal.EquitySnapshot{
		RunID:         p.runID,
		Time:          at,
		Equity:        acct.Equity.InexactFloat64(),
		StartEquity:   acct.StartEquity.InexactFloat64(),
		RealizedToday: acct.RealizedPnLToday.InexactFloat64(),
		OpenRisk:      acct.OpenRisk.InexactFloat64(),
	})
	if err != nil {
		p.log.Warn("journal equity", "err", err)
	}
}

func (p *Pipeline) record(e journal.Event) {
	e.ID = id.At(e.Time)
	e.RunID = p.runID
	if err := p.j.RecordEvent(e); err != nil {
		p.log.Warn("journal event", "kind", e.Kind, "err", err)
	}
}

func (p *Pipeline) recordStructure(ev structure.Event) {
	p.record(journal.Event{
		Time:      ev.Time,
		Kind:      journal.KindStructure,
		Timeframe: ev.Timeframe.String(),
		Ref:       fmt.Sprint(ev.ID),
		Message:   fmt.Sprintf("%s %s through %.2f", ev.Direction, ev.Kind, ev.BrokenLevel),
		Fields: map[string]any{
			"kind":         string(ev.Kind),
			"direction":    ev.Direction.String(),
			"level":        ev.BrokenLevel,
			"close":        ev.Close,
			"invalidation": ev.Invalidation,
			"swing_id":     ev.SwingID,
		},
	})
}

func (p *Pipeline) recordZone(t zones.Transition) {
	z := t.Zone
	from := string(t.From)
	if from == "" {
		from = "new"
	}
	p.record(journal.Event{
		Time:      t.At,
		Kind:      journal.KindZone,
		Timeframe: z.Timeframe.String(),
		Ref:       fmt.Sprint(z.ID),
		Message:   fmt.Sprintf("%s %s %.2f-%.2f %s -> %s (%s)", z.Direction, z.Kind, z.Low, z.High, from, t.To, t.Reason),
		Fields: map[string]any{
			"zone":      string(z.Kind),
			"direction": z.Direction.String(),
			"low":       z.Low,
			"high":      z.High,
			"from":      string(t.From),
			"to":        string(t.To),
		},
	})
}

func (p *Pipeline) recordSignal(sig signal.TradeSignal) {
	p.record(journal.Event{
		Time:      sig.GeneratedAt,
		Kind:      journal.KindSignal,
		Timeframe: sig.Timeframe.String(),
		Ref:       sig.ID,
		Message:   fmt.Sprintf("%s signal at %.2f in %s", sig.Direction, sig.Price, sig.Session),
		Fields: map[string]any{
			"confirmations": sig.Tags(),
			"confidence":    sig.Confidence,
			"invalidation":  sig.Invalidation,
			"order_block":   int64(sig.EntryZone.ID),
			"fvg":           int64(sig.Gap.ID),
			"event":         sig.Event.ID,
		},
	})
}

func (p *Pipeline) recordRisk(sig signal.TradeSignal, o risk.SizedOrder, d risk.Decision, at time.Time) {
	fields := map[string]any{
		"allowed":  d.Allowed,
		"halt":     d.Halt,
		"risk":     d.PlannedRisk.StringFixed(2),
		"risk_pct": d.PlannedRiskPct,
		"rr":       d.PlannedRR,
	}
	msg := d.String()
	if d.Allowed {
		fields["qty"] = o.Quantity
		fields["stop"] = o.StopPrice
		fields["target"] = o.TargetPrice
		fields["target_source"] = o.TargetSource
		msg = fmt.Sprintf("allowed %d @ %.2f stop %.2f target %.2f", o.Quantity, o.EntryPrice, o.StopPrice, o.TargetPrice)
	} else {
		codes := make([]string, len(d.Violations))
		for i, v := range d.Violations {
			codes[i] = v.Code
		}
		fields["violations"] = codes
	}
	p.record(journal.Event{Time: at, Kind: journal.KindRisk, Ref: sig.ID, Message: msg, Fields: fields})
}
