package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/execution"
	"github.com/rustyeddy/smc/feed"
	"github.com/rustyeddy/smc/journal"
	"github.com/rustyeddy/smc/market"
)

// Result summarizes a run.
type Result struct {
	RunID          string
	Start          time.Time
	End            time.Time
	Bars           int
	Signals        int
	Rejected       int // signals refused by risk
	Trades         int
	Wins           int
	Losses         int
	Faults         int
	StartEquity    decimal.Decimal
	EndEquity      decimal.Decimal
	MaxDrawdownPct float64
	OpenPosition   bool // a position was still managed when the feed ended
	Suspended      bool
}

func (r Result) NetPL() decimal.Decimal { return r.EndEquity.Sub(r.StartEquity) }

// Record converts r into the journal's run summary.
func (r Result) Record(symbol, dataset string, cfg []byte) journal.RunRecord {
	rec := journal.RunRecord{
		RunID:       r.RunID,
		Created:     time.Now().UTC(),
		Symbol:      symbol,
		Dataset:     dataset,
		Config:      cfg,
		Start:       r.Start,
		End:         r.End,
		Bars:        r.Bars,
		Signals:     r.Signals,
		Trades:      r.Trades,
		Wins:        r.Wins,
		Losses:      r.Losses,
		StartEquity: r.StartEquity.InexactFloat64(),
		EndEquity:   r.EndEquity.InexactFloat64(),
		MaxDDPct:    r.MaxDrawdownPct,
	}
	if r.Rejected > 0 {
		rec.Notes = append(rec.Notes, "signals rejected by risk: "+strconv.Itoa(r.Rejected))
	}
	if r.OpenPosition {
		rec.Notes = append(rec.Notes, "position still open at end of data")
	}
	if r.Suspended {
		rec.Notes = append(rec.Notes, "trading suspended: broker unreachable")
	}
	return rec
}

// Result returns the summary so far.
func (p *Pipeline) Result() Result {
	r := p.res
	snap := p.machine.Snapshot()
	r.EndEquity = snap.Account.Equity
	r.OpenPosition = snap.Position != nil
	r.Suspended = snap.Suspended
	return r
}

// Run replays a finite feed to its end. A working entry left at the end is
// cancelled; an open position is reported, not force-closed, since there is
// no further bar to fill an exit against.
func (p *Pipeline) Run(ctx context.Context, f feed.Feed) (Result, error) {
	defer f.Close()

	for {
		b, ok, err := f.Next(ctx)
		if err != nil {
			return p.Result(), err
		}
		if !ok {
			break
		}
		if err := p.Push(ctx, b); err != nil {
			return p.Result(), err
		}
	}

	p.Drain(ctx)
	if p.machine.State() == execution.Working {
		p.fail(p.res.End, p.machine.CancelEntry(ctx, "end of data"))
	}
	p.snapshot(p.res.End)
	res := p.Result()
	p.log.Info("run finished", "bars", res.Bars, "signals", res.Signals, "trades", res.Trades,
		"wins", res.Wins, "losses", res.Losses, "equity", res.EndEquity.StringFixed(2))
	return res, nil
}

// RunLive consumes bars until the channel closes or ctx is done. Broker
// events are applied as they arrive, between bars.
func (p *Pipeline) RunLive(ctx context.Context, bars <-chan market.Bar) error {
	events := p.broker.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.handle(ctx, ev)
		case b, ok := <-bars:
			if !ok {
				p.snapshot(p.res.End)
				return nil
			}
			if err := p.Push(ctx, b); err != nil {
				return err
			}
		}
	}
}

// checkRollover applies the daily session boundary once the machine is
// Idle. A boundary passed mid-trade waits for the slot to free up.
func (p *Pipeline) checkRollover(now time.Time) {
	if p.nextRollover.IsZero() {
		p.nextRollover = p.rollover.Next(now.In(p.loc))
		return
	}
	if now.Before(p.nextRollover) || p.machine.State() != execution.Idle {
		return
	}
	boundary := p.nextRollover
	wasHalted := p.machine.Halted()
	if p.machine.Rollover(boundary) {
		p.record(journal.Event{
			Time:    boundary,
			Kind:    journal.KindSession,
			Message: "session rollover",
			Fields:  map[string]any{"was_halted": wasHalted},
		})
		p.snapshot(boundary)
	}
	p.nextRollover = p.rollover.Next(now.In(p.loc))
}
