// Package pipeline drives one instrument through the decision chain on every
// bar close: aggregation, structure, zones, execution housekeeping, position
// monitoring, signal fusion, risk and order submission. Everything runs on the
// caller's goroutine; only broker calls may block, and those are bounded by
// the execution machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/config"
	"github.com/rustyeddy/smc/execution"
	"github.com/rustyeddy/smc/id"
	"github.com/rustyeddy/smc/journal"
	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/monitor"
	"github.com/rustyeddy/smc/risk"
	"github.com/rustyeddy/smc/signal"
	"github.com/rustyeddy/smc/structure"
	"github.com/rustyeddy/smc/zones"
)

// Deps are the collaborators a pipeline is built from. Config must already
// be validated.
type Deps struct {
	Config  *config.Config
	Broker  broker.Broker
	Journal journal.Journal // nil records nothing
	Logger  *slog.Logger
	RunID   string // generated when empty
}

// barDriven is implemented by brokers that trade against our own bars, such
// as the simulator. They see each base bar before the pipeline does.
type barDriven interface {
	OnBar(market.Bar)
}

type Pipeline struct {
	cfg   *config.Config
	log   *slog.Logger
	j     journal.Journal
	runID string

	base      market.Timeframe
	entryTF   market.Timeframe
	biasTF    market.Timeframe
	agg       *market.Aggregator
	resampler *market.Resampler
	analyzers map[market.Timeframe]*structure.Analyzer
	mapper    *zones.Mapper
	fusion    *signal.Engine
	risk      *risk.Manager
	machine   *execution.Machine
	monitor   *monitor.Monitor
	broker    broker.Broker
	driven    barDriven

	rollover     cron.Schedule
	loc          *time.Location
	nextRollover time.Time

	active *signal.TradeSignal // signal behind the working entry
	res    Result
	peak   decimal.Decimal
}

func New(d Deps) (*Pipeline, error) {
	if d.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if d.Broker == nil {
		return nil, errors.New("pipeline: broker is required")
	}
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Journal == nil {
		d.Journal = nopJournal{}
	}
	if d.RunID == "" {
		d.RunID = id.New()
	}

	sigCfg, err := cfg.SignalConfig()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	sched, loc, err := cfg.RolloverSchedule()
	if err != nil {
		return nil, fmt.Errorf("pipeline: rollover: %w", err)
	}

	p := &Pipeline{
		cfg:       cfg,
		log:       logger.With("component", "pipeline", "run_id", d.RunID),
		j:         d.Journal,
		runID:     d.RunID,
		base:      cfg.BaseTimeframe(),
		entryTF:   sigCfg.EntryTimeframe,
		biasTF:    sigCfg.BiasTimeframe,
		analyzers: make(map[market.Timeframe]*structure.Analyzer),
		mapper:    zones.NewMapper(cfg.Zones),
		fusion:    signal.NewEngine(sigCfg),
		risk:      risk.NewManager(cfg.Risk, cfg.Instrument),
		monitor:   monitor.New(cfg.Monitor),
		broker:    d.Broker,
		rollover:  sched,
		loc:       loc,
	}
	if bd, ok := d.Broker.(barDriven); ok {
		p.driven = bd
	}

	tfs := cfg.TimeframeList()
	for _, tf := range []market.Timeframe{p.entryTF, p.biasTF} {
		if !contains(tfs, tf) {
			tfs = append(tfs, tf)
		}
	}
	for _, tf := range tfs {
		p.analyzers[tf] = structure.NewAnalyzer(tf, cfg.Structure)
	}
	// The base stream is checked even when it is not analysed.
	p.agg = market.NewAggregator(append([]market.Timeframe{p.base}, tfs...), cfg.AggregatorOptions())
	if p.resampler, err = market.NewResampler(p.base, tfs); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	equity := decimal.NewFromFloat(cfg.Account.Equity)
	p.machine = execution.New(d.Broker, cfg.ExecutionConfig(), risk.NewAccount(equity), sink{p}, logger)
	p.res = Result{RunID: d.RunID, StartEquity: equity, EndEquity: equity}
	p.peak = equity
	return p, nil
}

func (p *Pipeline) RunID() string { return p.runID }

func (p *Pipeline) Machine() *execution.Machine { return p.machine }

func (p *Pipeline) Mapper() *zones.Mapper { return p.mapper }

// Push feeds one closed bar from the market data stream. Base timeframe bars
// pass the aggregator first; only the bars it releases trade against a
// bar-driven broker and are resampled into the analysed timeframes. Bars of
// an analysed timeframe are taken as they are.
func (p *Pipeline) Push(ctx context.Context, b market.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		p.dataFault(&market.DataFault{Kind: market.FaultInvalid, Timeframe: b.Timeframe, Got: b.Time, Msg: err.Error()})
		return nil
	}
	if _, analysed := p.analyzers[b.Timeframe]; !analysed && b.Timeframe != p.base {
		p.dataFault(&market.DataFault{Kind: market.FaultUnknownTF, Timeframe: b.Timeframe, Got: b.Time,
			Msg: "timeframe not configured"})
		return nil
	}
	p.res.Bars++
	if p.res.Start.IsZero() || b.Time.Before(p.res.Start) {
		p.res.Start = b.Time
	}
	if end := b.CloseTime(); end.After(p.res.End) {
		p.res.End = end
	}

	if b.Timeframe != p.base {
		return p.onTick(ctx, []market.Bar{b}, false)
	}

	released, resynced := p.admit(b)
	if resynced {
		// Partial higher timeframe bars would bridge the hole.
		for _, d := range p.resampler.Flush() {
			p.log.Warn("partial bar discarded", "tf", d.Timeframe, "time", d.Time)
		}
		p.restart(p.base, len(released))
	}
	for _, r := range released {
		if p.driven != nil {
			p.driven.OnBar(r)
		}
		tick := append([]market.Bar{r}, p.resampler.Push(r)...)
		if err := p.onTick(ctx, tick, true); err != nil {
			return err
		}
	}
	return nil
}

// OnTick processes bars that closed together. Higher timeframes are analysed
// first so the bias is current before lower timeframe fusion runs. Bars of a
// timeframe without an analyzer are ignored.
func (p *Pipeline) OnTick(ctx context.Context, bars []market.Bar) error {
	return p.onTick(ctx, bars, false)
}

// onTick does the work of OnTick. With admitted set, base timeframe bars
// have already passed the aggregator.
func (p *Pipeline) onTick(ctx context.Context, bars []market.Bar, admitted bool) error {
	if len(bars) == 0 {
		return nil
	}
	bars = append([]market.Bar(nil), bars...)
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timeframe > bars[j].Timeframe })
	var now time.Time
	for _, b := range bars {
		if t := b.CloseTime(); t.After(now) {
			now = t
		}
	}

	p.Drain(ctx)
	p.checkRollover(now)

	var events []structure.Event
	var entry *market.Bar
	for i, b := range bars {
		if _, ok := p.analyzers[b.Timeframe]; !ok {
			continue
		}
		events = append(events, p.analyze(b, admitted && b.Timeframe == p.base)...)
		if s, ok := p.agg.Series(p.entryTF); ok && b.Timeframe == p.entryTF {
			if last, ok := s.Last(); ok && last.Time.Equal(b.Time) {
				entry = &bars[i]
			}
		}
	}

	if entry != nil {
		p.fail(entry.CloseTime(), p.machine.OnBar(ctx, *entry))
	}
	p.manage(ctx, bars, events)
	p.guardEntry(ctx, now)
	if entry != nil {
		p.evaluate(ctx, *entry)
	}
	return ctx.Err()
}

// Drain applies every broker event already waiting, without blocking.
func (p *Pipeline) Drain(ctx context.Context) {
	ch := p.broker.Events()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.handle(ctx, ev)
		default:
			return
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, ev broker.Event) {
	switch ev.Kind {
	case broker.EventDisconnect:
		p.record(journal.Event{Time: ev.At, Kind: journal.KindFault, Message: "broker disconnected"})
	case broker.EventReconnect:
		p.record(journal.Event{Time: ev.At, Kind: journal.KindSession, Message: "broker reconnected"})
	}
	p.fail(ev.At, p.machine.HandleEvent(ctx, ev))
}

// admit passes b through the aggregator and returns the bars it released.
// resynced reports that they start a new contiguous segment.
func (p *Pipeline) admit(b market.Bar) (released []market.Bar, resynced bool) {
	released, err := p.agg.Append(b)
	if err == nil {
		return released, false
	}
	var df *market.DataFault
	if !errors.As(err, &df) {
		p.log.Error("append bar", "tf", b.Timeframe, "err", err)
		return nil, false
	}
	p.dataFault(df)
	return released, df.Kind == market.FaultResynced
}

// restart drops swing and zone state that assumed continuity, so analysis
// of tf begins again at the last n bars of its series.
func (p *Pipeline) restart(tf market.Timeframe, n int) {
	a, ok := p.analyzers[tf]
	if !ok {
		return
	}
	s, _ := p.agg.Series(tf)
	from := s.Len() - n
	a.ResetFrom(from)
	p.mapper.ResetFrom(tf, from)
}

// analyze runs structure and zones over whatever the aggregator released
// for b. Unless admitted, b is appended first.
func (p *Pipeline) analyze(b market.Bar, admitted bool) []structure.Event {
	tf := b.Timeframe
	if !admitted {
		released, resynced := p.admit(b)
		if len(released) == 0 {
			return nil
		}
		if resynced {
			p.restart(tf, len(released))
		}
	}

	s, _ := p.agg.Series(tf)
	a := p.analyzers[tf]
	u := a.OnBar(s)
	res := p.mapper.OnBar(s, u)
	for _, ev := range u.Events {
		p.recordStructure(ev)
	}
	for _, zt := range res.Transitions {
		p.recordZone(zt)
	}
	for _, f := range res.Faults {
		p.record(journal.Event{Time: b.CloseTime(), Kind: journal.KindFault, Timeframe: tf.String(),
			Ref: fmt.Sprint(f.ZoneID), Message: f.Error()})
	}
	return u.Events
}

// manage asks the monitor about the open position on each bar of the tick.
func (p *Pipeline) manage(ctx context.Context, bars []market.Bar, events []structure.Event) {
	if p.machine.State() != execution.Managing {
		return
	}
	pos, ok := p.machine.Position()
	if !ok {
		return
	}
	for _, b := range bars {
		x := p.monitor.Evaluate(pos, b, events)
		if x == nil {
			continue
		}
		p.log.Info("exit requested", "reason", x.Reason, "type", x.Type)
		p.fail(x.At, p.machine.Exit(ctx, *x))
		return
	}
}

// guardEntry withdraws a working entry once its signal no longer holds.
func (p *Pipeline) guardEntry(ctx context.Context, now time.Time) {
	if p.machine.State() != execution.Working {
		p.active = nil
		return
	}
	if p.active == nil {
		return
	}
	bias := p.analyzers[p.entryTF].Bias()
	if p.fusion.StillValid(*p.active, p.mapper, bias) {
		return
	}
	p.fail(now, p.machine.CancelEntry(ctx, "signal invalidated"))
	if p.machine.State() != execution.Working {
		p.active = nil
	}
}

// evaluate runs fusion on an entry timeframe close and, when a signal
// survives risk, submits it. Nothing is evaluated while the slot is taken or
// trading is halted, so signals are not spent on trades that cannot happen.
func (p *Pipeline) evaluate(ctx context.Context, bar market.Bar) {
	if p.machine.State() != execution.Idle || p.machine.Halted() {
		return
	}
	ev, _ := p.analyzers[p.entryTF].LastEvent()
	fc := p.fusion.Config()
	at := bar.CloseTime()
	lookback := time.Duration(fc.SweepLookbackBars+fc.MaxEventAgeBars) * p.entryTF.Duration()
	in := signal.Input{
		Time:   at,
		Price:  bar.Close,
		Event:  ev,
		Bias:   p.analyzers[p.biasTF].Bias(),
		Zones:  p.mapper.Active(),
		Sweeps: p.mapper.SweepsSince(at.Add(-lookback)),
	}
	sig, ok := p.fusion.Evaluate(in)
	if !ok {
		return
	}
	p.res.Signals++
	p.recordSignal(sig)

	order, d := p.risk.Evaluate(sig, bar.Close, p.machine.Account(), in.Zones)
	p.recordRisk(sig, order, d, at)
	if d.Halt {
		p.machine.Halt(d.String())
	}
	if !d.Allowed {
		p.res.Rejected++
		return
	}

	err := p.machine.Submit(ctx, execution.Intent{
		Order:           order,
		SignalTimeframe: sig.Timeframe,
		Invalidation:    sig.Invalidation,
		At:              at,
	})
	if err != nil {
		p.fail(at, err)
		return
	}
	if p.machine.State() == execution.Working {
		p.active = &sig
	}
}

func (p *Pipeline) dataFault(df *market.DataFault) {
	p.res.Faults++
	p.record(journal.Event{
		Time:      df.Got,
		Kind:      journal.KindFault,
		Timeframe: df.Timeframe.String(),
		Message:   df.Error(),
		Fields:    map[string]any{"fault": string(df.Kind), "missing": df.Missing},
	})
}

// fail records a machine error. Refusals and broker faults are expected
// outcomes; an exhausted reconcile budget leaves trading suspended until an
// operator resumes it.
func (p *Pipeline) fail(at time.Time, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, execution.ErrBrokerUnreachable):
		p.log.Error("broker unreachable, trading suspended", "err", err)
	case errors.Is(err, context.Canceled):
		return
	default:
		p.log.Warn("execution", "state", p.machine.State(), "err", err)
	}
	p.res.Faults++
	p.record(journal.Event{Time: at, Kind: journal.KindFault, Message: err.Error(),
		Fields: map[string]any{"state": string(p.machine.State())}})
}

func contains(tfs []market.Timeframe, tf market.Timeframe) bool {
	for _, t := range tfs {
		if t == tf {
			return true
		}
	}
	return false
}
