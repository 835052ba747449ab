package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/id"
	"github.com/rustyeddy/smc/market"
	"github.com/rustyeddy/smc/risk"
)

// Machine is the execution state machine. It is driven from a single
// goroutine: the pipeline calls Submit, HandleEvent, OnBar and Exit in bar
// order. Every broker call is bounded by Config.RequestTimeout.
type Machine struct {
	b    broker.Broker
	cfg  Config
	sink Sink
	log  *slog.Logger

	state        State
	resume       State
	acct         risk.Account
	halted       bool
	suspended    bool
	lastRollover time.Time
	now          time.Time

	intent        *Intent
	clientRef     string
	entryRef      string
	entryFilled   int
	entryNotional float64
	barsWorking   int

	pos           *Position
	needProtect   bool
	pendingExit   *ExitIntent
	exitClientRef string
	exitRef       string
	exitReason    string
	exitRetry     bool
	exitFilled    int
	exitNotional  float64
	exitPnL       decimal.Decimal

	seen           map[string]struct{}
	deferred       []broker.Fill
	awaitReconnect bool
	barsDown       int
}

func New(b broker.Broker, cfg Config, acct risk.Account, sink Sink, logger *slog.Logger) *Machine {
	cfg.defaults()
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		b:     b,
		cfg:   cfg,
		sink:  sink,
		log:   logger.With("component", "execution"),
		state: Idle,
		acct:  acct,
		seen:  make(map[string]struct{}),
	}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Account() risk.Account { return m.acct }

// Position returns the open position, if any.
func (m *Machine) Position() (Position, bool) {
	if m.pos == nil {
		return Position{}, false
	}
	return *m.pos, true
}

func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:        m.state,
		Account:      m.acct,
		EntryFilled:  m.entryFilled,
		Halted:       m.halted,
		Suspended:    m.suspended,
		LastRollover: m.lastRollover,
	}
	if m.pos != nil {
		p := *m.pos
		s.Position = &p
	}
	if m.intent != nil {
		o := m.intent.Order
		s.Order = &o
	}
	return s
}

// Submit starts a new entry. It is refused without contacting the broker
// unless the machine is Idle with no halt or suspension in force.
func (m *Machine) Submit(ctx context.Context, in Intent) error {
	if m.suspended {
		return ErrSuspended
	}
	if m.halted {
		return ErrHalted
	}
	switch m.state {
	case Idle:
	case Working, Filled, Managing, Closing:
		return ErrPositionOpen
	default:
		return ErrNotIdle
	}
	o := in.Order
	if o.Quantity < 1 || o.Direction == market.Neutral {
		return fmt.Errorf("execution: invalid order %d x %s", o.Quantity, o.Direction)
	}

	m.tick(in.At)
	m.intent = &in
	m.clientRef = id.At(m.now)
	m.transition(PendingSubmit, "signal "+o.SignalID)

	req := broker.OrderRequest{
		ClientRef: m.clientRef,
		Symbol:    m.cfg.Symbol,
		Side:      o.Direction,
		Type:      m.cfg.EntryType,
		Qty:       o.Quantity,
	}
	if req.Type == broker.Limit {
		req.Price = o.EntryPrice
	}
	ack, err := m.submit(ctx, req)
	if err != nil {
		m.log.Warn("entry submit failed", "err", err)
		return m.onFault(ctx, PendingSubmit, err)
	}
	m.entryRef = ack.Ref
	if !ack.Accepted {
		m.transition(Rejected, ack.Reason)
		return fmt.Errorf("%w: %s", ErrRejected, ack.Reason)
	}
	m.barsWorking = 0
	m.transition(Working, "acknowledged")
	return nil
}

// HandleEvent consumes one broker event. Duplicate and late fills are
// ignored by fill id.
func (m *Machine) HandleEvent(ctx context.Context, ev broker.Event) error {
	m.tick(ev.At)
	switch ev.Kind {
	case broker.EventDisconnect:
		m.log.Warn("broker disconnected", "state", m.state)
		m.awaitReconnect = true
		switch m.state {
		case PendingSubmit, Working, Managing, Closing:
			m.enterReconcile(m.state, "broker disconnected")
		case Filled:
			m.enterReconcile(Managing, "broker disconnected")
		}
	case broker.EventReconnect:
		m.log.Info("broker reconnected", "state", m.state)
		m.awaitReconnect = false
		if m.state == Reconciling {
			return m.Reconcile(ctx)
		}
	case broker.EventFill:
		if ev.Fill == nil {
			return nil
		}
		if m.state == Reconciling {
			m.deferred = append(m.deferred, *ev.Fill)
			return nil
		}
		return m.applyFill(ctx, *ev.Fill)
	case broker.EventStatus:
		if ev.Status == nil || m.state == Reconciling {
			return nil
		}
		return m.applyStatus(ctx, *ev.Status)
	}
	return nil
}

// OnBar advances bar-counted timers: the entry timeout, the time stop,
// pending protection and exits, and waiting out a disconnect.
func (m *Machine) OnBar(ctx context.Context, bar market.Bar) error {
	m.tick(bar.CloseTime())
	switch m.state {
	case Working:
		m.barsWorking++
		if m.barsWorking >= m.cfg.EntryTimeoutBars {
			return m.cancelEntry(ctx, "entry timeout")
		}
	case Managing:
		if m.needProtect {
			if err := m.protect(ctx); err != nil {
				return m.onFault(ctx, Managing, err)
			}
		}
		if !m.pos.TimeLimit.IsZero() && !m.now.Before(m.pos.TimeLimit) && m.pendingExit == nil {
			m.pendingExit = &ExitIntent{Reason: "time stop", Type: broker.Market, At: m.now}
		}
		return m.flushExit(ctx)
	case Closing:
		if m.exitRetry {
			m.exitRetry = false
			return m.submitExit(ctx, broker.Market, 0)
		}
	case Reconciling:
		if m.awaitReconnect {
			m.barsDown++
			if m.barsDown < m.cfg.ReconnectBars {
				return nil
			}
		}
		return m.Reconcile(ctx)
	}
	return nil
}

// CancelEntry withdraws a working entry whose signal is no longer valid. An
// acknowledged order is always driven to a terminal state, never dropped.
func (m *Machine) CancelEntry(ctx context.Context, reason string) error {
	if m.state != Working {
		return nil
	}
	return m.cancelEntry(ctx, reason)
}

// Exit flattens the open position. While reconciling a managed position the
// intent is held until the machine is back in Managing.
func (m *Machine) Exit(ctx context.Context, in ExitIntent) error {
	if m.state == Reconciling && m.resume == Managing {
		m.pendingExit = &in
		return nil
	}
	if m.state != Managing {
		return ErrNotManaging
	}
	m.tick(in.At)

	// Pull the protective legs first so they cannot trade alongside the exit.
	for _, ref := range []string{m.pos.StopRef, m.pos.TargetRef} {
		if ref == "" {
			continue
		}
		err := m.cancel(ctx, ref)
		if err == nil {
			continue
		}
		if f, ok := broker.AsFault(err); ok && f.Kind == broker.FaultRejected {
			// Already done at the broker; it may have filled.
			st, qerr := m.query(ctx, ref)
			if qerr != nil {
				m.pendingExit = &in
				return m.onFault(ctx, Managing, qerr)
			}
			if err := m.applyStatus(ctx, st); err != nil {
				return err
			}
			if m.state != Managing {
				return nil
			}
			continue
		}
		m.pendingExit = &in
		return m.onFault(ctx, Managing, err)
	}

	m.exitReason = in.Reason
	m.transition(Closing, in.Reason)
	return m.submitExit(ctx, in.Type, in.Price)
}

func (m *Machine) flushExit(ctx context.Context) error {
	if m.pendingExit == nil || m.state != Managing {
		return nil
	}
	in := *m.pendingExit
	m.pendingExit = nil
	return m.Exit(ctx, in)
}

func (m *Machine) cancelEntry(ctx context.Context, reason string) error {
	if err := m.cancel(ctx, m.entryRef); err != nil {
		if f, ok := broker.AsFault(err); ok && f.Kind == broker.FaultRejected {
			st, qerr := m.query(ctx, m.entryRef)
			if qerr != nil {
				return m.onFault(ctx, Working, qerr)
			}
			return m.applyStatus(ctx, st)
		}
		return m.onFault(ctx, Working, err)
	}

	// Pick up fills that raced the cancel.
	if st, err := m.query(ctx, m.entryRef); err == nil {
		if err := m.applyFills(ctx, st); err != nil {
			return err
		}
		if m.state != Working {
			return nil
		}
	}
	if m.entryFilled > 0 {
		return m.fillComplete(ctx, reason+", remainder cancelled")
	}
	m.transition(Cancelled, reason)
	return nil
}

func (m *Machine) applyFill(ctx context.Context, f broker.Fill) error {
	if f.ID == "" || f.Ref == "" {
		return nil
	}
	if _, dup := m.seen[f.ID]; dup {
		return nil
	}
	switch {
	case f.Ref == m.entryRef && m.state == Working:
		m.seen[f.ID] = struct{}{}
		return m.entryFill(ctx, f)
	case m.pos != nil && (f.Ref == m.exitRef || f.Ref == m.pos.StopRef || f.Ref == m.pos.TargetRef):
		m.seen[f.ID] = struct{}{}
		return m.exitFill(f)
	}
	m.log.Debug("fill for unknown order ignored", "ref", f.Ref, "fill", f.ID)
	return nil
}

func (m *Machine) applyFills(ctx context.Context, st broker.OrderStatus) error {
	for _, f := range st.Fills {
		if f.Ref == "" {
			f.Ref = st.Ref
		}
		if err := m.applyFill(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// applyStatus folds a broker order status into the machine: its fills first,
// then any terminal state that ends the entry or the exit early.
func (m *Machine) applyStatus(ctx context.Context, st broker.OrderStatus) error {
	if err := m.applyFills(ctx, st); err != nil {
		return err
	}
	dead := st.State == broker.Cancelled || st.State == broker.Rejected

	switch {
	case st.Ref == m.entryRef && m.state == Working && dead:
		if m.entryFilled > 0 {
			return m.fillComplete(ctx, "entry remainder "+strings.ToLower(string(st.State)))
		}
		if st.State == broker.Rejected {
			m.transition(Rejected, st.Reason)
		} else {
			m.transition(Cancelled, st.Reason)
		}
	case st.Ref == m.exitRef && m.state == Closing && dead:
		m.log.Warn("exit order ended unfilled", "state", st.State, "reason", st.Reason)
		m.exitRef = ""
		m.exitRetry = true
	}
	return nil
}

func (m *Machine) entryFill(ctx context.Context, f broker.Fill) error {
	m.entryFilled += f.Qty
	m.entryNotional += float64(f.Qty) * f.Price
	m.log.Info("entry fill", "ref", f.Ref, "qty", f.Qty, "price", f.Price, "filled", m.entryFilled)
	if m.entryFilled >= m.intent.Order.Quantity {
		return m.fillComplete(ctx, "filled")
	}
	return nil
}

// fillComplete opens the position from whatever quantity filled and moves
// through Filled to Managing with protective orders attached.
func (m *Machine) fillComplete(ctx context.Context, reason string) error {
	o := m.intent.Order
	qty := m.entryFilled
	avg := m.cfg.Instrument.RoundToTick(m.entryNotional / float64(qty))

	m.pos = &Position{
		OrderRef:        m.entryRef,
		SignalID:        o.SignalID,
		Direction:       o.Direction,
		EntryFillPrice:  avg,
		Quantity:        qty,
		OpenedAt:        m.now,
		StopPrice:       o.StopPrice,
		TargetPrice:     o.TargetPrice,
		SignalTimeframe: m.intent.SignalTimeframe,
		Invalidation:    m.intent.Invalidation,
	}
	if m.cfg.TimeLimit > 0 {
		m.pos.TimeLimit = m.now.Add(m.cfg.TimeLimit)
	}
	m.acct.OpenRisk = risk.PlannedRisk(m.cfg.Instrument, qty, avg, o.StopPrice)
	m.transition(Filled, reason)

	m.needProtect = true
	if err := m.protect(ctx); err != nil {
		m.transition(Managing, "protection pending")
		return m.onFault(ctx, Managing, err)
	}
	m.transition(Managing, "protected")
	return m.flushExit(ctx)
}

// protect places whichever protective legs are missing as one OCO group.
func (m *Machine) protect(ctx context.Context) error {
	p := m.pos
	legs := []struct {
		ref    *string
		typ    broker.OrderType
		price  float64
		suffix string
	}{
		{&p.StopRef, broker.Stop, p.StopPrice, "-stop"},
		{&p.TargetRef, broker.Limit, p.TargetPrice, "-target"},
	}
	for _, leg := range legs {
		if *leg.ref != "" {
			continue
		}
		ack, err := m.submit(ctx, broker.OrderRequest{
			ClientRef: m.clientRef + leg.suffix,
			Symbol:    m.cfg.Symbol,
			Side:      p.Direction.Opposite(),
			Type:      leg.typ,
			Qty:       p.Quantity - m.exitFilled,
			Price:     leg.price,
			OCOGroup:  m.clientRef,
		})
		if err != nil {
			return err
		}
		if !ack.Accepted {
			m.log.Warn("protective order rejected, flattening", "leg", leg.suffix, "reason", ack.Reason)
			m.pendingExit = &ExitIntent{Reason: "protection rejected", Type: broker.Market, At: m.now}
			break
		}
		*leg.ref = ack.Ref
	}
	m.needProtect = false
	return nil
}

func (m *Machine) submitExit(ctx context.Context, typ broker.OrderType, price float64) error {
	req := broker.OrderRequest{
		ClientRef: id.At(m.now),
		Symbol:    m.cfg.Symbol,
		Side:      m.pos.Direction.Opposite(),
		Type:      typ,
		Qty:       m.pos.Quantity - m.exitFilled,
	}
	if typ != broker.Market {
		req.Price = price
	}
	m.exitClientRef = req.ClientRef
	ack, err := m.submit(ctx, req)
	if err != nil {
		return m.onFault(ctx, Closing, err)
	}
	if !ack.Accepted {
		if typ != broker.Market {
			return m.submitExit(ctx, broker.Market, 0)
		}
		m.exitRetry = true
		return fmt.Errorf("%w: exit: %s", ErrRejected, ack.Reason)
	}
	m.exitRef = ack.Ref
	return nil
}

func (m *Machine) exitFill(f broker.Fill) error {
	if m.state == Managing {
		reason := "target hit"
		if f.Ref == m.pos.StopRef {
			reason = "stop hit"
		}
		m.exitReason = reason
		m.transition(Closing, reason)
	}
	m.exitFilled += f.Qty
	m.exitNotional += float64(f.Qty) * f.Price
	m.exitPnL = m.exitPnL.Add(m.cfg.Instrument.PnL(m.pos.Direction, f.Qty, m.pos.EntryFillPrice, f.Price))
	m.log.Info("exit fill", "ref", f.Ref, "qty", f.Qty, "price", f.Price, "exited", m.exitFilled)
	if m.exitFilled >= m.pos.Quantity {
		m.closePosition()
	}
	return nil
}

// closePosition books the round trip. It is the only place realized P&L
// reaches the account.
func (m *Machine) closePosition() {
	pnl := m.exitPnL
	m.acct.Equity = m.acct.Equity.Add(pnl)
	m.acct.RealizedPnLToday = m.acct.RealizedPnLToday.Add(pnl)
	m.acct.OpenRisk = decimal.Zero

	m.sink.TradeClosed(Trade{
		ID:         m.clientRef,
		SignalID:   m.pos.SignalID,
		Symbol:     m.cfg.Symbol,
		Direction:  m.pos.Direction,
		Quantity:   m.pos.Quantity,
		EntryPrice: m.pos.EntryFillPrice,
		ExitPrice:  m.cfg.Instrument.RoundToTick(m.exitNotional / float64(m.exitFilled)),
		OpenedAt:   m.pos.OpenedAt,
		ClosedAt:   m.now,
		PnL:        pnl,
		Reason:     m.exitReason,
	})
	m.log.Info("position closed", "pnl", pnl.StringFixed(2), "equity", m.acct.Equity.StringFixed(2),
		"realized_today", m.acct.RealizedPnLToday.StringFixed(2))
	m.transition(Closed, m.exitReason)
}

func (m *Machine) transition(to State, reason string) {
	tr := Transition{From: m.state, To: to, At: m.now, Reason: reason, OrderRef: m.entryRef}
	m.state = to
	m.log.Info("transition", "from", tr.From, "to", tr.To, "reason", reason, "ref", tr.OrderRef)
	m.sink.Transition(tr)
	if to.terminal() {
		m.release()
		m.transition(Idle, "slot released")
	}
}

// release forgets everything about the finished order.
func (m *Machine) release() {
	m.intent = nil
	m.clientRef, m.entryRef = "", ""
	m.entryFilled, m.entryNotional, m.barsWorking = 0, 0, 0
	m.pos = nil
	m.needProtect = false
	m.pendingExit = nil
	m.exitClientRef, m.exitRef, m.exitReason = "", "", ""
	m.exitRetry = false
	m.exitFilled, m.exitNotional = 0, 0
	m.exitPnL = decimal.Zero
	m.seen = make(map[string]struct{})
	m.deferred = nil
}

func (m *Machine) tick(t time.Time) {
	if t.After(m.now) {
		m.now = t
	}
}

func (m *Machine) submit(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	ack, err := m.b.Submit(ctx, req)
	return ack, broker.FromContext("submit", err)
}

func (m *Machine) cancel(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return broker.FromContext("cancel", m.b.Cancel(ctx, ref))
}

func (m *Machine) query(ctx context.Context, ref string) (broker.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	st, err := m.b.QueryStatus(ctx, ref)
	return st, broker.FromContext("status", err)
}
