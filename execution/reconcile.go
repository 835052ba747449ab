package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/smc/broker"
)

// onFault handles a failed broker call made from state resume. A dropped
// session waits for the reconnect; anything else reconciles straight away.
func (m *Machine) onFault(ctx context.Context, resume State, err error) error {
	m.enterReconcile(resume, err.Error())
	if f, ok := broker.AsFault(err); ok && f.Kind == broker.FaultDisconnected {
		m.awaitReconnect = true
		return nil
	}
	return m.Reconcile(ctx)
}

func (m *Machine) enterReconcile(resume State, reason string) {
	if m.state == Reconciling {
		return
	}
	m.resume = resume
	m.barsDown = 0
	m.transition(Reconciling, reason)
}

// Reconcile asks the broker for the truth about every order the machine
// owns and resumes from it. Nothing is changed until every query has been
// answered. When retries run out the machine returns to Idle and suspends
// trading until Resume is called.
func (m *Machine) Reconcile(ctx context.Context) error {
	if m.state != Reconciling {
		return nil
	}
	var err error
retry:
	for attempt := 1; attempt <= m.cfg.ReconcileRetries; attempt++ {
		if attempt > 1 && m.cfg.ReconcileBackoff > 0 {
			select {
			case <-ctx.Done():
				err = broker.FromContext("status", ctx.Err())
				break retry
			case <-time.After(m.cfg.ReconcileBackoff * time.Duration(attempt-1)):
			}
		}
		var sts []queried
		if sts, err = m.queryAll(ctx); err == nil {
			return m.resumeFrom(ctx, sts)
		}
		m.log.Warn("reconcile attempt failed", "attempt", attempt, "of", m.cfg.ReconcileRetries, "err", err)
	}
	m.giveUp(err)
	return fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
}

type leg int

const (
	legEntry leg = iota
	legStop
	legTarget
	legExit
)

type queried struct {
	leg   leg
	found bool
	st    broker.OrderStatus
}

type lookup struct {
	leg leg
	ref string
}

// lookups lists the orders to ask about for the state being resumed. Orders
// whose acknowledgment may have been lost are asked for by client ref.
func (m *Machine) lookups() []lookup {
	or := func(ref, client string) string {
		if ref != "" {
			return ref
		}
		return client
	}
	var ls []lookup
	switch m.resume {
	case PendingSubmit, Working:
		ls = append(ls, lookup{legEntry, or(m.entryRef, m.clientRef)})
	case Managing, Closing:
		ls = append(ls,
			lookup{legStop, or(m.pos.StopRef, m.clientRef+"-stop")},
			lookup{legTarget, or(m.pos.TargetRef, m.clientRef+"-target")},
		)
		if m.resume == Closing && (m.exitRef != "" || m.exitClientRef != "") {
			ls = append(ls, lookup{legExit, or(m.exitRef, m.exitClientRef)})
		}
	}
	return ls
}

func (m *Machine) queryAll(ctx context.Context) ([]queried, error) {
	var out []queried
	for _, l := range m.lookups() {
		st, err := m.query(ctx, l.ref)
		if err != nil {
			if f, ok := broker.AsFault(err); ok && f.Kind == broker.FaultUnknownOrder {
				out = append(out, queried{leg: l.leg})
				continue
			}
			return nil, err
		}
		out = append(out, queried{leg: l.leg, found: true, st: st})
	}
	return out, nil
}

func (m *Machine) resumeFrom(ctx context.Context, sts []queried) error {
	m.awaitReconnect = false
	m.barsDown = 0

	switch m.resume {
	case PendingSubmit, Working:
		q := sts[0]
		if !q.found {
			if m.resume == Working {
				err := fmt.Errorf("broker has no record of order %s", m.entryRef)
				m.giveUp(err)
				return fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
			}
			m.transition(Cancelled, "submission never reached the broker")
			return nil
		}
		m.entryRef = q.st.Ref
		if q.st.State == broker.Rejected && m.entryFilled == 0 {
			m.transition(Rejected, q.st.Reason)
			return nil
		}
		m.transition(Working, "reconciled")
		if err := m.applyStatus(ctx, q.st); err != nil {
			return err
		}

	case Managing, Closing:
		m.transition(m.resume, "reconciled")
		for _, q := range sts {
			if !q.found {
				if q.leg == legStop || q.leg == legTarget {
					m.needProtect = m.resume == Managing
				}
				if q.leg == legExit {
					m.exitRetry = true
				}
				continue
			}
			switch q.leg {
			case legStop:
				m.pos.StopRef = q.st.Ref
			case legTarget:
				m.pos.TargetRef = q.st.Ref
			case legExit:
				m.exitRef = q.st.Ref
			}
		}
		for _, q := range sts {
			if !q.found || m.pos == nil {
				continue
			}
			if err := m.applyStatus(ctx, q.st); err != nil {
				return err
			}
		}
	}

	deferred := m.deferred
	m.deferred = nil
	for _, f := range deferred {
		if err := m.applyFill(ctx, f); err != nil {
			return err
		}
	}

	if m.state == Managing && m.needProtect {
		if err := m.protect(ctx); err != nil {
			return m.onFault(ctx, Managing, err)
		}
	}
	return m.flushExit(ctx)
}

// giveUp abandons the order after reconciliation failed. Whatever the
// broker holds is logged for the operator; the machine does not guess.
func (m *Machine) giveUp(err error) {
	args := []any{"err", err, "resume", m.resume, "client_ref", m.clientRef, "entry_ref", m.entryRef}
	if m.pos != nil {
		args = append(args, "position_qty", m.pos.Quantity, "position_dir", m.pos.Direction.String(),
			"stop_ref", m.pos.StopRef, "target_ref", m.pos.TargetRef)
	}
	m.log.Error("broker unreachable, trading suspended", args...)
	m.suspended = true
	m.awaitReconnect = false
	m.release()
	m.transition(Idle, "broker unreachable")
}

// Resume lifts a suspension once the operator has checked the broker.
func (m *Machine) Resume() error {
	if m.state != Idle {
		return ErrNotIdle
	}
	if m.suspended {
		m.log.Info("trading resumed")
	}
	m.suspended = false
	return nil
}

// Halt blocks new entries until the next rollover. Halting twice is a no-op.
func (m *Machine) Halt(reason string) {
	if m.halted {
		return
	}
	m.halted = true
	m.log.Warn("trading halted", "reason", reason,
		"realized_today", m.acct.RealizedPnLToday.StringFixed(2))
}

func (m *Machine) Halted() bool { return m.halted }

// Rollover starts a new trading day at boundary. It only happens while Idle
// and only once per boundary, so calling it again changes nothing.
func (m *Machine) Rollover(boundary time.Time) bool {
	if m.state != Idle || !boundary.After(m.lastRollover) {
		return false
	}
	m.lastRollover = boundary
	m.acct.RealizedPnLToday = decimal.Zero
	m.acct.StartEquity = m.acct.Equity
	m.log.Info("session rollover", "at", boundary, "equity", m.acct.Equity.StringFixed(2), "was_halted", m.halted)
	m.halted = false
	return true
}
