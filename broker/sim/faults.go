package sim

import (
	"errors"

	"github.com/rustyeddy/smc/broker"
)

// Disconnect drops the session. Calls fail with a disconnected fault; the
// simulated exchange keeps trading and holds its events until Reconnect.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return
	}
	e.connected = false
	e.sendLocked(broker.Event{Kind: broker.EventDisconnect, At: e.clock()})
}

// Reconnect restores the session, announces it and replays held events.
func (e *Engine) Reconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return
	}
	e.connected = true
	e.sendLocked(broker.Event{Kind: broker.EventReconnect, At: e.clock()})
	held := e.held
	e.held = nil
	for _, ev := range held {
		e.sendLocked(ev)
	}
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// FailNext makes the next n calls of op ("submit", "cancel", "status", or ""
// for any) fail with kind.
func (e *Engine) FailNext(op string, kind broker.FaultKind, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < n; i++ {
		e.failures = append(e.failures, failure{op: op, kind: kind})
	}
}

// LoseNextAck accepts the next submission but reports a timeout to the
// caller, as if the acknowledgment never arrived.
func (e *Engine) LoseNextAck() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loseAck = true
}

// RejectNext rejects the next submission with reason.
func (e *Engine) RejectNext(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectMsg = reason
}

// Position returns the simulated net position and its average price.
func (e *Engine) Position() (qty int, avg float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position, e.avgPrice
}

// Realized is the cash result of closed position legs.
func (e *Engine) Realized() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realized
}

func (e *Engine) failLocked(op string) error {
	if !e.connected {
		return &broker.Fault{Op: op, Kind: broker.FaultDisconnected, Err: errors.New("session down")}
	}
	for i, f := range e.failures {
		if f.op == "" || f.op == op {
			e.failures = append(e.failures[:i], e.failures[i+1:]...)
			return &broker.Fault{Op: op, Kind: f.kind, Err: errors.New("injected")}
		}
	}
	return nil
}

func (e *Engine) emitLocked(ev broker.Event) {
	if !e.connected {
		e.held = append(e.held, ev)
		return
	}
	e.sendLocked(ev)
}

// sendLocked never blocks: overflow waits in the backlog until the next call.
func (e *Engine) sendLocked(ev broker.Event) {
	if len(e.backlog) == 0 {
		select {
		case e.events <- ev:
			return
		default:
		}
	}
	e.backlog = append(e.backlog, ev)
}

func (e *Engine) flushLocked() {
	for len(e.backlog) > 0 {
		select {
		case e.events <- e.backlog[0]:
			e.backlog = e.backlog[1:]
		default:
			return
		}
	}
}
