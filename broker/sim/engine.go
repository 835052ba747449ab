// Package sim is a simulated futures broker. Orders rest until a bar trades
// through them; fills and status changes are pushed on the event channel.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/id"
	"github.com/rustyeddy/smc/market"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderClosed   = errors.New("order already closed")
)

type Options struct {
	Instrument    market.Instrument
	Slippage      float64 // points against market and stop fills
	MaxFillPerBar int     // contracts per order per bar, 0 fills in full
	EventBuffer   int
}

type failure struct {
	op   string // "" matches any operation
	kind broker.FaultKind
}

type Engine struct {
	mu       sync.Mutex
	opts     Options
	orders   map[string]*order
	byClient map[string]string
	seq      []string // refs in submission order

	events  chan broker.Event
	backlog []broker.Event // events waiting for room in the channel
	held    []broker.Event // events produced while disconnected

	connected bool
	failures  []failure
	loseAck   bool
	rejectMsg string

	now      time.Time
	position int
	avgPrice float64
	realized float64
}

func NewEngine(opts Options) *Engine {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Engine{
		opts:      opts,
		orders:    make(map[string]*order),
		byClient:  make(map[string]string),
		events:    make(chan broker.Event, opts.EventBuffer),
		connected: true,
	}
}

func (e *Engine) Events() <-chan broker.Event { return e.events }

func (e *Engine) Submit(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	if err := ctx.Err(); err != nil {
		return broker.Ack{}, broker.FromContext("submit", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()

	if err := e.failLocked("submit"); err != nil {
		return broker.Ack{}, err
	}
	if ref, dup := e.byClient[req.ClientRef]; dup && req.ClientRef != "" {
		// Idempotent on client ref: the original ack stands.
		return broker.Ack{Ref: ref, Accepted: true, At: e.orders[ref].placedAt}, nil
	}

	ack := broker.Ack{Ref: id.At(e.clock()), At: e.clock()}
	o := &order{ref: ack.Ref, req: req, placedAt: ack.At}

	switch err := req.Validate(); {
	case err != nil:
		o.state, o.reason = broker.Rejected, err.Error()
	case e.rejectMsg != "":
		o.state, o.reason = broker.Rejected, e.rejectMsg
		e.rejectMsg = ""
	case e.opts.Instrument.Symbol != "" && req.Symbol != e.opts.Instrument.Symbol:
		o.state, o.reason = broker.Rejected, fmt.Sprintf("unknown symbol %q", req.Symbol)
	default:
		o.state = broker.Working
		ack.Accepted = true
	}
	ack.Reason = o.reason

	e.orders[o.ref] = o
	e.byClient[req.ClientRef] = o.ref
	e.seq = append(e.seq, o.ref)

	if e.loseAck {
		e.loseAck = false
		return broker.Ack{}, &broker.Fault{Op: "submit", Kind: broker.FaultTimeout,
			Err: errors.New("ack lost")}
	}
	return ack, nil
}

func (e *Engine) Cancel(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return broker.FromContext("cancel", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()

	if err := e.failLocked("cancel"); err != nil {
		return err
	}
	o, ok := e.lookupLocked(ref)
	if !ok {
		return &broker.Fault{Op: "cancel", Kind: broker.FaultUnknownOrder, Err: fmt.Errorf("%w: %q", ErrOrderNotFound, ref)}
	}
	if o.state.Terminal() {
		return &broker.Fault{Op: "cancel", Kind: broker.FaultRejected, Err: fmt.Errorf("%w: %s", ErrOrderClosed, o.state)}
	}
	e.cancelLocked(o, "cancelled by client")
	return nil
}

func (e *Engine) QueryStatus(ctx context.Context, ref string) (broker.OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderStatus{}, broker.FromContext("status", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()

	if err := e.failLocked("status"); err != nil {
		return broker.OrderStatus{}, err
	}
	o, ok := e.lookupLocked(ref)
	if !ok {
		return broker.OrderStatus{}, &broker.Fault{Op: "status", Kind: broker.FaultUnknownOrder,
			Err: fmt.Errorf("%w: %q", ErrOrderNotFound, ref)}
	}
	return o.status(), nil
}

// OnBar trades every working order against a closed bar. Orders only trade
// on bars that open at or after they were placed.
func (e *Engine) OnBar(bar market.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()

	working := make([]*order, 0)
	for _, ref := range e.seq {
		o := e.orders[ref]
		if !o.state.Terminal() && !bar.Time.Before(o.placedAt) {
			working = append(working, o)
		}
	}
	sort.SliceStable(working, func(i, j int) bool { return working[i].priority() < working[j].priority() })

	for _, o := range working {
		if o.state.Terminal() {
			continue // cancelled by an OCO sibling earlier in this bar
		}
		price, ok := o.fillPrice(bar, e.opts.Slippage)
		if !ok {
			continue
		}
		qty := o.remaining()
		if n := e.opts.MaxFillPerBar; n > 0 && qty > n {
			qty = n
		}
		e.fillLocked(o, qty, e.opts.Instrument.RoundToTick(price), bar.CloseTime())
	}

	e.now = bar.CloseTime()
	e.seq = e.pruneLocked()
}

func (e *Engine) fillLocked(o *order, qty int, price float64, at time.Time) {
	f := broker.Fill{ID: id.At(at), Ref: o.ref, Qty: qty, Price: price, At: at}
	o.fills = append(o.fills, f)
	o.filled += qty
	o.notional += float64(qty) * price
	o.state = broker.PartiallyFilled
	if o.remaining() == 0 {
		o.state = broker.Filled
	}
	e.book(o.req.Side, qty, price)

	e.emitLocked(broker.Event{Kind: broker.EventFill, Ref: o.ref, Fill: &f, At: at})
	st := o.status()
	e.emitLocked(broker.Event{Kind: broker.EventStatus, Ref: o.ref, Status: &st, At: at})

	if o.state == broker.Filled && o.req.OCOGroup != "" {
		for _, ref := range e.seq {
			sib := e.orders[ref]
			if sib != o && sib.req.OCOGroup == o.req.OCOGroup && !sib.state.Terminal() {
				e.cancelLocked(sib, "oco")
			}
		}
	}
}

// book nets a fill into the simulated position.
func (e *Engine) book(side market.Direction, qty int, price float64) {
	signed := int(side) * qty
	switch {
	case e.position == 0 || (e.position > 0) == (signed > 0):
		total := e.avgPrice*float64(abs(e.position)) + price*float64(qty)
		e.position += signed
		e.avgPrice = total / float64(abs(e.position))
	default:
		closing := min(qty, abs(e.position))
		dir := 1.0
		if e.position < 0 {
			dir = -1
		}
		e.realized += dir * (price - e.avgPrice) * float64(closing) * e.opts.Instrument.PointValue
		e.position += signed
		switch {
		case e.position == 0:
			e.avgPrice = 0
		case (e.position > 0) == (signed > 0):
			e.avgPrice = price // flipped through flat
		}
	}
}

func (e *Engine) cancelLocked(o *order, reason string) {
	o.state, o.reason = broker.Cancelled, reason
	st := o.status()
	e.emitLocked(broker.Event{Kind: broker.EventStatus, Ref: o.ref, Status: &st, At: e.clock()})
}

func (e *Engine) lookupLocked(ref string) (*order, bool) {
	if o, ok := e.orders[ref]; ok {
		return o, true
	}
	if r, ok := e.byClient[ref]; ok {
		return e.orders[r], true
	}
	return nil, false
}

// pruneLocked keeps terminal orders queryable but drops them from the
// working sequence.
func (e *Engine) pruneLocked() []string {
	kept := e.seq[:0]
	for _, ref := range e.seq {
		if !e.orders[ref].state.Terminal() {
			kept = append(kept, ref)
		}
	}
	return kept
}

func (e *Engine) clock() time.Time {
	if e.now.IsZero() {
		return time.Now().UTC()
	}
	return e.now
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
