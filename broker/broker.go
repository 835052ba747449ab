package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/smc/market"
)

// Broker is the execution venue. Submit, Cancel and QueryStatus may block
// and must honor ctx; asynchronous fills and connection changes arrive on
// Events, FIFO per order reference.
type Broker interface {
	Submit(ctx context.Context, req OrderRequest) (Ack, error)
	Cancel(ctx context.Context, ref string) error
	QueryStatus(ctx context.Context, ref string) (OrderStatus, error)
	Events() <-chan Event
}

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	Stop   OrderType = "STOP"
)

type OrderState string

const (
	Working         OrderState = "WORKING"
	PartiallyFilled OrderState = "PARTIALLY_FILLED"
	Filled          OrderState = "FILLED"
	Cancelled       OrderState = "CANCELLED"
	Rejected        OrderState = "REJECTED"
)

// Terminal reports whether no further fills can arrive.
func (s OrderState) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

type OrderRequest struct {
	ClientRef string           `json:"client_ref"` // caller assigned, unique per order
	Symbol    string           `json:"symbol"`
	Side      market.Direction `json:"side"` // bullish buys, bearish sells
	Type      OrderType        `json:"type"`
	Qty       int              `json:"qty"`
	Price     float64          `json:"price,omitempty"`     // limit price or stop trigger
	OCOGroup  string           `json:"oco_group,omitempty"` // a fill cancels the rest of the group
}

func (r OrderRequest) Validate() error {
	switch {
	case r.ClientRef == "":
		return errors.New("client ref required")
	case r.Side == market.Neutral:
		return errors.New("side required")
	case r.Qty < 1:
		return fmt.Errorf("qty %d must be positive", r.Qty)
	case r.Type != Market && r.Price <= 0:
		return fmt.Errorf("%s order needs a price", r.Type)
	case r.Type != Market && r.Type != Limit && r.Type != Stop:
		return fmt.Errorf("unknown order type %q", r.Type)
	}
	return nil
}

// Ack answers a submission. A rejection is Accepted=false with a Reason, not
// an error.
type Ack struct {
	Ref      string    `json:"ref"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type Fill struct {
	ID    string    `json:"id"` // broker assigned, unique
	Ref   string    `json:"ref"`
	Qty   int       `json:"qty"`
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

type OrderStatus struct {
	Ref       string     `json:"ref"`
	ClientRef string     `json:"client_ref"`
	State     OrderState `json:"state"`
	Qty       int        `json:"qty"`
	FilledQty int        `json:"filled_qty"`
	AvgPrice  float64    `json:"avg_price"`
	Fills     []Fill     `json:"fills,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type EventKind string

const (
	EventFill       EventKind = "fill"
	EventStatus     EventKind = "status"
	EventDisconnect EventKind = "disconnect"
	EventReconnect  EventKind = "reconnect"
)

type Event struct {
	Kind   EventKind    `json:"kind"`
	Ref    string       `json:"ref,omitempty"`
	Fill   *Fill        `json:"fill,omitempty"`
	Status *OrderStatus `json:"status,omitempty"`
	At     time.Time    `json:"at"`
}

type FaultKind string

const (
	FaultTimeout      FaultKind = "timeout"
	FaultRejected     FaultKind = "rejected"
	FaultDisconnected FaultKind = "disconnected"
	FaultUnknownOrder FaultKind = "unknown_order"
)

// Fault is a broker communication failure.
type Fault struct {
	Op   string
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("broker %s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("broker %s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// FromContext converts a context error into a timeout fault.
func FromContext(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Fault{Op: op, Kind: FaultTimeout, Err: err}
	}
	return err
}
