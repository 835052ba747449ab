package sim

import (
	"time"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/market"
)

type order struct {
	ref      string
	req      broker.OrderRequest
	state    broker.OrderState
	filled   int
	notional float64 // sum of qty*price over fills
	fills    []broker.Fill
	placedAt time.Time
	reason   string
}

func (o *order) remaining() int { return o.req.Qty - o.filled }

func (o *order) status() broker.OrderStatus {
	st := broker.OrderStatus{
		Ref:       o.ref,
		ClientRef: o.req.ClientRef,
		State:     o.state,
		Qty:       o.req.Qty,
		FilledQty: o.filled,
		Fills:     append([]broker.Fill(nil), o.fills...),
		Reason:    o.reason,
	}
	if o.filled > 0 {
		st.AvgPrice = o.notional / float64(o.filled)
	}
	return st
}

// fillPrice returns where o trades during bar, if it trades at all. Gaps
// through a resting price fill at the open.
func (o *order) fillPrice(bar market.Bar, slippage float64) (float64, bool) {
	buy := o.req.Side == market.Bullish
	p := o.req.Price
	switch o.req.Type {
	case broker.Market:
		if buy {
			return bar.Open + slippage, true
		}
		return bar.Open - slippage, true
	case broker.Limit:
		if buy && bar.Low <= p {
			return min(p, bar.Open), true
		}
		if !buy && bar.High >= p {
			return max(p, bar.Open), true
		}
	case broker.Stop:
		if buy && bar.High >= p {
			return max(p, bar.Open) + slippage, true
		}
		if !buy && bar.Low <= p {
			return min(p, bar.Open) - slippage, true
		}
	}
	return 0, false
}

// priority orders fills inside one bar: market first, then stops before
// limits so a bar touching both legs of a bracket stops out.
func (o *order) priority() int {
	switch o.req.Type {
	case broker.Market:
		return 0
	case broker.Stop:
		return 1
	default:
		return 2
	}
}
