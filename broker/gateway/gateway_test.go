package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/broker/sim"
	"github.com/rustyeddy/smc/market"
)

var t0 = time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{Timeframe: market.M1, Time: t0.Add(time.Duration(i) * time.Minute),
		Open: o, High: h, Low: l, Close: c, Volume: 1}
}

type fixture struct {
	engine *sim.Engine
	server *Server
	client *Client
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupBuffered(t, 0)
}

func setupBuffered(t *testing.T, events int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := sim.NewEngine(sim.Options{Instrument: market.MNQ})
	engine.OnBar(bar(0, 20000, 20002, 19998, 20000))

	server := NewServer(engine, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go server.Run(ctx)
	ts := httptest.NewServer(server)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	client, err := Dial(context.Background(), url, Options{
		RequestTimeout: time.Second,
		ReconnectMin:   10 * time.Millisecond,
		ReconnectMax:   50 * time.Millisecond,
		EventBuffer:    events,
		Logger:         logger,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		ts.Close()
	})
	return &fixture{engine: engine, server: server, client: client}
}

func next(t *testing.T, c *Client) broker.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return broker.Event{}
	}
}

func order(ref string) broker.OrderRequest {
	return broker.OrderRequest{ClientRef: ref, Symbol: "MNQ", Side: market.Bullish, Type: broker.Market, Qty: 1}
}

func TestRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ack, err := f.client.Submit(ctx, order("c1"))
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	f.engine.OnBar(bar(1, 20001, 20003, 20000, 20002))

	ev := next(t, f.client)
	require.Equal(t, broker.EventFill, ev.Kind)
	assert.Equal(t, ack.Ref, ev.Ref)
	assert.Equal(t, 20001.0, ev.Fill.Price)
	ev = next(t, f.client)
	require.Equal(t, broker.EventStatus, ev.Kind)
	assert.Equal(t, broker.Filled, ev.Status.State)

	st, err := f.client.QueryStatus(ctx, ack.Ref)
	require.NoError(t, err)
	assert.Equal(t, broker.Filled, st.State)
	assert.Equal(t, 1, st.FilledQty)
}

func TestResponsesDoNotWaitOnUnreadEvents(t *testing.T) {
	f := setupBuffered(t, 1)
	ctx := context.Background()

	var refs []string
	for _, ref := range []string{"c1", "c2", "c3"} {
		ack, err := f.client.Submit(ctx, order(ref))
		require.NoError(t, err)
		refs = append(refs, ack.Ref)
	}
	f.engine.OnBar(bar(1, 20001, 20003, 20000, 20002))

	// Fill and status events against a buffer of one, none read yet.
	require.Eventually(t, func() bool { return len(f.client.Events()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	st, err := f.client.QueryStatus(ctx, refs[2])
	require.NoError(t, err)
	assert.Equal(t, broker.Filled, st.State)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Nothing was dropped while the consumer was away.
	for fills := 0; fills < 3; {
		if next(t, f.client).Kind == broker.EventFill {
			fills++
		}
	}
}

func TestFaultsCrossTheWire(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.client.QueryStatus(ctx, "missing")
	fault, ok := broker.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, broker.FaultUnknownOrder, fault.Kind)
	assert.Equal(t, "status", fault.Op)

	ack, err := f.client.Submit(ctx, broker.OrderRequest{ClientRef: "c2", Symbol: "MNQ", Side: market.Bullish, Type: broker.Limit, Qty: 1})
	require.NoError(t, err)
	assert.False(t, ack.Accepted)

	err = f.client.Cancel(ctx, ack.Ref)
	fault, ok = broker.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, broker.FaultRejected, fault.Kind)
}

func TestReconnectAfterDrop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ack, err := f.client.Submit(ctx, order("c1"))
	require.NoError(t, err)

	f.server.CloseSessions()
	assert.Equal(t, broker.EventDisconnect, next(t, f.client).Kind)
	assert.Equal(t, broker.EventReconnect, next(t, f.client).Kind)
	assert.True(t, f.client.Connected())

	st, err := f.client.QueryStatus(ctx, ack.Ref)
	require.NoError(t, err)
	assert.Equal(t, broker.Working, st.State)
}

func TestClosedClientFailsFast(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.client.Close())

	_, err := f.client.Submit(context.Background(), order("c1"))
	fault, ok := broker.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, broker.FaultDisconnected, fault.Kind)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
