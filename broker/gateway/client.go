package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/smc/broker"
)

type Options struct {
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	EventBuffer    int
	Header         http.Header
	Logger         *slog.Logger
}

func (o *Options) defaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 250 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client is a broker.Broker backed by a websocket session. A dropped session
// is announced as a disconnect event and redialed with exponential backoff;
// requests made while it is down fail fast with a disconnected fault.
type Client struct {
	url    string
	opts   Options
	log    *slog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan response
	nextID  uint64

	writeMu sync.Mutex

	// Events queue here and are handed to the consumer by dispatch, so the
	// read loop never waits on a slow consumer and responses keep flowing.
	qmu       sync.Mutex
	queue     []broker.Event
	wake      chan struct{}
	events    chan broker.Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ broker.Broker = (*Client)(nil)

// Dial connects to url. The first connection must succeed; later drops are
// recovered in the background until Close.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts.defaults()
	c := &Client{
		url:     url,
		opts:    opts,
		log:     opts.Logger.With("component", "gateway", "url", url),
		dialer:  websocket.DefaultDialer,
		pending: make(map[uint64]chan response),
		wake:    make(chan struct{}, 1),
		events:  make(chan broker.Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	conn, _, err := c.dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, &broker.Fault{Op: "dial", Kind: broker.FaultDisconnected, Err: err}
	}
	c.conn = conn
	go c.dispatch()
	go c.readLoop(conn)
	c.log.Info("gateway connected")
	return c, nil
}

func (c *Client) Events() <-chan broker.Event { return c.events }

func (c *Client) Submit(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	resp, err := c.call(ctx, request{Op: opSubmit, Order: &req})
	if err != nil {
		return broker.Ack{}, err
	}
	if resp.Ack == nil {
		return broker.Ack{}, &broker.Fault{Op: opSubmit, Kind: broker.FaultRejected, Err: errors.New("empty ack")}
	}
	return *resp.Ack, nil
}

func (c *Client) Cancel(ctx context.Context, ref string) error {
	_, err := c.call(ctx, request{Op: opCancel, Ref: ref})
	return err
}

func (c *Client) QueryStatus(ctx context.Context, ref string) (broker.OrderStatus, error) {
	resp, err := c.call(ctx, request{Op: opStatus, Ref: ref})
	if err != nil {
		return broker.OrderStatus{}, err
	}
	if resp.Status == nil {
		return broker.OrderStatus{}, &broker.Fault{Op: opStatus, Kind: broker.FaultUnknownOrder, Err: errors.New("empty status")}
	}
	return *resp.Status, nil
}

// Connected reports whether a session is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return response{}, &broker.Fault{Op: req.Op, Kind: broker.FaultDisconnected, Err: errors.New("no session")}
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return response{}, &broker.Fault{Op: req.Op, Kind: broker.FaultDisconnected, Err: err}
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, resp.Error.fault(req.Op)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return response{}, broker.FromContext(req.Op, ctx.Err())
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		var msg response
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("gateway: bad message", "err", err)
			continue
		}
		if msg.Event != nil {
			c.emit(*msg.Event)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// lost tears down conn, fails its in-flight requests and starts redialing.
func (c *Client) lost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for id, ch := range c.pending {
		ch <- response{ID: id, Error: &wireError{Kind: broker.FaultDisconnected, Msg: err.Error()}}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = conn.Close()

	select {
	case <-c.done:
		return
	default:
	}
	c.log.Warn("gateway disconnected", "err", err)
	c.emit(broker.Event{Kind: broker.EventDisconnect, At: time.Now().UTC()})
	go c.reconnect()
}

func (c *Client) reconnect() {
	wait := c.opts.ReconnectMin
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.opts.Header)
		cancel()
		if err != nil {
			c.log.Debug("gateway redial failed", "attempt", attempt, "err", err)
			wait *= 2
			if wait > c.opts.ReconnectMax {
				wait = c.opts.ReconnectMax
			}
			continue
		}

		c.mu.Lock()
		select {
		case <-c.done:
			c.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		c.conn = conn
		c.mu.Unlock()

		go c.readLoop(conn)
		c.log.Info("gateway reconnected", "attempt", attempt)
		c.emit(broker.Event{Kind: broker.EventReconnect, At: time.Now().UTC()})
		return
	}
}

func (c *Client) emit(ev broker.Event) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued events in order until Close.
func (c *Client) dispatch() {
	for {
		c.qmu.Lock()
		batch := c.queue
		c.queue = nil
		c.qmu.Unlock()

		for _, ev := range batch {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
	}
}
