package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/rustyeddy/smc/market"
)

// AMQP consumes JSON bars from a RabbitMQ queue. Each delivery is acked once
// decoded; malformed messages are rejected without requeue.
type AMQP struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
	msgs <-chan amqp091.Delivery
	log  *slog.Logger
}

// DialAMQP connects, declares the durable queue and starts consuming with
// manual acks. The dial is retried attempts times, two seconds apart.
func DialAMQP(uri, queue string, attempts int, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var conn *amqp091.Connection
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if conn, err = amqp091.Dial(uri); err == nil {
			break
		}
		logger.Warn("amqp dial failed", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(64, 0, false); err != nil {
		logger.Warn("amqp qos", "err", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume %q: %w", queue, err)
	}

	a := newAMQP(msgs, logger)
	a.conn, a.ch = conn, ch
	return a, nil
}

func newAMQP(msgs <-chan amqp091.Delivery, logger *slog.Logger) *AMQP {
	return &AMQP{msgs: msgs, log: logger.With("component", "feed.amqp")}
}

func (a *AMQP) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return market.Bar{}, false, ctx.Err()
		case d, ok := <-a.msgs:
			if !ok {
				return market.Bar{}, false, nil
			}
			b, err := DecodeBar(d.Body)
			if err != nil {
				a.log.Warn("dropping bar message", "err", err, "tag", d.DeliveryTag)
				_ = d.Reject(false)
				continue
			}
			if err := d.Ack(false); err != nil {
				return market.Bar{}, false, fmt.Errorf("ack bar: %w", err)
			}
			return b, true, nil
		}
	}
}

// Bars pumps the queue into a channel until ctx ends or the queue closes.
func (a *AMQP) Bars(ctx context.Context) <-chan market.Bar {
	out := make(chan market.Bar)
	go func() {
		defer close(out)
		for {
			b, ok, err := a.Next(ctx)
			if err != nil || !ok {
				if err != nil && ctx.Err() == nil {
					a.log.Error("bar stream ended", "err", err)
				}
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (a *AMQP) Close() error {
	if a.ch != nil {
		a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// Publisher sends bars to the queue a feed.AMQP reads. Used to bridge a
// vendor stream onto the bus.
type Publisher struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	queue  string
	symbol string
}

func NewPublisher(uri, queue, symbol string) (*Publisher, error) {
	conn, err := amqp091.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queue, symbol: symbol}, nil
}

func (p *Publisher) Publish(ctx context.Context, b market.Bar) error {
	body, err := EncodeBar(p.symbol, b)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    b.CloseTime(),
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}
