package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Log mirrors every record to a structured logger.
type Log struct {
	log *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{log: logger.With("component", "journal")}
}

func (l *Log) RecordTrade(t TradeRecord) error {
	l.log.Info("trade closed", "trade_id", t.TradeID, "side", t.Side, "qty", t.Quantity,
		"entry", t.EntryPrice, "exit", t.ExitPrice, "pl", t.RealizedPL, "reason", t.Reason)
	return nil
}

func (l *Log) RecordEquity(e EquitySnapshot) error {
	l.log.Debug("equity", "time", e.Time, "equity", e.Equity, "realized_today", e.RealizedToday, "open_risk", e.OpenRisk)
	return nil
}

func (l *Log) RecordEvent(e Event) error {
	args := []any{"kind", e.Kind, "time", e.Time}
	if e.Timeframe != "" {
		args = append(args, "tf", e.Timeframe)
	}
	if e.Ref != "" {
		args = append(args, "ref", e.Ref)
	}
	for k, v := range e.Fields {
		args = append(args, k, v)
	}
	level := slog.LevelInfo
	if e.Kind == KindFault {
		level = slog.LevelWarn
	}
	l.log.Log(context.Background(), level, e.Message, args...)
	return nil
}

func (l *Log) Close() error { return nil }

// publisher is the part of *amqp091.Channel the AMQP journal uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQP publishes records as JSON to a topic exchange with routing keys
// "<prefix>.trade", "<prefix>.equity" and "<prefix>.event.<kind>".
type AMQP struct {
	conn     *amqp091.Connection
	ch       publisher
	exchange string
	prefix   string
	timeout  time.Duration
}

func NewAMQP(uri, exchange, prefix string) (*AMQP, error) {
	conn, err := amqp091.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	j := newAMQP(ch, exchange, prefix)
	j.conn = conn
	return j, nil
}

func newAMQP(ch publisher, exchange, prefix string) *AMQP {
	if prefix == "" {
		prefix = "smc"
	}
	return &AMQP{ch: ch, exchange: exchange, prefix: prefix, timeout: 5 * time.Second}
}

func (j *AMQP) publish(key string, v any, at time.Time) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.ch.PublishWithContext(ctx, j.exchange, j.prefix+"."+key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    at,
		Body:         body,
	})
}

func (j *AMQP) RecordTrade(t TradeRecord) error { return j.publish("trade", t, t.CloseTime) }

func (j *AMQP) RecordEquity(e EquitySnapshot) error { return j.publish("equity", e, e.Time) }

func (j *AMQP) RecordEvent(e Event) error { return j.publish("event."+string(e.Kind), e, e.Time) }

func (j *AMQP) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}

// streamAdder is the part of *redis.Client the Redis journal uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Redis appends records to a capped stream. Each entry has a "type" field
// (trade, equity, event) and the JSON record under "data".
type Redis struct {
	client  streamAdder
	closer  func() error
	stream  string
	maxLen  int64
	timeout time.Duration
}

func NewRedis(addr, stream string, maxLen int64) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	j := newRedis(client, stream, maxLen)
	j.closer = client.Close
	return j, nil
}

func newRedis(client streamAdder, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = "smc:audit"
	}
	return &Redis{client: client, stream: stream, maxLen: maxLen, timeout: 5 * time.Second}
}

func (j *Redis) add(typ string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.client.XAdd(ctx, &redis.XAddArgs{
		Stream: j.stream,
		MaxLen: j.maxLen,
		Approx: j.maxLen > 0,
		Values: map[string]any{"type": typ, "data": string(body)},
	}).Err()
}

func (j *Redis) RecordTrade(t TradeRecord) error { return j.add("trade", t) }

func (j *Redis) RecordEquity(e EquitySnapshot) error { return j.add("equity", e) }

func (j *Redis) RecordEvent(e Event) error { return j.add("event", e) }

func (j *Redis) Close() error {
	if j.closer != nil {
		return j.closer()
	}
	return nil
}

// Multi fans every record out to all journals and joins their errors.
type Multi []Journal

func (m Multi) RecordTrade(t TradeRecord) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordTrade(t))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordEquity(e EquitySnapshot) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordEquity(e))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordEvent(e Event) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordEvent(e))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
