package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rustyeddy/smc/broker"
	"github.com/rustyeddy/smc/broker/gateway"
	"github.com/rustyeddy/smc/broker/sim"
	"github.com/rustyeddy/smc/config"
	"github.com/rustyeddy/smc/journal"
)

// openJournal builds the configured store plus the log mirror and any bus
// sinks. The SQLite store is returned separately for run summaries.
func openJournal(cfg *config.Config, logger *slog.Logger) (journal.Journal, *journal.SQLite, error) {
	jc := cfg.Journal
	sinks := journal.Multi{journal.NewLog(logger)}
	var db *journal.SQLite

	switch jc.Type {
	case "sqlite":
		j, err := journal.NewSQLite(jc.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		db = j
		sinks = append(sinks, j)
	case "csv":
		j, err := journal.NewCSV(jc.TradesFile, jc.EquityFile, jc.EventsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open csv journal: %w", err)
		}
		sinks = append(sinks, j)
	}

	if jc.AMQPURI != "" {
		j, err := journal.NewAMQP(jc.AMQPURI, jc.Exchange, "smc."+cfg.Instrument.Symbol)
		if err != nil {
			sinks.Close()
			return nil, nil, fmt.Errorf("open amqp journal: %w", err)
		}
		sinks = append(sinks, j)
	}
	if jc.RedisAddr != "" {
		j, err := journal.NewRedis(jc.RedisAddr, jc.RedisStream, 100_000)
		if err != nil {
			sinks.Close()
			return nil, nil, fmt.Errorf("open redis journal: %w", err)
		}
		sinks = append(sinks, j)
	}
	return sinks, db, nil
}

// openBroker returns the configured venue and a function that releases it.
func openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker.Broker, func(), error) {
	bc := cfg.Broker
	switch bc.Type {
	case "gateway":
		c, err := gateway.Dial(ctx, bc.URL, gateway.Options{
			RequestTimeout: cfg.Execution.RequestTimeout.D(),
			ReconnectMin:   bc.ReconnectMin.D(),
			ReconnectMax:   bc.ReconnectMax.D(),
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	default:
		return newSim(cfg), func() {}, nil
	}
}

func newSim(cfg *config.Config) *sim.Engine {
	return sim.NewEngine(sim.Options{
		Instrument:    cfg.Instrument,
		Slippage:      cfg.Broker.Slippage,
		MaxFillPerBar: cfg.Broker.MaxFillPerBar,
	})
}
