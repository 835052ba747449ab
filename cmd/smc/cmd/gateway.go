package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/smc/broker/gateway"
	"github.com/rustyeddy/smc/broker/sim"
	"github.com/rustyeddy/smc/config"
	"github.com/rustyeddy/smc/feed"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Broker gateway commands",
}

var gatewayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the simulated venue over websocket",
	Long: `Run the simulated venue behind the websocket gateway, so a pipeline
configured with broker.type gateway trades against it.

The venue fills orders against base-timeframe bars. With feed.type amqp it
consumes --queue (default feed.queue); give it its own queue bound to the
same exchange as the pipeline's. Otherwise the CSV at feed.path is played
once at --pace.

Examples:
  smc gateway serve -c venue.yaml --addr :8765 --queue mnq.venue
  smc gateway serve -c smc.yaml --pace 1s`,
	Args: cobra.NoArgs,
	RunE: runGatewayServe,
}

var (
	gatewayAddr  string
	gatewayPath  string
	gatewayQueue string
	gatewayPace  time.Duration
)

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.AddCommand(gatewayServeCmd)

	gatewayServeCmd.Flags().StringVar(&gatewayAddr, "addr", ":8765", "listen address")
	gatewayServeCmd.Flags().StringVar(&gatewayPath, "path", "/ws", "websocket path")
	gatewayServeCmd.Flags().StringVar(&gatewayQueue, "queue", "", "AMQP bar queue for the venue (default feed.queue)")
	gatewayServeCmd.Flags().DurationVar(&gatewayPace, "pace", time.Second, "delay between CSV bars")
}

type venueOptions struct {
	Path  string
	Queue string
	Pace  time.Duration
}

func runGatewayServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", gatewayAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Printf("Serving %s venue on ws://%s%s\n", cfg.Instrument.Symbol, ln.Addr(), gatewayPath)
	return serveGateway(ctx, cfg, ln, venueOptions{Path: gatewayPath, Queue: gatewayQueue, Pace: gatewayPace}, logger)
}

// serveGateway serves a simulated venue on ln until ctx is done. ln is
// closed on return.
func serveGateway(ctx context.Context, cfg *config.Config, ln net.Listener, opts venueOptions, logger *slog.Logger) error {
	engine := newSim(cfg)
	server := gateway.NewServer(engine, logger)

	mux := http.NewServeMux()
	mux.Handle(opts.Path, server)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go server.Run(ctx)

	errc := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		if err := driveVenue(ctx, cfg, engine, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
			errc <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	cancel()

	shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if serr := srv.Shutdown(shutdown); serr != nil {
		logger.Warn("gateway shutdown", "err", serr)
	}
	return err
}

// driveVenue hands base-timeframe bars to the venue so resting orders fill.
// A CSV feed that runs out leaves the venue serving at its last price.
func driveVenue(ctx context.Context, cfg *config.Config, e *sim.Engine, opts venueOptions, logger *slog.Logger) error {
	base := cfg.BaseTimeframe()
	if cfg.Feed.Type == "amqp" {
		queue := opts.Queue
		if queue == "" {
			queue = cfg.Feed.Queue
		}
		src, err := feed.DialAMQP(cfg.Feed.URI, queue, 5, logger)
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer src.Close()
		for b := range src.Bars(ctx) {
			if b.Timeframe == base {
				e.OnBar(b)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("venue feed closed")
	}

	src, err := openFeed(cfg, logger)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer src.Close()
	n := 0
	for {
		b, ok, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("venue feed finished", "bars", n)
			return nil
		}
		e.OnBar(b)
		n++
		if opts.Pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Pace):
			}
		}
	}
}
