package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tradepost/api/feed"
	"tradepost/api/grpcserver"
	"tradepost/domain/orderbook"
	"tradepost/infra/chain"
	"tradepost/infra/config"
	"tradepost/infra/history"
	"tradepost/infra/kafka"
	"tradepost/infra/metrics"
	"tradepost/infra/sequence"
	"tradepost/infra/store"
	"tradepost/jobs/announcer"
	"tradepost/service"
	"tradepost/settlement"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "tradepost",
		Short: "Decentralized trading node for in-game assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cfgPath)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := zerolog.New(os.Stderr).With().
		Timestamp().
		Str("account", cfg.Account).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Durable state ----------------

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	last, err := st.LastSequence(cfg.Account)
	if err != nil {
		return err
	}
	seqGen := sequence.New(last)

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	// ---------------- Domain ----------------

	ledger := orderbook.NewLedger()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	local := service.NewLocalNode(cfg.Account, ledger, seqGen, st, logger)
	if err := local.Restore(); err != nil {
		return err
	}

	// ---------------- Transport ----------------

	pub := kafka.NewProducer(cfg.Brokers, cfg.Account)
	defer pub.Close()

	consumer, err := kafka.NewConsumer(
		cfg.Brokers,
		"tradepost-"+cfg.Account,
		[]string{cfg.Room},
		logger,
	)
	if err != nil {
		return err
	}
	defer consumer.Close()

	// ---------------- Settlement ----------------

	coord := settlement.New(
		settlement.Config{
			Account:         cfg.Account,
			Room:            cfg.Room,
			CurrencyAsset:   cfg.CurrencyAsset,
			ResponseTimeout: cfg.ResponseTimeout,
			LockTimeout:     cfg.LockTimeout,
			ClaimAttempts:   cfg.ClaimAttempts,
		},
		ledger,
		chain.NewMemChain(),
		pub,
		st,
		hist,
		nil,
		met,
		logger,
	)
	defer coord.Close()
	if err := coord.AlertUnresolved(); err != nil {
		return err
	}

	roomSync := service.NewSynchronizer(cfg.Account, ledger, local, coord, met, logger)
	coord.SetNotify(roomSync.Broadcast)
	local.SetNotify(roomSync.Broadcast)

	// ---------------- Background jobs ----------------

	ann, err := announcer.New(cfg.Brokers, st, cfg.Room, cfg.Account, logger)
	if err != nil {
		return err
	}
	defer ann.Close()
	ann.Start(ctx)
	if err := ann.AnnounceJoin(); err != nil {
		logger.Warn().Err(err).Msg("join announcement failed, peers converge on first order")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(roomSync.Run(ctx, consumer))
	})

	g.Go(func() error {
		return expiryLoop(ctx, cfg.OrderTTL, cfg.Account, ledger, roomSync, met)
	})

	// ---------------- gRPC ----------------

	grpcSrv := grpc.NewServer()
	grpcserver.NewServer(local, ledger, coord, hist, logger).Register(grpcSrv)

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Listen.GRPC)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info().Str("addr", cfg.Listen.GRPC).Msg("grpc listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	// ---------------- Feed + metrics HTTP ----------------

	hub := feed.NewHub(ledger.All, roomSync.Subscribe, logger)
	feedMux := http.NewServeMux()
	feedMux.Handle("/feed", hub)
	g.Go(serveHTTP(ctx, cfg.Listen.Feed, feedMux, "feed", logger))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	g.Go(serveHTTP(ctx, cfg.Listen.Metrics, metricsMux, "metrics", logger))

	logger.Info().Str("room", cfg.Room).Msg("node running")
	err = g.Wait()

	// Best effort: tell the room we are gone so peers evict our orders
	// now instead of on their next TTL pass.
	if lerr := ann.AnnounceLeave(); lerr != nil {
		logger.Warn().Err(lerr).Msg("leave announcement failed")
	}
	return ignoreCancel(err)
}

// expiryLoop drops peer orders that outlived the TTL and keeps the open
// order gauge current. Own orders never expire locally; peers time them
// out the same way.
func expiryLoop(ctx context.Context, ttl time.Duration, own string, ledger *orderbook.Ledger, roomSync *service.Synchronizer, met *metrics.Metrics) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ttl > 0 {
				deltas := ledger.ExpireBefore(time.Now().Add(-ttl), own)
				roomSync.Broadcast(deltas...)
			}

			var open int
			for _, book := range ledger.All().Assets {
				for _, acct := range book.Accounts {
					open += len(acct.Buys) + len(acct.Sells)
				}
			}
			met.OpenOrders.Set(float64(open))
		}
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, name string, logger zerolog.Logger) func() error {
	return func() error {
		srv := &http.Server{Addr: addr, Handler: handler}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		logger.Info().Str("addr", addr).Msg(name + " listening")

		select {
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
			return nil
		case err := <-errCh:
			return fmt.Errorf("%s server: %w", name, err)
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
