package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/chain"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/config"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/indexer"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/manifest"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/orderbook"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/runner"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/status"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage/postgres"
)

func runSync(cmd *cobra.Command, _ []string) error {
	settings, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	once, _ := cmd.Flags().GetBool("once")
	interval, _ := cmd.Flags().GetDuration("interval")
	if !once && interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}

	targets, err := runner.BuildTargets(settings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, settings.PgDSN, postgres.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	decoder, err := orderbook.NewRegistry()
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	bus, closeBus := newStatusBus(ctx, settings.Status, logger)
	defer closeBus()

	if settings.MetricsAddr != "" {
		go serveMetrics(ctx, settings.MetricsAddr, logger)
	}

	r, err := runner.New(runner.Options{
		OpenSession: func(ctx context.Context, target model.OrderbookIdentifier) (runner.Session, error) {
			session, err := store.Session(ctx, target)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		DialChain: func(ctx context.Context, urls []string) (runner.Chain, error) {
			client, err := chain.Dial(ctx, urls, chain.Options{Logger: logger})
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Manifests: manifest.NewClient(manifest.Options{Logger: logger}),
		Decoder:   decoder,
		Pipeline: indexer.Options{
			AttemptTimeout:       settings.Sync.AttemptTimeout,
			TimestampConcurrency: settings.Sync.TimestampConcurrency,
			MetadataConcurrency:  settings.Sync.MetadataConcurrency,
		},
		Bus:                  bus,
		Logger:               logger,
		FallbackToGenesis:    settings.Sync.FallbackToGenesis,
		MaxConcurrentTargets: settings.Sync.MaxConcurrentTargets,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	logger.Info("sync start",
		zap.Int("targets", len(targets)),
		zap.Bool("once", once),
		zap.Duration("interval", interval),
		zap.Uint64("batch_size", settings.Sync.BatchSize),
		zap.Uint64("finality_depth", settings.Sync.FinalityDepth),
	)

	if once {
		return r.Run(ctx, targets).Err()
	}

	// SIGHUP re-fetches manifests on the next pass.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report := r.Run(ctx, targets)
		if len(report.Failures) > 0 {
			logger.Warn("sync pass had failures", zap.String("run_id", report.RunID), zap.Error(report.Err()))
		}

		select {
		case <-ctx.Done():
			logger.Info("sync stopped")
			return nil
		case <-hup:
			logger.Info("re-bootstrap requested")
			r.Rebootstrap()
		case <-ticker.C:
		}
	}
}

func newStatusBus(ctx context.Context, cfg config.StatusSettings, logger *zap.Logger) (status.Bus, func()) {
	buses := status.Multi{status.NewLogBus(logger)}
	closers := []func(){}

	if cfg.JSONL != "" {
		buses = append(buses, status.NewJSONLBus(cfg.JSONL))
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis status sink unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		buses = append(buses, status.NewRedisBus(client, cfg.RedisChannel))
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return buses, closeAll
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", zap.Error(err))
	}
}
