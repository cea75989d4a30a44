/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load LEAL_* configuration and set up logging
  2. Open the store (SQLite file or PostgreSQL pool, migrations applied)
  3. Open the change broker (in process, or Redis when LEAL_REDIS_ADDR is set)
  4. Build the loyalty services and the staff queue poller
  5. Start HTTP server, poller, broker follower and reconciliation cron

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the poller and wait for a running reconciliation
  4. Close broker and store
  5. Exit

EXAMPLES:
  # Local run with SQLite
  LEAL_SQLITE_PATH=./data/leal.db ./server

  # PostgreSQL and Redis, several instances behind a balancer
  LEAL_STORE_DRIVER=postgres LEAL_POSTGRES_DSN=postgres://leal@db/leal \
  LEAL_REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - livesync/poller.go: Live staff queue
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sebastianahumada1/Leal/api"
	"github.com/sebastianahumada1/Leal/config"
	"github.com/sebastianahumada1/Leal/livesync"
	"github.com/sebastianahumada1/Leal/loyalty"
	"github.com/sebastianahumada1/Leal/store/postgres"
	"github.com/sebastianahumada1/Leal/store/sqlite"
)

type closableStore interface {
	loyalty.TxStore
	Close() error
}

func main() {
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	broker, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	services := loyalty.NewServices(store,
		loyalty.WithPublisher(broker),
		loyalty.WithAmountPolicy(cfg.AmountPolicy),
	)

	metrics := api.NewMetrics()
	queue := livesync.NewPoller("staff-queue", livesync.QueueFetcher(services))
	queue.Interval = cfg.PollInterval
	queue.OnChange = func(s livesync.Snapshot[livesync.Queue]) {
		metrics.ObserveQueue(s.Revision, len(s.Data.Visits), len(s.Data.Redemptions))
	}
	queue.OnError = func(err error) {
		log.WithError(err).Warn("Staff queue refresh failed")
	}

	handler := api.NewHandler(services, queue, metrics)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return ignoreCancel(queue.Run(gctx))
	})

	g.Go(func() error {
		return ignoreCancel(livesync.Follow(gctx, broker, livesync.TopicStaff, queue))
	})

	if cfg.ReconcileSchedule != "" {
		scheduler := api.NewReconciliationScheduler(services.Balances, metrics, cfg.ReconcileSchedule)
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			scheduler.Stop()
			return nil
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		store, err := postgres.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	default:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.WithField("path", cfg.SQLitePath).Info("Using SQLite store")
		return store, nil
	}
}

func openBroker(ctx context.Context, cfg *config.Config) (livesync.Broker, error) {
	if cfg.RedisAddr == "" {
		return livesync.NewMemoryBroker(), nil
	}
	b, err := livesync.NewRedisBroker(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	log.WithField("addr", cfg.RedisAddr).Info("Publishing ledger changes to Redis")
	return b, nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
