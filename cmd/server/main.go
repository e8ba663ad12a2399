// Package main runs the Forge supply API:
// - HTTP: supply, locked breakdown, snapshot history, health and metrics
// - Recorder (optional): snapshots on startup, on an interval and on mint changes
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forge-supply/internal/api"
	"forge-supply/internal/config"
	"forge-supply/internal/recorder"
	"forge-supply/internal/solana"
	"forge-supply/internal/storage"
	chstore "forge-supply/internal/storage/clickhouse"
	"forge-supply/internal/storage/memory"
	pgstore "forge-supply/internal/storage/postgres"
	"forge-supply/internal/supply"
)

const shutdownTimeout = 30 * time.Second

// stores holds the optional snapshot sinks.
type stores struct {
	snapshots  storage.SnapshotStore
	timeseries storage.SupplyTimeseriesStore
}

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Load .env file if exists
	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Printf("WARN: %v", err)
	}

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// run wires all components and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	rpc := solana.NewHTTPClient(cfg.RPCEndpoint,
		solana.WithCommitment(cfg.Commitment),
		solana.WithTimeout(cfg.RequestTimeout),
	)

	reporter := supply.NewReporter(supply.Options{
		RPC:         rpc,
		Mint:        cfg.Mint,
		Authority:   cfg.Authority,
		Concurrency: cfg.BalanceConcurrency,
		Logger:      log.New(os.Stdout, "[supply] ", log.LstdFlags|log.Lshortfile),
	})

	st, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	server := api.New(api.Options{
		Reporter:       reporter,
		Mint:           cfg.Mint,
		Snapshots:      st.snapshots,
		Timeseries:     st.timeseries,
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0),
		Logger:         log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
	})

	errCh := make(chan error, 2)

	if cfg.RecorderEnabled() {
		var watcher solana.WSClient
		if cfg.WSEndpoint != "" {
			wsConfig := solana.DefaultWSConfig()
			wsConfig.Commitment = cfg.Commitment
			wsConfig.Logger = log.New(os.Stdout, "[watcher] ", log.LstdFlags|log.Lshortfile)

			ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, &wsConfig)
			if err != nil {
				logger.Printf("WARN: websocket unavailable, mint watcher disabled: %v", err)
			} else {
				defer ws.Close()
				watcher = ws
			}
		}

		rec := recorder.New(recorder.Options{
			Reporter:   reporter,
			Mint:       cfg.Mint,
			Snapshots:  st.snapshots,
			Timeseries: st.timeseries,
			Watcher:    watcher,
			Interval:   cfg.SnapshotInterval,
			Timeout:    cfg.RequestTimeout,
			Logger:     log.New(os.Stdout, "[recorder] ", log.LstdFlags|log.Lshortfile),
		})

		go func() {
			if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("recorder: %w", err)
			}
		}()
	}

	go func() {
		logger.Printf("API running at http://%s", cfg.Addr())
		if err := server.ListenAndServe(ctx, cfg.Addr(), shutdownTimeout); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- ctx.Err()
	}()

	select {
	case <-ctx.Done():
		// Wait for the HTTP server to drain.
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// createStores creates the configured snapshot stores.
func createStores(ctx context.Context, cfg *config.Config) (*stores, func(), error) {
	st := &stores{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.UseMemory {
		st.snapshots = memory.NewSnapshotStore()
		st.timeseries = memory.NewSupplyTimeseriesStore()
	}

	// PostgreSQL
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres snapshot store: %w", err)
		}
		closers = append(closers, pg.Close)
		st.snapshots = pg
	}

	// ClickHouse
	if cfg.ClickhouseDSN != "" {
		ch, err := chstore.Open(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open clickhouse timeseries store: %w", err)
		}
		closers = append(closers, func() { ch.Close() })
		st.timeseries = ch
	}

	return st, cleanup, nil
}
