// Command fleetmonitor is the process entrypoint: it wires Config, Store,
// LockService, the AdapterRegistry, one BrandQueue per brand, the
// PollExecutor and the Scheduler together, then runs until an OS signal
// asks it to stop. Grounded on the teacher's cmd/nmslite/main.go startup
// shape (build dependencies, start server, block on signal), generalized
// from "start one mock HTTP server" to the full startup sequence spec.md
// §6.1 specifies: validate config → probe Store → probe LockService →
// construct AdapterRegistry → construct BrandQueues → start Scheduler.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/solarinvest/fleetmonitor/internal/adapter"
	"github.com/solarinvest/fleetmonitor/internal/adapter/mockadapter"
	"github.com/solarinvest/fleetmonitor/internal/clock"
	"github.com/solarinvest/fleetmonitor/internal/config"
	"github.com/solarinvest/fleetmonitor/internal/domain"
	"github.com/solarinvest/fleetmonitor/internal/executor"
	"github.com/solarinvest/fleetmonitor/internal/httpserver"
	"github.com/solarinvest/fleetmonitor/internal/lockservice"
	"github.com/solarinvest/fleetmonitor/internal/queue"
	"github.com/solarinvest/fleetmonitor/internal/scheduler"
	"github.com/solarinvest/fleetmonitor/internal/store"
	"github.com/solarinvest/fleetmonitor/internal/telemetry"
	"github.com/solarinvest/fleetmonitor/internal/vault"
)

// fixtureDir holds one JSON document per supported brand when running in
// mock mode (spec §6.1 INTEGRATION_MOCK_MODE=true).
const fixtureDir = "testdata/fixtures"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetmonitor:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info("fleetmonitor: starting", "poll_interval", cfg.PollInterval(), "mock_mode", cfg.IntegrationMockMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	if err := store.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("probe store: %w", err)
	}
	defer pgStore.Close()
	log.Info("fleetmonitor: store ready")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("probe lockservice: %w", err)
	}
	locks := lockservice.NewRedisLock(redisClient)
	log.Info("fleetmonitor: lockservice ready")

	v, err := vault.New(cfg.MasterKeyCurrent, cfg.MasterKeyPrevious)
	if err != nil {
		return fmt.Errorf("construct vault: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build adapter registry: %w", err)
	}
	log.Info("fleetmonitor: adapter registry ready", "brands", registry.AllBrands())

	clk := clock.Real{}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	exec := executor.New(pgStore, v, registry, locks, clk, log, executor.Config{
		LockTTL:               cfg.LockTTL(),
		AdapterRequestTimeout: cfg.AdapterRequestTimeout(),
		JobTimeout:            cfg.JobTimeout(),
	})
	exec.SetLockMetrics(metrics)
	exec.SetAlertMetrics(metrics)

	queues := make(map[domain.Brand]scheduler.Submitter)
	brandQueues := make(map[domain.Brand]*queue.BrandQueue)
	for _, brand := range registry.AllBrands() {
		a, _ := registry.Get(brand)
		bq := queue.New(brand, a.Capabilities(), exec.Run, clk, log)
		bq.SetRecorder(metrics)
		bq.SetMirror(queue.NewRedisMirror(redisClient, string(brand)))
		queues[brand] = bq
		brandQueues[brand] = bq
	}

	sched := scheduler.New(pgStore, queues, cfg.PollInterval(), clk, log)

	readiness := func(ctx context.Context) error {
		if err := pgStore.Ping(ctx); err != nil {
			return err
		}
		return redisClient.Ping(ctx).Err()
	}
	httpSrv := httpserver.New(cfg.MetricsAddr, log, reg, readiness)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, bq := range brandQueues {
		go bq.Run(ctx)
	}
	go sched.Run(ctx)
	go reportQueueDepths(ctx, brandQueues, metrics)

	log.Info("fleetmonitor: running")

	select {
	case <-ctx.Done():
		log.Info("fleetmonitor: shutdown signal received")
	case err := <-errCh:
		log.Error("fleetmonitor: http server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for brand, bq := range brandQueues {
		log.Info("fleetmonitor: draining queue", "brand", brand)
		bq.Drain(shutdownCtx)
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("fleetmonitor: http server shutdown error", "err", err)
	}

	log.Info("fleetmonitor: stopped")
	return nil
}

// buildRegistry constructs the AdapterRegistry. Per spec §6.1, the current
// phase requires INTEGRATION_MOCK_MODE=true, already enforced by
// config.Validate — so only the mock path is wired here; a live-adapter
// branch would be added alongside this one in a later phase.
func buildRegistry(cfg *config.Config) (*adapter.Registry, error) {
	reg := adapter.NewRegistry()

	brandCaps := map[domain.Brand]adapter.Capabilities{
		domain.BrandSolis:  {Brand: domain.BrandSolis, MaxConcurrent: 4, MaxPerMinute: 60, SupportsDailySeries: true, SupportsAlarms: true},
		domain.BrandHuawei: {Brand: domain.BrandHuawei, MaxConcurrent: 3, MaxPerMinute: 30, SupportsDailySeries: true, SupportsAlarms: true},
		domain.BrandGoodwe: {Brand: domain.BrandGoodwe, MaxConcurrent: 4, MaxPerMinute: 60, SupportsDailySeries: true, SupportsAlarms: true},
		domain.BrandDele:   {Brand: domain.BrandDele, MaxConcurrent: 2, MaxPerMinute: 20, SupportsDailySeries: true, SupportsAlarms: true},
	}

	for brand, caps := range brandCaps {
		fixturePath := fmt.Sprintf("%s/%s.json", fixtureDir, brandFixtureName(brand))
		fixture, err := mockadapter.LoadFixture(fixturePath)
		if err != nil {
			return nil, fmt.Errorf("load fixture for %s: %w", brand, err)
		}
		reg.Register(brand, mockadapter.New(brand, fixture, caps))
	}

	return reg, nil
}

// reportQueueDepths periodically publishes each BrandQueue's pending
// ticket count to the queue_depth gauge until ctx is cancelled.
func reportQueueDepths(ctx context.Context, queues map[domain.Brand]*queue.BrandQueue, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for brand, bq := range queues {
				metrics.QueueDepth.WithLabelValues(string(brand)).Set(float64(bq.Depth()))
			}
		}
	}
}

func brandFixtureName(b domain.Brand) string {
	switch b {
	case domain.BrandSolis:
		return "solis"
	case domain.BrandHuawei:
		return "huawei"
	case domain.BrandGoodwe:
		return "goodwe"
	case domain.BrandDele:
		return "dele"
	default:
		return string(b)
	}
}
