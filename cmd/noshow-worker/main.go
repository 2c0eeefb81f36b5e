package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/availability"
	"github.com/hackgods/clinic-admission/internal/config"
	"github.com/hackgods/clinic-admission/internal/db"
	"github.com/hackgods/clinic-admission/internal/lock"
	"github.com/hackgods/clinic-admission/internal/logging"
	"github.com/hackgods/clinic-admission/internal/notify"
	redisclient "github.com/hackgods/clinic-admission/internal/redis"
)

// batchSize caps how many stale appointments one run cancels.
const batchSize = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "error", "noshow-worker")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel, "noshow-worker")
	log.Info().Dur("interval", cfg.WorkerInterval).Str("timezone", cfg.ClinicTimezone).Msg("noshow-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:         cfg.PostgresConns,
		AppName:          "noshow-worker",
		StatementTimeout: cfg.LockTTL,
	})
	cancelPg()
	if err != nil {
		log.Error().Err(err).Msg("postgres connection error")
		os.Exit(1)
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("redis connection error")
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	appointments := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, lock.Backoff{
		Base:   cfg.LockRetryBase,
		Max:    cfg.LockRetryMax,
		Budget: cfg.LockWaitBudget,
	})
	dispatcher := notify.NewDispatcher([]notify.Sink{
		notify.NewRedisSink(rdb),
		notify.NewEventLogSink(appointments),
	}, notify.DispatcherOptions{Buffer: cfg.NotifyBuffer, Workers: cfg.NotifyWorkers}, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("pending notifications dropped at shutdown")
		}
	}()

	svc := appointment.NewService(appointments, availability.NewPgRepository(pgPool), appointments, locker, dispatcher, cfg, log)

	// Serializes against api-server instances through the shared Redis locks.
	// An api-server started with --local-lock sweeps in-process instead.
	appointment.NewNoShowSweeper(svc, cfg.WorkerInterval, batchSize, log).Run(rootCtx)
	log.Info().Msg("shutdown signal received, noshow worker stopped")
}
