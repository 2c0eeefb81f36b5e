package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-admission/internal/api"
	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/availability"
	"github.com/hackgods/clinic-admission/internal/config"
	"github.com/hackgods/clinic-admission/internal/db"
	"github.com/hackgods/clinic-admission/internal/lock"
	"github.com/hackgods/clinic-admission/internal/logging"
	"github.com/hackgods/clinic-admission/internal/notify"
	redisclient "github.com/hackgods/clinic-admission/internal/redis"
)

var version = "dev"

// noShowBatch caps how many stale appointments one in-process sweep cancels.
const noShowBatch = 500

func main() {
	rootCmd := &cobra.Command{
		Use:           "api-server",
		Short:         "Clinic appointment admission API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		bootLog := logging.New("prod", "error", "api-server")
		bootLog.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var localLock, migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, localLock, migrate)
		},
	}

	cmd.Flags().BoolVar(&localLock, "local-lock", false, "serialize bookings in-process and run without Redis; also sweeps no-shows in-process (single instance only, do not run noshow-worker)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.New(cfg.Env, cfg.LogLevel, "api-server")

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, AppName: "api-server-migrate"})
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			log.Info().Strs("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, localLock, migrate bool) error {
	log := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().Str("http_port", cfg.HTTPPort).Str("version", version).Bool("local_lock", localLock).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:         cfg.PostgresConns,
		AppName:          "api-server",
		StatementTimeout: cfg.LockTTL,
	})
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if migrate {
		applied, err := db.Migrate(rootCtx, pgPool)
		if err != nil {
			return err
		}
		log.Info().Strs("applied", applied).Msg("migrations complete")
	}

	appointments := appointment.NewPgRepository(pgPool)
	hub := notify.NewHub(log)

	var (
		locker lock.Locker
		rdb    redis.UniversalClient
		sinks  = []notify.Sink{notify.NewEventLogSink(appointments)}
	)

	if localLock {
		locker = lock.NewLocal(cfg.LockWaitBudget)
		sinks = append(sinks, hub)
	} else {
		client, err := redisclient.NewRedisClient(rootCtx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Msg("connected to Redis")

		rdb = client
		locker = redisclient.NewRedisLocker(client, cfg.LockTTL, lock.Backoff{
			Base:   cfg.LockRetryBase,
			Max:    cfg.LockRetryMax,
			Budget: cfg.LockWaitBudget,
		})
		sinks = append(sinks, notify.NewRedisSink(client))

		relay := notify.NewRelay(client, hub, log)
		go func() {
			if err := relay.Run(rootCtx); err != nil {
				log.Error().Err(err).Msg("notification relay stopped")
			}
		}()
	}

	dispatcher := notify.NewDispatcher(sinks, notify.DispatcherOptions{
		Buffer:  cfg.NotifyBuffer,
		Workers: cfg.NotifyWorkers,
	}, log)

	availRepo := availability.NewPgRepository(pgPool)
	admission := appointment.NewService(appointments, availRepo, appointments, locker, dispatcher, cfg, log)

	if localLock {
		// a separate noshow-worker could not see these in-process locks
		go appointment.NewNoShowSweeper(admission, cfg.WorkerInterval, noShowBatch, log).Run(rootCtx)
	}

	availSvc := availability.NewService(availRepo, appointments, cfg.Location(), log)

	router := api.NewRouter(api.RouterConfig{
		Appointments:  admission,
		Availability:  availSvc,
		Notifications: hub,
		Health:        api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Logger:        log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pending notifications dropped at shutdown")
	}

	log.Info().Msg("api-server stopped")
	return nil
}
