package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/availability"
	"github.com/hackgods/clinic-admission/internal/config"
	"github.com/hackgods/clinic-admission/internal/db"
	"github.com/hackgods/clinic-admission/internal/logging"
)

type seedOptions struct {
	doctors  int
	patients int
	seed     uint64
}

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Populate doctors, patients and weekly availability with fake data",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctors, "doctors", 25, "number of doctors to create")
	cmd.Flags().IntVar(&opts.patients, "patients", 5000, "number of patients to create")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "faker seed (0 picks a random one)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts seedOptions) error {
	log := logging.New(cfg.Env, cfg.LogLevel, "seed")
	log.Info().Int("doctors", opts.doctors).Int("patients", opts.patients).Msg("seed starting")

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresConns, AppName: "seed"})
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	faker := gofakeit.New(opts.seed)

	doctors, err := seedUsers(ctx, pool, faker, appointment.RoleDoctor, opts.doctors, log)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if _, err := seedUsers(ctx, pool, faker, appointment.RolePatient, opts.patients, log); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	if err := seedAvailability(ctx, availability.NewPgRepository(pool), faker, doctors, log); err != nil {
		return fmt.Errorf("seed availability: %w", err)
	}

	log.Info().Msg("seed complete")
	return nil
}

// accountStatus makes roughly one account in twenty unusable for booking.
func accountStatus(faker *gofakeit.Faker) appointment.AccountStatus {
	switch n := faker.Number(1, 100); {
	case n <= 3:
		return appointment.AccountInactive
	case n <= 5:
		return appointment.AccountSuspended
	default:
		return appointment.AccountActive
	}
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role appointment.Role, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				id := uuid.New()
				name := faker.Name()
				if role == appointment.RoleDoctor {
					name = "Dr. " + name
				}

				_, err := tx.Exec(ctx, `
					INSERT INTO users (id, name, email, role, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, now(), now())
				`, id, name, faker.Email(), role, accountStatus(faker))
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		log.Info().Str("role", string(role)).Int("done", end).Int("total", count).Msg("users seeded")
	}

	return ids, nil
}

// seedAvailability gives each doctor three to five working weekdays.
func seedAvailability(ctx context.Context, repo availability.Repository, faker *gofakeit.Faker, doctors []uuid.UUID, log zerolog.Logger) error {
	entries := 0
	for _, doctorID := range doctors {
		days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
		faker.ShuffleAnySlice(days)

		for _, day := range days[:faker.Number(3, 5)] {
			start := availability.TimeOfDay(faker.Number(8, 10) * 60)
			a := availability.Availability{
				DoctorID:      doctorID,
				DayOfWeek:     day,
				StartTime:     start,
				EndTime:       start + availability.TimeOfDay(faker.Number(4, 8)*60),
				DailyCapacity: faker.Number(5, 30),
			}
			if _, err := repo.Create(ctx, a); err != nil {
				return err
			}
			entries++
		}
	}

	log.Info().Int("entries", entries).Int("doctors", len(doctors)).Msg("availability seeded")
	return nil
}
