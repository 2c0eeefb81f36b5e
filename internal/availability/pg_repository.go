package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const columns = `id, doctor_id, day_of_week, start_time, end_time, daily_capacity, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var (
		a          Availability
		day        int16
		start, end pgtype.Time
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&day,
		&start,
		&end,
		&a.DailyCapacity,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	a.DayOfWeek = time.Weekday(day)
	a.StartTime = fromPgTime(start)
	a.EndTime = fromPgTime(end)
	return &a, nil
}

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrAvailabilityExists
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", ErrInvalidAvailability, pgErr.ConstraintName)
		}
	}
	return err
}

func (r *PgRepository) Create(ctx context.Context, a Availability) (*Availability, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO availabilities (id, doctor_id, day_of_week, start_time, end_time, daily_capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+columns,
		a.ID, a.DoctorID, int16(a.DayOfWeek), toPgTime(a.StartTime), toPgTime(a.EndTime), a.DailyCapacity)

	created, err := scanAvailability(row)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return created, nil
}

func (r *PgRepository) Update(ctx context.Context, a Availability) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availabilities
		SET day_of_week = $2,
		    start_time = $3,
		    end_time = $4,
		    daily_capacity = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+columns,
		a.ID, int16(a.DayOfWeek), toPgTime(a.StartTime), toPgTime(a.EndTime), a.DailyCapacity)

	updated, err := scanAvailability(row)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return updated, nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availabilities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+columns+`
		FROM availabilities
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) GetForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+columns+`
		FROM availabilities
		WHERE doctor_id = $1 AND day_of_week = $2
	`, doctorID, int16(day))
	return scanAvailability(row)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+`
		FROM availabilities
		WHERE doctor_id = $1
		ORDER BY day_of_week
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
