package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `id, doctor_id, patient_id, appt_date, status, queue_number, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanParty(row pgx.Row, notFound error) (*Party, error) {
	var p Party
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.Role,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&a.Status,
		&a.QueueNumber,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(a.Date)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Directory

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Party, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, status, created_at, updated_at
		FROM users
		WHERE id = $1 AND role = 'doctor'
	`, id)
	return scanParty(row, ErrDoctorNotFound)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Party, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, status, created_at, updated_at
		FROM users
		WHERE id = $1 AND role = 'patient'
	`, id)
	return scanParty(row, ErrPatientNotFound)
}

// Ledger

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2
		  AND status <> 'cancelled'
		ORDER BY queue_number
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2
		ORDER BY status = 'cancelled', queue_number, created_at
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appt_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindStaleScheduled(ctx context.Context, before time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND appt_date < $1
		ORDER BY appt_date, doctor_id, queue_number DESC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateScheduled(ctx context.Context, in NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appt_date, status, queue_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'scheduled', $5, now(), now())
		RETURNING `+appointmentColumns,
		id, in.DoctorID, in.PatientID, in.Date, in.QueueNumber)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateBooking
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	return scanAppointment(row)
}

// compactDay closes the gap left by queue number removed on (doctorID, date).
func compactDay(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date time.Time, removed int) ([]Appointment, error) {
	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET queue_number = queue_number - 1,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND appt_date = $2
		  AND status <> 'cancelled'
		  AND queue_number > $3
		RETURNING `+appointmentColumns,
		doctorID, date, removed)
	if err != nil {
		return nil, fmt.Errorf("compact queue: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CancelAndCompact(ctx context.Context, appt Appointment) (*Appointment, []Appointment, error) {
	var (
		cancelled *Appointment
		shifted   []Appointment
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
			    updated_at = now()
			WHERE id = $1
			  AND status = $2
			  AND appt_date = $3
			RETURNING `+appointmentColumns,
			appt.ID, appt.Status, appt.Date)

		var err error
		cancelled, err = scanAppointment(row)
		if err != nil {
			return err
		}

		shifted, err = compactDay(ctx, tx, appt.DoctorID, appt.Date, appt.QueueNumber)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return cancelled, shifted, nil
}

func (r *PgRepository) MoveAndCompact(ctx context.Context, appt Appointment, date time.Time, queueNumber int) (*Appointment, []Appointment, error) {
	var (
		moved   *Appointment
		shifted []Appointment
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET appt_date = $2,
			    queue_number = $3,
			    updated_at = now()
			WHERE id = $1
			  AND status = $4
			  AND appt_date = $5
			RETURNING `+appointmentColumns,
			appt.ID, date, queueNumber, appt.Status, appt.Date)

		var err error
		moved, err = scanAppointment(row)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateBooking
			}
			return err
		}

		shifted, err = compactDay(ctx, tx, appt.DoctorID, appt.Date, appt.QueueNumber)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return moved, shifted, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		RETURNING `+appointmentColumns, id)
	return scanAppointment(row)
}

// MaxActiveOnWeekday returns the largest number of active appointments the
// doctor holds on any date from onwards that falls on day.
func (r *PgRepository) MaxActiveOnWeekday(ctx context.Context, doctorID uuid.UUID, day time.Weekday, from time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(cnt), 0)
		FROM (
			SELECT count(*) AS cnt
			FROM appointments
			WHERE doctor_id = $1
			  AND appt_date >= $2
			  AND EXTRACT(DOW FROM appt_date)::int = $3
			  AND status <> 'cancelled'
			GROUP BY appt_date
		) per_day
	`, doctorID, from, int(day)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max active on weekday: %w", err)
	}
	return n, nil
}

// AppendEvent records a notifier event in the audit log.
func (r *PgRepository) AppendEvent(ctx context.Context, eventType string, appointmentID uuid.UUID, payload []byte, at time.Time) error {
	var appID *uuid.UUID
	if appointmentID != uuid.Nil {
		appID = &appointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, eventType, appID, payload, nullableTime(at))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
