package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory resolves doctor and patient accounts.
type Directory interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Party, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Party, error)
}

// Repository is the appointment ledger. Every write method is atomic on its
// own; callers serialize writes per (doctor, date).
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Reads
	ListActiveForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	FindStaleScheduled(ctx context.Context, before time.Time, limit int) ([]Appointment, error)

	// Creation and updates
	CreateScheduled(ctx context.Context, in NewAppointment) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	// CancelAndCompact cancels appt and closes the gap it leaves in its day's
	// queue, returning the appointments whose queue number moved.
	CancelAndCompact(ctx context.Context, appt Appointment) (*Appointment, []Appointment, error)
	// MoveAndCompact moves appt to date with queueNumber and closes the gap on
	// its old day.
	MoveAndCompact(ctx context.Context, appt Appointment, date time.Time, queueNumber int) (*Appointment, []Appointment, error)

	// Administrative escape hatch; leaves other queue numbers untouched.
	DeleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}
