package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountInactive  AccountStatus = "inactive"
	AccountSuspended AccountStatus = "suspended"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Party is a doctor or patient account as seen by the scheduler. Accounts are
// owned elsewhere; the scheduler only reads them.
type Party struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      Role
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Party) Active() bool {
	return p.Status == AccountActive
}

// Appointment is one entry in a doctor's daily queue. Date is the calendar day
// at midnight UTC; QueueNumber is meaningful only while Status is active.
type Appointment struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Date        time.Time
	Status      Status
	QueueNumber int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewAppointment is the insert payload for a freshly admitted booking.
type NewAppointment struct {
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Date        time.Time
	QueueNumber int
}

// DateOf returns the calendar day of t (in t's own location) as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
