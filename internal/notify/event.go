// Package notify carries appointment events to patients. Delivery is best
// effort: publishing never blocks the admission path and delivery failures are
// only logged.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindBookingCreated       Kind = "BookingCreated"
	KindBookingCancelled     Kind = "BookingCancelled"
	KindStatusChanged        Kind = "StatusChanged"
	KindBookingRescheduled   Kind = "BookingRescheduled"
	KindQueuePositionChanged Kind = "QueuePositionChanged"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier closed")
)

// Event is the notification contract delivered to a single patient.
type Event struct {
	Kind          Kind      `json:"kind"`
	PatientID     uuid.UUID `json:"patient_id"`
	Message       string    `json:"message"`
	AppointmentID uuid.UUID `json:"related_appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Date          string    `json:"date,omitempty"`
	Status        string    `json:"status,omitempty"`
	QueueNumber   int       `json:"queue_number,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ev Event) error
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}
