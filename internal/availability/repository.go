package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAvailabilityNotFound = errors.New("availability not found")
	ErrAvailabilityExists   = errors.New("availability already exists for this doctor and weekday")
	ErrInvalidAvailability  = errors.New("invalid availability")
	ErrAvailabilityInUse    = errors.New("availability has upcoming appointments")
)

// Repository persists availability entries.
type Repository interface {
	Create(ctx context.Context, a Availability) (*Availability, error)
	Update(ctx context.Context, a Availability) (*Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	// GetForDay is the lookup used on the booking path.
	GetForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*Availability, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Availability, error)
}
