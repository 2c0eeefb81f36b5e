package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingCounter reports how many active appointments a doctor holds on
// upcoming dates falling on a weekday.
type BookingCounter interface {
	MaxActiveOnWeekday(ctx context.Context, doctorID uuid.UUID, day time.Weekday, from time.Time) (int, error)
}

// Service is the administrative surface over availability entries. It is not
// on the booking hot path, so it takes no locks; the unique index backs the
// (doctor, weekday) pre-check.
type Service struct {
	repo     Repository
	bookings BookingCounter
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(repo Repository, bookings BookingCounter, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:     repo,
		bookings: bookings,
		loc:      loc,
		now:      time.Now,
		log:      log.With().Str("component", "availability").Logger(),
	}
}

func (s *Service) today() time.Time {
	y, m, d := s.now().In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ensureUnbooked fails when upcoming active appointments on day need more than
// capacity places. capacity 0 means the weekday is being withdrawn.
func (s *Service) ensureUnbooked(ctx context.Context, doctorID uuid.UUID, day time.Weekday, capacity int) error {
	booked, err := s.bookings.MaxActiveOnWeekday(ctx, doctorID, day, s.today())
	if err != nil {
		return fmt.Errorf("count upcoming bookings: %w", err)
	}
	if booked > capacity {
		return fmt.Errorf("%w: %d upcoming bookings on %s", ErrAvailabilityInUse, booked, day)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, a Availability) (*Availability, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetForDay(ctx, a.DoctorID, a.DayOfWeek)
	if err != nil && !errors.Is(err, ErrAvailabilityNotFound) {
		return nil, fmt.Errorf("check existing availability: %w", err)
	}
	if existing != nil {
		return nil, ErrAvailabilityExists
	}

	created, err := s.repo.Create(ctx, a)
	if err != nil {
		if errors.Is(err, ErrAvailabilityExists) || errors.Is(err, ErrInvalidAvailability) {
			return nil, err
		}
		return nil, fmt.Errorf("create availability: %w", err)
	}

	s.log.Info().
		Str("doctor_id", created.DoctorID.String()).
		Stringer("day", created.DayOfWeek).
		Int("daily_capacity", created.DailyCapacity).
		Msg("availability created")

	return created, nil
}

// Update replaces the window, weekday and capacity of an entry. The doctor of
// an entry never changes.
func (s *Service) Update(ctx context.Context, id uuid.UUID, a Availability) (*Availability, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	a.ID = current.ID
	a.DoctorID = current.DoctorID
	if err := a.Validate(); err != nil {
		return nil, err
	}

	if a.DayOfWeek != current.DayOfWeek {
		if err := s.ensureUnbooked(ctx, current.DoctorID, current.DayOfWeek, 0); err != nil {
			return nil, err
		}
		clash, err := s.repo.GetForDay(ctx, a.DoctorID, a.DayOfWeek)
		if err != nil && !errors.Is(err, ErrAvailabilityNotFound) {
			return nil, fmt.Errorf("check existing availability: %w", err)
		}
		if clash != nil && clash.ID != id {
			return nil, ErrAvailabilityExists
		}
	}

	if a.DayOfWeek == current.DayOfWeek && a.DailyCapacity < current.DailyCapacity {
		if err := s.ensureUnbooked(ctx, current.DoctorID, current.DayOfWeek, a.DailyCapacity); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.Update(ctx, a)
	if err != nil {
		if errors.Is(err, ErrAvailabilityExists) || errors.Is(err, ErrAvailabilityNotFound) ||
			errors.Is(err, ErrInvalidAvailability) {
			return nil, err
		}
		return nil, fmt.Errorf("update availability: %w", err)
	}

	s.log.Info().
		Str("availability_id", id.String()).
		Stringer("day", updated.DayOfWeek).
		Int("daily_capacity", updated.DailyCapacity).
		Msg("availability updated")

	return updated, nil
}

// Delete removes an entry unless upcoming appointments still depend on it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.ensureUnbooked(ctx, current.DoctorID, current.DayOfWeek, 0); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Availability, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Availability, error) {
	list, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return list, nil
}
