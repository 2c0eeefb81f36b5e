package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-admission/internal/availability"
	"github.com/hackgods/clinic-admission/internal/config"
	"github.com/hackgods/clinic-admission/internal/lock"
	"github.com/hackgods/clinic-admission/internal/metrics"
	"github.com/hackgods/clinic-admission/internal/notify"
)

// relockAttempts bounds how often an operation chases an appointment that was
// moved to another day while it waited for the lock.
const relockAttempts = 3

var errMovedWhileWaiting = errors.New("appointment moved while waiting for lock")

// AvailabilityLookup is the read-only view of doctors' weekly schedules.
type AvailabilityLookup interface {
	GetForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*availability.Availability, error)
}

// Service is the admission controller. It is the only writer of appointment
// status and queue numbers; every write to a doctor's day happens while holding
// that (doctor, date) lock.
type Service struct {
	repo         Repository
	availability AvailabilityLookup
	directory    Directory
	locker       lock.Locker
	notifier     notify.Publisher
	loc          *time.Location
	now          func() time.Time
	log          zerolog.Logger
}

func NewService(
	repo Repository,
	avail AvailabilityLookup,
	directory Directory,
	locker lock.Locker,
	notifier notify.Publisher,
	cfg config.Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		availability: avail,
		directory:    directory,
		locker:       locker,
		notifier:     notifier,
		loc:          cfg.Location(),
		now:          time.Now,
		log:          log.With().Str("component", "admission").Logger(),
	}
}

// Today is the current calendar day in the clinic timezone.
func (s *Service) Today() time.Time {
	return DateOf(s.now().In(s.loc))
}

func dayKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("doctor:%s:day:%s", doctorID, FormatDate(date))
}

// RequestBooking admits a patient into a doctor's queue for date.
func (s *Service) RequestBooking(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time) (appt *Appointment, err error) {
	defer func() { metrics.ObserveDecision("book", Kind(err)) }()

	day := DateOf(date)
	if day.Before(s.Today()) {
		return nil, ErrPastDate
	}

	avail, err := s.availabilityFor(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	if err := s.ensureActive(ctx, doctorID, patientID); err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.withDayLocks(ctx, doctorID, []time.Time{day}, func(lockCtx context.Context) error {
		active, err := s.repo.ListActiveForDay(lockCtx, doctorID, day)
		if err != nil {
			return fmt.Errorf("load day queue: %w", err)
		}

		if err := admit(active, patientID, uuid.Nil, avail.DailyCapacity); err != nil {
			return err
		}

		created, err = s.repo.CreateScheduled(lockCtx, NewAppointment{
			DoctorID:    doctorID,
			PatientID:   patientID,
			Date:        day,
			QueueNumber: nextQueueNumber(active),
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateBooking) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", FormatDate(day)).
		Int("queue_number", created.QueueNumber).
		Msg("booking admitted")

	s.publish(eventFor(notify.KindBookingCreated, created,
		fmt.Sprintf("Your appointment on %s is booked. You are #%d in the queue.", FormatDate(day), created.QueueNumber)))

	return created, nil
}

// UpdateStatus moves an appointment along its state machine. Cancelling
// closes the gap in the day's queue.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, next Status) (appt *Appointment, err error) {
	defer func() { metrics.ObserveDecision("status", Kind(err)) }()

	var (
		updated  *Appointment
		previous Status
		shifted  []Appointment
	)

	err = s.withAppointmentLock(ctx, id, nil, func(lockCtx context.Context, current *Appointment) error {
		if !current.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}
		previous = current.Status

		var err error
		if next == StatusCancelled {
			updated, shifted, err = s.repo.CancelAndCompact(lockCtx, *current)
		} else {
			updated, err = s.repo.UpdateStatus(lockCtx, id, current.Status, next)
		}
		if err != nil {
			return fmt.Errorf("update appointment %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", string(previous)).
		Str("to", string(next)).
		Int("renumbered", len(shifted)).
		Msg("appointment status changed")

	if next == StatusCancelled {
		s.publish(eventFor(notify.KindBookingCancelled, updated,
			fmt.Sprintf("Your appointment on %s has been cancelled.", FormatDate(updated.Date))))
		s.publishShifted(shifted)
	} else {
		s.publish(eventFor(notify.KindStatusChanged, updated,
			fmt.Sprintf("Your appointment on %s is now %s.", FormatDate(updated.Date), next)))
	}

	return updated, nil
}

// Reschedule moves a non-terminal appointment to another day, re-running
// admission there and compacting the old day's queue.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date time.Time) (appt *Appointment, err error) {
	defer func() { metrics.ObserveDecision("reschedule", Kind(err)) }()

	day := DateOf(date)
	if day.Before(s.Today()) {
		return nil, ErrPastDate
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s appointment cannot be rescheduled", ErrInvalidTransition, current.Status)
	}
	if current.Date.Equal(day) {
		return current, nil
	}

	avail, err := s.availabilityFor(ctx, current.DoctorID, day)
	if err != nil {
		return nil, err
	}
	if err := s.ensureActive(ctx, current.DoctorID, current.PatientID); err != nil {
		return nil, err
	}

	var (
		moved   *Appointment
		oldDate time.Time
		shifted []Appointment
	)

	err = s.withAppointmentLock(ctx, id, []time.Time{day}, func(lockCtx context.Context, current *Appointment) error {
		if current.Status.Terminal() {
			return fmt.Errorf("%w: %s appointment cannot be rescheduled", ErrInvalidTransition, current.Status)
		}
		oldDate = current.Date
		if current.Date.Equal(day) {
			moved = current
			return nil
		}

		active, err := s.repo.ListActiveForDay(lockCtx, current.DoctorID, day)
		if err != nil {
			return fmt.Errorf("load day queue: %w", err)
		}
		if err := admit(active, current.PatientID, current.ID, avail.DailyCapacity); err != nil {
			return err
		}

		moved, shifted, err = s.repo.MoveAndCompact(lockCtx, *current, day, nextQueueNumber(active))
		if err != nil {
			if errors.Is(err, ErrDuplicateBooking) {
				return err
			}
			return fmt.Errorf("move appointment %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if oldDate.Equal(day) {
		return moved, nil
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", FormatDate(oldDate)).
		Str("to", FormatDate(day)).
		Int("queue_number", moved.QueueNumber).
		Msg("appointment rescheduled")

	s.publish(eventFor(notify.KindBookingRescheduled, moved,
		fmt.Sprintf("Your appointment has been moved from %s to %s. You are #%d in the queue.",
			FormatDate(oldDate), FormatDate(day), moved.QueueNumber)))
	s.publishShifted(shifted)

	return moved, nil
}

// GetAppointment reads one appointment without locking.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListDoctorDay returns a doctor's appointments for date, active ones first in
// queue order.
func (s *Service) ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	appointments, err := s.repo.ListDoctorDay(ctx, doctorID, DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("list doctor day: %w", err)
	}
	return appointments, nil
}

// DeleteAppointment physically removes one record. It is an administrative
// escape hatch: other queue numbers of that day are left as they are.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.DeleteAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.log.Warn().
		Str("appointment_id", id.String()).
		Str("doctor_id", deleted.DoctorID.String()).
		Str("date", FormatDate(deleted.Date)).
		Str("status", string(deleted.Status)).
		Int("queue_number", deleted.QueueNumber).
		Msg("appointment deleted by administrator, queue not renumbered")

	return nil
}

// CancelStaleAppointments cancels appointments still scheduled on days before
// before. It is intended to be called by the worker periodically and returns
// how many were cancelled.
func (s *Service) CancelStaleAppointments(ctx context.Context, before time.Time, batch int) (int, error) {
	stale, err := s.repo.FindStaleScheduled(ctx, DateOf(before), batch)
	if err != nil {
		return 0, fmt.Errorf("find stale appointments: %w", err)
	}

	cancelled := 0
	for _, appt := range stale {
		_, err := s.UpdateStatus(ctx, appt.ID, StatusCancelled)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAppointmentNotFound):
			// changed under us; nothing to do
		default:
			s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to cancel stale appointment")
		}
	}

	return cancelled, nil
}

func (s *Service) availabilityFor(ctx context.Context, doctorID uuid.UUID, day time.Time) (*availability.Availability, error) {
	avail, err := s.availability.GetForDay(ctx, doctorID, day.Weekday())
	if err != nil {
		if errors.Is(err, availability.ErrAvailabilityNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDoctorUnavailable, day.Weekday())
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}
	return avail, nil
}

func (s *Service) ensureActive(ctx context.Context, doctorID, patientID uuid.UUID) error {
	doctor, err := s.directory.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return err
		}
		return fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Active() {
		return fmt.Errorf("%w: doctor is %s", ErrPartyInactive, doctor.Status)
	}

	patient, err := s.directory.GetPatientByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return err
		}
		return fmt.Errorf("load patient: %w", err)
	}
	if !patient.Active() {
		return fmt.Errorf("%w: patient is %s", ErrPartyInactive, patient.Status)
	}
	return nil
}

// admit checks a day's active queue for a duplicate booking of patientID and
// for free capacity. moving is excluded from both checks.
func admit(active []Appointment, patientID, moving uuid.UUID, capacity int) error {
	count := 0
	for _, a := range active {
		if a.ID == moving {
			continue
		}
		if a.PatientID == patientID {
			return ErrDuplicateBooking
		}
		count++
	}
	if count >= capacity {
		return ErrCapacityExceeded
	}
	return nil
}

// nextQueueNumber is activeCount+1 while the queue is dense. After an
// administrative delete it stays above every number in use.
func nextQueueNumber(active []Appointment) int {
	next := len(active)
	for _, a := range active {
		if a.QueueNumber > next {
			next = a.QueueNumber
		}
	}
	return next + 1
}

// withDayLocks runs fn holding the locks of every (doctorID, date) pair,
// acquired in key order so two operations never wait on each other crosswise.
func (s *Service) withDayLocks(ctx context.Context, doctorID uuid.UUID, dates []time.Time, fn func(ctx context.Context) error) error {
	seen := make(map[string]struct{}, len(dates))
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		k := dayKey(doctorID, d)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := time.Now()
	err := s.lockAll(ctx, keys, func(lockCtx context.Context) error {
		metrics.ObserveLockWait(time.Since(start))
		return fn(lockCtx)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		s.log.Debug().Strs("keys", keys).Msg("lock budget exhausted")
		return ErrBusy
	}
	return err
}

func (s *Service) lockAll(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, keys[0], func(lockCtx context.Context) error {
		return s.lockAll(lockCtx, keys[1:], fn)
	})
}

// withAppointmentLock locks the appointment's current day (plus extra days)
// and hands fn a fresh copy read under the lock. If the appointment moved to
// another day in the meantime the locks are retaken.
func (s *Service) withAppointmentLock(ctx context.Context, id uuid.UUID, extra []time.Time, fn func(ctx context.Context, current *Appointment) error) error {
	for attempt := 0; attempt < relockAttempts; attempt++ {
		seen, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return err
			}
			return fmt.Errorf("load appointment: %w", err)
		}

		dates := append([]time.Time{seen.Date}, extra...)
		err = s.withDayLocks(ctx, seen.DoctorID, dates, func(lockCtx context.Context) error {
			current, err := s.repo.GetAppointmentByID(lockCtx, id)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return err
				}
				return fmt.Errorf("reload appointment: %w", err)
			}
			if !current.Date.Equal(seen.Date) {
				return errMovedWhileWaiting
			}
			return fn(lockCtx, current)
		})
		if errors.Is(err, errMovedWhileWaiting) {
			continue
		}
		return err
	}
	return ErrBusy
}

func eventFor(kind notify.Kind, a *Appointment, message string) notify.Event {
	return notify.Event{
		Kind:          kind,
		PatientID:     a.PatientID,
		Message:       message,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		Date:          FormatDate(a.Date),
		Status:        string(a.Status),
		QueueNumber:   a.QueueNumber,
	}
}

func (s *Service) publishShifted(shifted []Appointment) {
	for i := range shifted {
		a := &shifted[i]
		s.publish(eventFor(notify.KindQueuePositionChanged, a,
			fmt.Sprintf("You are now #%d in the queue for %s.", a.QueueNumber, FormatDate(a.Date))))
	}
}

// publish hands ev to the notifier; failures never reach the caller.
func (s *Service) publish(ev notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ev); err != nil {
		s.log.Warn().Err(err).
			Str("kind", string(ev.Kind)).
			Str("appointment_id", ev.AppointmentID.String()).
			Msg("notification not queued")
	}
}
