package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-admission/internal/availability"
	"github.com/hackgods/clinic-admission/internal/notify"
)

// memRepo is an in-memory ledger with the same conditional-write and
// partial-unique-index behaviour as the Postgres repository.
type memRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]Appointment
	failOn string
	err    error
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]Appointment)}
}

func (r *memRepo) failing(method string) error {
	if r.failOn == method {
		return r.err
	}
	return nil
}

func (r *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) activeLocked(doctorID uuid.UUID, date time.Time) []Appointment {
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out
}

func (r *memRepo) ListActiveForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	if err := r.failing("ListActiveForDay"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(doctorID, date), nil
}

func (r *memRepo) ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.activeLocked(doctorID, date)
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && !a.Status.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if offset >= len(out) {
		return []Appointment{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) FindStaleScheduled(ctx context.Context, before time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Status == StatusScheduled && a.Date.Before(before) {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) duplicateLocked(self uuid.UUID, patientID, doctorID uuid.UUID, date time.Time) bool {
	for _, a := range r.appts {
		if a.ID != self && a.PatientID == patientID && a.DoctorID == doctorID && a.Date.Equal(date) && a.Status.Active() {
			return true
		}
	}
	return false
}

func (r *memRepo) CreateScheduled(ctx context.Context, in NewAppointment) (*Appointment, error) {
	if err := r.failing("CreateScheduled"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.duplicateLocked(uuid.Nil, in.PatientID, in.DoctorID, in.Date) {
		return nil, ErrDuplicateBooking
	}
	now := time.Now()
	a := Appointment{
		ID:          uuid.New(),
		DoctorID:    in.DoctorID,
		PatientID:   in.PatientID,
		Date:        in.Date,
		Status:      StatusScheduled,
		QueueNumber: in.QueueNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appts[a.ID] = a
	return &a, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	r.appts[id] = a
	return &a, nil
}

func (r *memRepo) compactLocked(doctorID uuid.UUID, date time.Time, removed int) []Appointment {
	var shifted []Appointment
	for id, a := range r.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status.Active() && a.QueueNumber > removed {
			a.QueueNumber--
			r.appts[id] = a
			shifted = append(shifted, a)
		}
	}
	return shifted
}

func (r *memRepo) CancelAndCompact(ctx context.Context, appt Appointment) (*Appointment, []Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[appt.ID]
	if !ok || a.Status != appt.Status || !a.Date.Equal(appt.Date) {
		return nil, nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	r.appts[a.ID] = a
	return &a, r.compactLocked(appt.DoctorID, appt.Date, appt.QueueNumber), nil
}

func (r *memRepo) MoveAndCompact(ctx context.Context, appt Appointment, date time.Time, queueNumber int) (*Appointment, []Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[appt.ID]
	if !ok || a.Status != appt.Status || !a.Date.Equal(appt.Date) {
		return nil, nil, ErrAppointmentNotFound
	}
	if r.duplicateLocked(a.ID, a.PatientID, a.DoctorID, date) {
		return nil, nil, ErrDuplicateBooking
	}
	a.Date = date
	a.QueueNumber = queueNumber
	r.appts[a.ID] = a
	return &a, r.compactLocked(appt.DoctorID, appt.Date, appt.QueueNumber), nil
}

func (r *memRepo) DeleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	delete(r.appts, id)
	return &a, nil
}

// put stores a ready-made appointment, bypassing admission.
func (r *memRepo) put(a Appointment) Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.appts[a.ID] = a
	return a
}

type fakeSchedule map[uuid.UUID]map[time.Weekday]int

func (f fakeSchedule) GetForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*availability.Availability, error) {
	capacity, ok := f[doctorID][day]
	if !ok {
		return nil, availability.ErrAvailabilityNotFound
	}
	return &availability.Availability{
		ID:            uuid.New(),
		DoctorID:      doctorID,
		DayOfWeek:     day,
		StartTime:     9 * 60,
		EndTime:       17 * 60,
		DailyCapacity: capacity,
	}, nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	parties map[uuid.UUID]Party
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{parties: make(map[uuid.UUID]Party)}
}

func (d *fakeDirectory) add(role Role, status AccountStatus) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := Party{ID: uuid.New(), Name: string(role), Role: role, Status: status}
	d.parties[p.ID] = p
	return p.ID
}

func (d *fakeDirectory) get(id uuid.UUID, role Role, notFound error) (*Party, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.parties[id]
	if !ok || p.Role != role {
		return nil, notFound
	}
	return &p, nil
}

func (d *fakeDirectory) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Party, error) {
	return d.get(id, RoleDoctor, ErrDoctorNotFound)
}

func (d *fakeDirectory) GetPatientByID(ctx context.Context, id uuid.UUID) (*Party, error) {
	return d.get(id, RolePatient, ErrPatientNotFound)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Publish(ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (n *recordingNotifier) last() notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}
