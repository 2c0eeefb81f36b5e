package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/availability"
)

type stubAppointments struct {
	book       func(doctorID, patientID uuid.UUID, date time.Time) (*appointment.Appointment, error)
	update     func(id uuid.UUID, next appointment.Status) (*appointment.Appointment, error)
	reschedule func(id uuid.UUID, date time.Time) (*appointment.Appointment, error)
	get        func(id uuid.UUID) (*appointment.Appointment, error)
	byPatient  func(patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	doctorDay  func(doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
	remove     func(id uuid.UUID) error
}

func (s *stubAppointments) RequestBooking(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time) (*appointment.Appointment, error) {
	return s.book(doctorID, patientID, date)
}

func (s *stubAppointments) UpdateStatus(ctx context.Context, id uuid.UUID, next appointment.Status) (*appointment.Appointment, error) {
	return s.update(id, next)
}

func (s *stubAppointments) Reschedule(ctx context.Context, id uuid.UUID, date time.Time) (*appointment.Appointment, error) {
	return s.reschedule(id, date)
}

func (s *stubAppointments) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.get(id)
}

func (s *stubAppointments) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	return s.byPatient(patientID, limit, offset)
}

func (s *stubAppointments) ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error) {
	return s.doctorDay(doctorID, date)
}

func (s *stubAppointments) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return s.remove(id)
}

type stubAvailability struct {
	entries map[uuid.UUID]availability.Availability
	err     error
}

func (s *stubAvailability) Create(ctx context.Context, a availability.Availability) (*availability.Availability, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.ID = uuid.New()
	s.entries[a.ID] = a
	return &a, nil
}

func (s *stubAvailability) Update(ctx context.Context, id uuid.UUID, a availability.Availability) (*availability.Availability, error) {
	current, ok := s.entries[id]
	if !ok {
		return nil, availability.ErrAvailabilityNotFound
	}
	a.ID, a.DoctorID = id, current.DoctorID
	s.entries[id] = a
	return &a, nil
}

func (s *stubAvailability) Delete(ctx context.Context, id uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	delete(s.entries, id)
	return nil
}

func (s *stubAvailability) Get(ctx context.Context, id uuid.UUID) (*availability.Availability, error) {
	a, ok := s.entries[id]
	if !ok {
		return nil, availability.ErrAvailabilityNotFound
	}
	return &a, nil
}

func (s *stubAvailability) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]availability.Availability, error) {
	var out []availability.Availability
	for _, a := range s.entries {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestRouter(appts *stubAppointments, avail *stubAvailability) http.Handler {
	if avail == nil {
		avail = &stubAvailability{entries: make(map[uuid.UUID]availability.Availability)}
	}
	return NewRouter(RouterConfig{
		Appointments: appts,
		Availability: avail,
		Logger:       zerolog.Nop(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sampleAppointment(doctorID, patientID uuid.UUID, date time.Time, queue int) *appointment.Appointment {
	return &appointment.Appointment{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		PatientID:   patientID,
		Date:        date,
		Status:      appointment.StatusScheduled,
		QueueNumber: queue,
	}
}

func TestCreateAppointment(t *testing.T) {
	doctor, patient := uuid.New(), uuid.New()
	appts := &stubAppointments{
		book: func(d, p uuid.UUID, date time.Time) (*appointment.Appointment, error) {
			assert.Equal(t, doctor, d)
			assert.Equal(t, patient, p)
			assert.Equal(t, "2026-03-09", appointment.FormatDate(date))
			return sampleAppointment(d, p, date, 3), nil
		},
	}
	h := newTestRouter(appts, nil)

	body := fmt.Sprintf(`{"doctor_id":%q,"patient_id":%q,"date":"2026-03-09"}`, doctor, patient)
	rec := do(t, h, http.MethodPost, "/appointments", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.QueueNumber)
	assert.Equal(t, "2026-03-09", resp.Date)
	assert.Equal(t, "scheduled", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointment_BadInput(t *testing.T) {
	h := newTestRouter(&stubAppointments{}, nil)
	valid := uuid.New().String()

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"doctor_id":`, "invalid_request_body"},
		{"bad doctor", `{"doctor_id":"x","patient_id":"` + valid + `","date":"2026-03-09"}`, "invalid_doctor_id"},
		{"bad patient", `{"doctor_id":"` + valid + `","patient_id":"x","date":"2026-03-09"}`, "invalid_patient_id"},
		{"bad date", `{"doctor_id":"` + valid + `","patient_id":"` + valid + `","date":"09/03/2026"}`, "invalid_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestCreateAppointment_OutcomeMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{appointment.ErrDoctorUnavailable, http.StatusUnprocessableEntity, "doctor_unavailable"},
		{appointment.ErrPartyInactive, http.StatusUnprocessableEntity, "party_inactive"},
		{appointment.ErrPastDate, http.StatusUnprocessableEntity, "past_date"},
		{appointment.ErrDuplicateBooking, http.StatusConflict, "duplicate_booking"},
		{appointment.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
		{appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{appointment.ErrBusy, http.StatusServiceUnavailable, "busy"},
		{errors.New("pool exhausted"), http.StatusInternalServerError, "internal_error"},
	}

	body := fmt.Sprintf(`{"doctor_id":%q,"patient_id":%q,"date":"2026-03-09"}`, uuid.New(), uuid.New())
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newTestRouter(&stubAppointments{
				book: func(uuid.UUID, uuid.UUID, time.Time) (*appointment.Appointment, error) { return nil, tt.err },
			}, nil)

			rec := do(t, h, http.MethodPost, "/appointments", body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error)
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Details, "pool exhausted")
			}
		})
	}
}

func TestCreateAppointment_ClientGoneIsNotAFault(t *testing.T) {
	var logs bytes.Buffer
	failWith := func(err error) http.Handler {
		return NewRouter(RouterConfig{
			Appointments: &stubAppointments{
				book: func(uuid.UUID, uuid.UUID, time.Time) (*appointment.Appointment, error) { return nil, err },
			},
			Availability: &stubAvailability{entries: make(map[uuid.UUID]availability.Availability)},
			Logger:       zerolog.New(&logs),
		})
	}
	body := fmt.Sprintf(`{"doctor_id":%q,"patient_id":%q,"date":"2026-03-09"}`, uuid.New(), uuid.New())

	rec := do(t, failWith(fmt.Errorf("load day queue: %w", context.Canceled)), http.MethodPost, "/appointments", body)
	assert.Equal(t, 499, rec.Code)
	assert.Equal(t, "canceled", decodeError(t, rec).Error)
	assert.NotContains(t, logs.String(), `"level":"error"`)
	assert.NotContains(t, logs.String(), `"level":"warn"`)

	logs.Reset()
	rec = do(t, failWith(errors.New("pool exhausted")), http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), `"level":"error"`)
}

func TestListAppointments(t *testing.T) {
	patient, doctor := uuid.New(), uuid.New()
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	appts := &stubAppointments{
		byPatient: func(p uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
			assert.Equal(t, patient, p)
			assert.Equal(t, 5, limit)
			assert.Equal(t, 10, offset)
			return []appointment.Appointment{*sampleAppointment(doctor, p, date, 1)}, nil
		},
		doctorDay: func(d uuid.UUID, got time.Time) ([]appointment.Appointment, error) {
			assert.Equal(t, doctor, d)
			assert.Equal(t, date, got)
			return []appointment.Appointment{
				*sampleAppointment(d, uuid.New(), got, 1),
				*sampleAppointment(d, uuid.New(), got, 2),
			}, nil
		},
	}
	h := newTestRouter(appts, nil)

	rec := do(t, h, http.MethodGet, "/appointments?patient_id="+patient.String()+"&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, h, http.MethodGet, "/appointments?doctor_id="+doctor.String()+"&date=2026-03-09", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = do(t, h, http.MethodGet, "/appointments", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_filter", decodeError(t, rec).Error)
}

func TestGetAppointment_NotFound(t *testing.T) {
	h := newTestRouter(&stubAppointments{
		get: func(uuid.UUID) (*appointment.Appointment, error) { return nil, appointment.ErrAppointmentNotFound },
	}, nil)

	rec := do(t, h, http.MethodGet, "/appointments/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/appointments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	id := uuid.New()
	h := newTestRouter(&stubAppointments{
		update: func(got uuid.UUID, next appointment.Status) (*appointment.Appointment, error) {
			if next == appointment.StatusScheduled {
				return nil, fmt.Errorf("%w: cancelled -> scheduled", appointment.ErrInvalidTransition)
			}
			a := sampleAppointment(uuid.New(), uuid.New(), time.Now(), 1)
			a.ID, a.Status = got, next
			return a, nil
		},
	}, nil)

	rec := do(t, h, http.MethodPatch, "/appointments/"+id.String()+"/status", `{"status":"in-progress"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "in-progress", resp.Status)

	rec = do(t, h, http.MethodPatch, "/appointments/"+id.String()+"/status", `{"status":"done"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPatch, "/appointments/"+id.String()+"/status", `{"status":"scheduled"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Error)
}

func TestReschedule(t *testing.T) {
	id := uuid.New()
	h := newTestRouter(&stubAppointments{
		reschedule: func(got uuid.UUID, date time.Time) (*appointment.Appointment, error) {
			assert.Equal(t, id, got)
			return sampleAppointment(uuid.New(), uuid.New(), date, 4), nil
		},
	}, nil)

	rec := do(t, h, http.MethodPost, "/appointments/"+id.String()+"/reschedule", `{"date":"2026-03-16"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-03-16", resp.Date)
	assert.Equal(t, 4, resp.QueueNumber)
}

func TestDeleteAppointment(t *testing.T) {
	deleted := false
	h := newTestRouter(&stubAppointments{
		remove: func(uuid.UUID) error { deleted = true; return nil },
	}, nil)

	rec := do(t, h, http.MethodDelete, "/appointments/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, deleted)
}

func TestAvailabilityEndpoints(t *testing.T) {
	avail := &stubAvailability{entries: make(map[uuid.UUID]availability.Availability)}
	h := newTestRouter(&stubAppointments{}, avail)
	doctor := uuid.New()

	rec := do(t, h, http.MethodPost, "/doctors/"+doctor.String()+"/availability",
		`{"day_of_week":1,"start_time":"09:00","end_time":"17:00","daily_capacity":12}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, doctor, created.DoctorID)
	assert.Equal(t, "Monday", created.Weekday)
	assert.Equal(t, availability.TimeOfDay(9*60), created.StartTime)

	rec = do(t, h, http.MethodPost, "/doctors/"+doctor.String()+"/availability",
		`{"day_of_week":1,"start_time":"17:00","end_time":"09:00","daily_capacity":12}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_availability", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/doctors/"+doctor.String()+"/availability",
		`{"start_time":"09:00","end_time":"17:00","daily_capacity":12}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/availability/"+created.ID.String(),
		`{"day_of_week":1,"start_time":"08:00","end_time":"12:00","daily_capacity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, doctor, updated.DoctorID)
	assert.Equal(t, 4, updated.DailyCapacity)

	rec = do(t, h, http.MethodGet, "/doctors/"+doctor.String()+"/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, h, http.MethodGet, "/availability/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	avail.err = availability.ErrAvailabilityInUse
	rec = do(t, h, http.MethodDelete, "/availability/"+created.ID.String(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "availability_in_use", decodeError(t, rec).Error)

	avail.err = nil
	rec = do(t, h, http.MethodDelete, "/availability/"+created.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestRouter(&stubAppointments{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestNotifications_RequiresPatient(t *testing.T) {
	h := NewRouter(RouterConfig{
		Appointments:  &stubAppointments{},
		Availability:  &stubAvailability{},
		Notifications: streamFunc(func(w http.ResponseWriter, r *http.Request, _ uuid.UUID) error { return nil }),
		Logger:        zerolog.Nop(),
	})

	rec := do(t, h, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type streamFunc func(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) error

func (f streamFunc) ServeWS(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) error {
	return f(w, r, patientID)
}
