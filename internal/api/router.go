package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/availability"
)

type AppointmentService interface {
	RequestBooking(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, next appointment.Status) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date time.Time) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}

type AvailabilityService interface {
	Create(ctx context.Context, a availability.Availability) (*availability.Availability, error)
	Update(ctx context.Context, id uuid.UUID, a availability.Availability) (*availability.Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*availability.Availability, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]availability.Availability, error)
}

// NotificationStream serves a patient's live notification connection.
type NotificationStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) error
}

type RouterConfig struct {
	Appointments  AppointmentService
	Availability  AvailabilityService
	Notifications NotificationStream
	Health        *HealthHandler
	Logger        zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Appointments))
		r.Get("/", listAppointmentsHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Delete("/{id}", deleteAppointmentHandler(cfg.Appointments, cfg.Logger))
		r.Patch("/{id}/status", updateStatusHandler(cfg.Appointments))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Appointments))
	})

	r.Post("/doctors/{doctorID}/availability", createAvailabilityHandler(cfg.Availability))
	r.Get("/doctors/{doctorID}/availability", listAvailabilityHandler(cfg.Availability))
	r.Get("/availability/{id}", getAvailabilityHandler(cfg.Availability))
	r.Put("/availability/{id}", updateAvailabilityHandler(cfg.Availability))
	r.Delete("/availability/{id}", deleteAvailabilityHandler(cfg.Availability))

	if cfg.Notifications != nil {
		r.Get("/ws", notificationsHandler(cfg.Notifications, cfg.Logger))
	}

	return r
}
