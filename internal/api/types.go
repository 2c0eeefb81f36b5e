package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/availability"
)

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Date      string `json:"date"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Date        string    `json:"date"`
	Status      string    `json:"status"`
	QueueNumber int       `json:"queue_number"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		DoctorID:    a.DoctorID,
		PatientID:   a.PatientID,
		Date:        appointment.FormatDate(a.Date),
		Status:      string(a.Status),
		QueueNumber: a.QueueNumber,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toAppointmentList(in []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(in))
	for i := range in {
		out = append(out, toAppointmentResponse(&in[i]))
	}
	return out
}

// AvailabilityRequest is the body of create and update calls. Times are HH:MM.
type AvailabilityRequest struct {
	DayOfWeek     *int                   `json:"day_of_week"`
	StartTime     availability.TimeOfDay `json:"start_time"`
	EndTime       availability.TimeOfDay `json:"end_time"`
	DailyCapacity int                    `json:"daily_capacity"`
}

type AvailabilityResponse struct {
	ID            uuid.UUID              `json:"id"`
	DoctorID      uuid.UUID              `json:"doctor_id"`
	DayOfWeek     int                    `json:"day_of_week"`
	Weekday       string                 `json:"weekday"`
	StartTime     availability.TimeOfDay `json:"start_time"`
	EndTime       availability.TimeOfDay `json:"end_time"`
	DailyCapacity int                    `json:"daily_capacity"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toAvailabilityResponse(a *availability.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		ID:            a.ID,
		DoctorID:      a.DoctorID,
		DayOfWeek:     int(a.DayOfWeek),
		Weekday:       a.DayOfWeek.String(),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		DailyCapacity: a.DailyCapacity,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
