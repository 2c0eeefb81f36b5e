package appointment

import (
	"context"
	"errors"

	"github.com/hackgods/clinic-admission/internal/lock"
)

// Admission outcomes. These are expected results returned to callers, not
// faults.
var (
	ErrDoctorUnavailable   = errors.New("doctor has no availability on that day")
	ErrPartyInactive       = errors.New("doctor or patient account is not active")
	ErrDuplicateBooking    = errors.New("patient already has an active appointment with this doctor on that day")
	ErrCapacityExceeded    = errors.New("doctor's daily capacity is reached")
	ErrPastDate            = errors.New("date is before today")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrBusy                = errors.New("schedule is busy, please retry")
)

// Kind names the outcome class of err for metrics and API error codes.
// Unrecognised errors are "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDoctorUnavailable):
		return "doctor_unavailable"
	case errors.Is(err, ErrPartyInactive):
		return "party_inactive"
	case errors.Is(err, ErrDuplicateBooking):
		return "duplicate_booking"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrPastDate):
		return "past_date"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrPatientNotFound):
		return "patient_not_found"
	case errors.Is(err, ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, ErrBusy), errors.Is(err, lock.ErrNotAcquired):
		return "busy"
	case errors.Is(err, context.Canceled):
		// the caller went away; nothing failed on our side
		return "canceled"
	}
	return "internal"
}
