package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/availability"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusClientClosedRequest is the nginx convention for a client that hung up
// before the response was ready.
const statusClientClosedRequest = 499

// statusFor maps an admission outcome kind to its HTTP status.
var statusFor = map[string]int{
	"doctor_unavailable":    http.StatusUnprocessableEntity,
	"party_inactive":        http.StatusUnprocessableEntity,
	"past_date":             http.StatusUnprocessableEntity,
	"duplicate_booking":     http.StatusConflict,
	"capacity_exceeded":     http.StatusConflict,
	"invalid_transition":    http.StatusConflict,
	"appointment_not_found": http.StatusNotFound,
	"patient_not_found":     http.StatusNotFound,
	"doctor_not_found":      http.StatusNotFound,
	"busy":                  http.StatusServiceUnavailable,
	"canceled":              statusClientClosedRequest,
}

func handleAppointmentError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appointment.Kind(err)
	status, ok := statusFor[kind]
	if !ok {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("appointment request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, kind, err.Error())
}

func handleAvailabilityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, availability.ErrAvailabilityNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", err.Error())
	case errors.Is(err, availability.ErrAvailabilityExists):
		writeError(w, http.StatusConflict, "availability_exists", err.Error())
	case errors.Is(err, availability.ErrAvailabilityInUse):
		writeError(w, http.StatusConflict, "availability_in_use", err.Error())
	case errors.Is(err, availability.ErrInvalidAvailability):
		writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, statusClientClosedRequest, "canceled", "request canceled")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("availability request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
