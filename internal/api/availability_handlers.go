package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-admission/internal/availability"
)

func decodeAvailability(w http.ResponseWriter, r *http.Request, doctorID uuid.UUID) (availability.Availability, bool) {
	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return availability.Availability{}, false
	}
	if req.DayOfWeek == nil {
		writeError(w, http.StatusBadRequest, "invalid_availability", "day_of_week is required")
		return availability.Availability{}, false
	}

	return availability.Availability{
		DoctorID:      doctorID,
		DayOfWeek:     time.Weekday(*req.DayOfWeek),
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		DailyCapacity: req.DailyCapacity,
	}, true
}

func createAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}

		a, ok := decodeAvailability(w, r, doctorID)
		if !ok {
			return
		}

		created, err := svc.Create(r.Context(), a)
		if err != nil {
			handleAvailabilityError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAvailabilityResponse(created))
	}
}

func listAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}

		entries, err := svc.ListByDoctor(r.Context(), doctorID)
		if err != nil {
			handleAvailabilityError(w, r, err)
			return
		}

		resp := make([]AvailabilityResponse, 0, len(entries))
		for i := range entries {
			resp = append(resp, toAvailabilityResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "invalid_availability_id")
		if !ok {
			return
		}

		a, err := svc.Get(r.Context(), id)
		if err != nil {
			handleAvailabilityError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(a))
	}
}

// updateAvailabilityHandler replaces an entry's weekday, hours and capacity.
// The owning doctor never changes.
func updateAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "invalid_availability_id")
		if !ok {
			return
		}

		a, ok := decodeAvailability(w, r, uuid.Nil)
		if !ok {
			return
		}

		updated, err := svc.Update(r.Context(), id, a)
		if err != nil {
			handleAvailabilityError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(updated))
	}
}

func deleteAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "invalid_availability_id")
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			handleAvailabilityError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
