package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/specialist-booking/internal/auth"
	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/reminder"
)

const dateLayout = "2006-01-02"

func listSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specialistID, ok := pathUUID(w, r, "id", "invalid_specialist_id")
		if !ok {
			return
		}

		raw := r.URL.Query().Get("date")
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.ListAvailableSlots(r.Context(), specialistID, date)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			SpecialistID: specialistID,
			Date:         raw,
			Slots:        toSlotResponses(slots),
		})
	}
}

func createAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		specialistID, err := uuid.Parse(req.SpecialistID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_specialist_id", "specialist_id must be a valid UUID")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), booking.CreateAppointmentInput{
			SpecialistID:    specialistID,
			PatientID:       patientID,
			StartAt:         req.StartAt,
			DurationMinutes: req.DurationMinutes,
			Reason:          req.Reason,
			Confirmed:       req.Confirmed,
		})
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specialistID, ok := pathUUID(w, r, "id", "invalid_specialist_id")
		if !ok {
			return
		}

		q := r.URL.Query()
		from, err := time.Parse(time.RFC3339, q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC 3339 timestamp")
			return
		}
		to, err := time.Parse(time.RFC3339, q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC 3339 timestamp")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), specialistID, from, to)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		out := make([]AppointmentResponse, len(appts))
		for i := range appts {
			out[i] = toAppointmentResponse(&appts[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func updateStateHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateState(r.Context(), id, booking.AppointmentStatus(req.Status))
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.StartAt, req.DurationMinutes)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listDueRemindersHandler(svc ReminderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		due, err := svc.ListDueReminders(r.Context())
		if err != nil {
			handleReminderError(w, err)
			return
		}

		out := make([]ReminderResponse, len(due))
		for i := range due {
			out[i] = toReminderResponse(&due[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func markReminderResultHandler(svc ReminderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_reminder_id")
		if !ok {
			return
		}

		var req ReminderResultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		updated, err := svc.MarkReminderResult(r.Context(), id, reminder.Outcome{
			Delivered: req.Delivered,
			Error:     req.Error,
		})
		if err != nil {
			handleReminderError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReminderResponse(updated))
	}
}

func handleBookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, booking.ErrSpecialistNotFound):
		writeError(w, http.StatusNotFound, "specialist_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "slot_being_booked", "specialist calendar is being updated, please retry shortly")
	case errors.Is(err, booking.ErrSpecialistInactive):
		writeError(w, http.StatusConflict, "specialist_inactive", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		if _, ok := auth.FromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "a bearer token is required")
			return
		}
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleReminderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reminder.ErrReminderNotFound):
		writeError(w, http.StatusNotFound, "reminder_not_found", err.Error())
	case errors.Is(err, reminder.ErrReminderNotPending):
		writeError(w, http.StatusConflict, "reminder_not_pending", err.Error())
	case errors.Is(err, reminder.ErrLeaseLost):
		writeError(w, http.StatusConflict, "lease_lost", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
