package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

type CreateAppointmentRequest struct {
	SpecialistID    string    `json:"specialist_id"`
	PatientID       string    `json:"patient_id"`
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason"`
	Confirmed       bool      `json:"confirmed"`
}

type UpdateStateRequest struct {
	Status string `json:"status"`
}

type RescheduleRequest struct {
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type ReminderResultRequest struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotsResponse struct {
	SpecialistID uuid.UUID      `json:"specialist_id"`
	Date         string         `json:"date"`
	Slots        []SlotResponse `json:"slots"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	SpecialistID    uuid.UUID  `json:"specialist_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           time.Time  `json:"end_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	ReminderSent    bool       `json:"reminder_sent"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

type ReminderResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Kind          string     `json:"kind"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	ClaimedUntil  *time.Time `json:"claimed_until,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponses(slots []schedule.Slot) []SlotResponse {
	out := make([]SlotResponse, len(slots))
	for i, s := range slots {
		out[i] = SlotResponse{Start: s.Start, End: s.End}
	}
	return out
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		SpecialistID:    a.SpecialistID,
		PatientID:       a.PatientID,
		StartAt:         a.StartAt,
		EndAt:           a.EndAt(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Reason:          a.Reason,
		ReminderSent:    a.ReminderSent,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		CancelledAt:     a.CancelledAt,
	}
}

func toReminderResponse(r *reminder.Reminder) ReminderResponse {
	return ReminderResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		Kind:          string(r.Kind),
		ScheduledAt:   r.ScheduledAt,
		Status:        string(r.Status),
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		SentAt:        r.SentAt,
		ClaimedUntil:  r.ClaimedUntil,
	}
}
