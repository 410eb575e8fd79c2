package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-booking/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// ActiveStatuses are the states that hold a specialist's time.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether from -> to is allowed. Repeating the current
// state is handled by the caller as a no-op and is not a transition.
func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Specialist struct {
	ID             uuid.UUID
	Name           string
	ContactChannel string
	Timezone       string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Patient struct {
	ID             uuid.UUID
	Name           string
	ContactChannel string
	Email          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Appointment struct {
	ID              uuid.UUID
	SpecialistID    uuid.UUID
	PatientID       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Reason          string
	ReminderSent    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
}

func (a Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Interval() schedule.Interval {
	return schedule.Interval{Start: a.StartAt, End: a.EndAt()}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type CreateAppointmentInput struct {
	SpecialistID    uuid.UUID
	PatientID       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Reason          string
	// Confirmed books directly into the confirmed state.
	Confirmed bool
}
