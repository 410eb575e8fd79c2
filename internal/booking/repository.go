package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

var (
	ErrSpecialistNotFound  = errors.New("specialist not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetSpecialist(ctx context.Context, id uuid.UUID) (*Specialist, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListTemplates(ctx context.Context, specialistID uuid.UUID, weekday time.Weekday) ([]schedule.Template, error)

	// Read path, snapshot semantics are enough
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, specialistID uuid.UUID, from, to time.Time, statuses ...AppointmentStatus) ([]Appointment, error)

	// InSpecialistTx runs fn in a single unit of work that holds an exclusive
	// lock on the specialist. Bookings for the same specialist serialize here;
	// if fn returns an error nothing it wrote is kept.
	InSpecialistTx(ctx context.Context, specialistID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side available inside InSpecialistTx.
type Tx interface {
	FindOverlapping(ctx context.Context, specialistID uuid.UUID, iv schedule.Interval) ([]Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, now time.Time) (*Appointment, error)

	InsertReminders(ctx context.Context, reminders []reminder.Reminder) error
	CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID, now time.Time) (int, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
