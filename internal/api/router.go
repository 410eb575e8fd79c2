package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-booking/internal/auth"
	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

type BookingService interface {
	ListAvailableSlots(ctx context.Context, specialistID uuid.UUID, date time.Time) ([]schedule.Slot, error)
	CreateAppointment(ctx context.Context, in booking.CreateAppointmentInput) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	ListAppointments(ctx context.Context, specialistID uuid.UUID, from, to time.Time) ([]booking.Appointment, error)
	UpdateState(ctx context.Context, id uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, durationMinutes int) (*booking.Appointment, error)
}

type ReminderService interface {
	ListDueReminders(ctx context.Context) ([]reminder.Reminder, error)
	MarkReminderResult(ctx context.Context, id uuid.UUID, outcome reminder.Outcome) (*reminder.Reminder, error)
}

type RouterConfig struct {
	Bookings    BookingService
	Reminders   ReminderService
	Issuer      *auth.Issuer
	Health      *HealthHandler
	Metrics     http.Handler
	CORSOrigins []string
	Log         zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	if cfg.Issuer != nil {
		r.Use(auth.Middleware(cfg.Issuer))
	}

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Availability is public
	r.Get("/specialists/{id}/slots", listSlotsHandler(cfg.Bookings))

	// Appointment endpoints
	r.Get("/specialists/{id}/appointments", listAppointmentsHandler(cfg.Bookings))
	r.Post("/appointments", createAppointmentHandler(cfg.Bookings))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Bookings))
	r.Post("/appointments/{id}/state", updateStateHandler(cfg.Bookings))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Bookings))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Bookings))

	// Reminder endpoints, for the messaging front end
	if cfg.Reminders != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleSystem))
			r.Get("/reminders/due", listDueRemindersHandler(cfg.Reminders))
			r.Post("/reminders/{id}/result", markReminderResultHandler(cfg.Reminders))
		})
	}

	return r
}
