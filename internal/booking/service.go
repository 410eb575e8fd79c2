package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-booking/internal/auth"
	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/metrics"
	redisclient "github.com/hackgods/specialist-booking/internal/redis"
	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

const dayLayout = "2006-01-02"

// MaxDurationMinutes caps a single appointment at one day.
const MaxDurationMinutes = 24 * 60

var (
	ErrInvalidInterval    = errors.New("invalid appointment interval")
	ErrSlotConflict       = errors.New("time slot overlaps an existing appointment")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrForbidden          = errors.New("caller may not act on this specialist")
	ErrSpecialistInactive = errors.New("specialist is not accepting bookings")
	ErrSlotBeingBooked    = errors.New("specialist calendar is busy, please retry")
)

// SlotCache stores computed free slots per specialist day. Implementations
// must tolerate being stale; the booking transaction re-checks.
type SlotCache interface {
	Get(ctx context.Context, specialistID uuid.UUID, day string) ([]schedule.Slot, bool)
	Set(ctx context.Context, specialistID uuid.UUID, day string, slots []schedule.Slot)
	Invalidate(ctx context.Context, specialistID uuid.UUID, day string)
}

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	log     zerolog.Logger
	cache   SlotCache
	metrics *metrics.Collectors
	now     func() time.Time
	defLoc  *time.Location
}

type Option func(*Service)

func WithSlotCache(c SlotCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the source of "now". The instant read when a request
// arrives is the one future-start validation is checked against.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger, opts ...Option) *Service {
	if locker == nil {
		locker = redisclient.NopLocker()
	}
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}

	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		defLoc: loc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) location(sp *Specialist) *time.Location {
	if sp.Timezone != "" {
		if loc, err := time.LoadLocation(sp.Timezone); err == nil {
			return loc
		}
	}
	return s.defLoc
}

func authorize(ctx context.Context, specialistID uuid.UUID) error {
	caller, ok := auth.FromContext(ctx)
	if !ok || !caller.CanActFor(specialistID) {
		return ErrForbidden
	}
	return nil
}

func validateInterval(start time.Time, durationMinutes int, now time.Time) error {
	if durationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidInterval)
	}
	if durationMinutes > MaxDurationMinutes {
		return fmt.Errorf("%w: duration exceeds %d minutes", ErrInvalidInterval, MaxDurationMinutes)
	}
	if start.IsZero() || !start.After(now) {
		return fmt.Errorf("%w: start must be in the future", ErrInvalidInterval)
	}
	return nil
}

// ListAvailableSlots returns the free slots of a specialist on the calendar
// day of date (its year, month and day, read in the specialist's zone).
// Slots that already started are omitted. No template means no slots.
func (s *Service) ListAvailableSlots(ctx context.Context, specialistID uuid.UUID, date time.Time) ([]schedule.Slot, error) {
	started := time.Now()
	defer func() { s.metrics.SlotQuery(time.Since(started)) }()

	now := s.now()

	sp, err := s.repo.GetSpecialist(ctx, specialistID)
	if err != nil {
		return nil, err
	}
	if !sp.Active {
		return []schedule.Slot{}, nil
	}

	loc := s.location(sp)
	y, m, d := date.Date()
	day := time.Date(y, m, d, 12, 0, 0, 0, loc)
	dayKey := day.Format(dayLayout)

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, specialistID, dayKey); ok {
			return schedule.FreeSlots(cached, nil, now), nil
		}
	}

	templates, err := s.repo.ListTemplates(ctx, specialistID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	slots := schedule.GenerateSlots(templates, day, loc)
	if len(slots) == 0 {
		return []schedule.Slot{}, nil
	}

	from, to := schedule.DayBounds(day, loc)
	booked, err := s.repo.ListAppointments(ctx, specialistID, from, to, ActiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	busy := make([]schedule.Interval, len(booked))
	for i, a := range booked {
		busy[i] = a.Interval()
	}

	free := schedule.FreeSlots(slots, busy, time.Time{})
	if s.cache != nil {
		s.cache.Set(ctx, specialistID, dayKey, free)
	}

	return schedule.FreeSlots(free, nil, now), nil
}

// IsAvailable reports whether the interval overlaps no active appointment.
// It is advisory; CreateAppointment repeats the check under lock.
func (s *Service) IsAvailable(ctx context.Context, specialistID uuid.UUID, start time.Time, durationMinutes int) (bool, error) {
	if durationMinutes <= 0 || durationMinutes > MaxDurationMinutes {
		return false, fmt.Errorf("%w: duration must be between 1 and %d minutes", ErrInvalidInterval, MaxDurationMinutes)
	}
	iv := schedule.NewInterval(start, durationMinutes)

	booked, err := s.repo.ListAppointments(ctx, specialistID, iv.Start, iv.End, ActiveStatuses...)
	if err != nil {
		return false, fmt.Errorf("load appointments: %w", err)
	}
	busy := make([]schedule.Interval, len(booked))
	for i, a := range booked {
		busy[i] = a.Interval()
	}
	return schedule.IsAvailable(iv, busy), nil
}

// CreateAppointment books an interval for a patient. The overlap check and
// the insert happen in one specialist transaction, so of two concurrent
// requests for overlapping intervals exactly one succeeds.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*Appointment, error) {
	now := s.now()

	if err := validateInterval(in.StartAt, in.DurationMinutes, now); err != nil {
		s.metrics.Booking("invalid")
		return nil, err
	}
	if err := authorize(ctx, in.SpecialistID); err != nil {
		s.metrics.Booking("forbidden")
		return nil, err
	}

	sp, err := s.repo.GetSpecialist(ctx, in.SpecialistID)
	if err != nil {
		return nil, s.bookingFailed(err)
	}
	if !sp.Active {
		s.metrics.Booking("inactive")
		return nil, ErrSpecialistInactive
	}
	if _, err := s.repo.GetPatient(ctx, in.PatientID); err != nil {
		return nil, s.bookingFailed(err)
	}

	status := StatusPending
	if in.Confirmed {
		status = StatusConfirmed
	}

	var created *Appointment
	err = s.locker.WithSpecialistLock(ctx, in.SpecialistID, func(lockCtx context.Context) error {
		return s.repo.InSpecialistTx(lockCtx, in.SpecialistID, func(txCtx context.Context, tx Tx) error {
			appt, err := s.book(txCtx, tx, in, status, now)
			if err != nil {
				return err
			}
			created = appt
			return tx.InsertEvent(txCtx, newEvent(appt.ID, EventAppointmentCreated, map[string]any{
				"specialist_id": appt.SpecialistID.String(),
				"patient_id":    appt.PatientID.String(),
				"start_at":      appt.StartAt,
				"status":        appt.Status,
			}))
		})
	})
	if err != nil {
		return nil, s.bookingFailed(err)
	}

	s.metrics.Booking("created")
	s.invalidate(ctx, sp, created.StartAt)
	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("specialist_id", created.SpecialistID.String()).
		Time("start_at", created.StartAt).
		Msg("appointment created")

	return created, nil
}

func (s *Service) bookingFailed(err error) error {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.Booking("busy")
		return ErrSlotBeingBooked
	case errors.Is(err, ErrSlotConflict):
		s.metrics.Booking("conflict")
		return err
	case errors.Is(err, ErrSpecialistNotFound), errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrAppointmentNotFound):
		s.metrics.Booking("not_found")
		return err
	case errors.Is(err, ErrInvalidTransition):
		s.metrics.Booking("invalid")
		return err
	default:
		s.metrics.Booking("error")
		return fmt.Errorf("create appointment: %w", err)
	}
}

// book re-validates availability and writes the appointment with its reminders.
// Must run inside InSpecialistTx.
func (s *Service) book(ctx context.Context, tx Tx, in CreateAppointmentInput, status AppointmentStatus, now time.Time) (*Appointment, error) {
	iv := schedule.NewInterval(in.StartAt, in.DurationMinutes)

	overlapping, err := tx.FindOverlapping(ctx, in.SpecialistID, iv)
	if err != nil {
		return nil, fmt.Errorf("check overlap: %w", err)
	}
	if len(overlapping) > 0 {
		return nil, ErrSlotConflict
	}

	appt := &Appointment{
		ID:              uuid.New(),
		SpecialistID:    in.SpecialistID,
		PatientID:       in.PatientID,
		StartAt:         in.StartAt,
		DurationMinutes: in.DurationMinutes,
		Status:          status,
		Reason:          in.Reason,
		ReminderSent:    false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return nil, err
	}

	if planned := s.planReminders(appt, now); len(planned) > 0 {
		if err := tx.InsertReminders(ctx, planned); err != nil {
			return nil, fmt.Errorf("insert reminders: %w", err)
		}
	}

	return appt, nil
}

// planReminders lists the reminders created with an appointment. Any whose
// time is not after now is skipped.
func (s *Service) planReminders(a *Appointment, now time.Time) []reminder.Reminder {
	kinds := []reminder.Kind{reminder.KindDayBefore}
	if s.cfg.Reminder.OneHourEnabled {
		kinds = append(kinds, reminder.KindHourBefore)
	}

	var out []reminder.Reminder
	for _, k := range kinds {
		at := a.StartAt.Add(-k.Offset())
		if !at.After(now) {
			continue
		}
		out = append(out, reminder.New(a.ID, k, at, now))
	}

	if a.Status == StatusConfirmed && s.cfg.Reminder.ConfirmationEnabled {
		out = append(out, reminder.New(a.ID, reminder.KindConfirmation, now, now))
	}
	return out
}

// UpdateState moves an appointment along pending -> confirmed -> completed,
// or to cancelled from any active state. Asking for the state the
// appointment is already in is a no-op, which makes cancel idempotent.
func (s *Service) UpdateState(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	now := s.now()

	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, appt.SpecialistID); err != nil {
		return nil, err
	}

	var (
		updated *Appointment
		changed bool
	)
	err = s.repo.InSpecialistTx(ctx, appt.SpecialistID, func(txCtx context.Context, tx Tx) error {
		current, err := tx.GetAppointmentForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if current.Status == to {
			updated = current
			return nil
		}
		if !CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
		}

		u, err := s.transition(txCtx, tx, current, to, now)
		if err != nil {
			return err
		}
		updated = u
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.Transition(string(to))
		// leaving an active state frees the interval
		if !to.Active() {
			if sp, err := s.repo.GetSpecialist(ctx, updated.SpecialistID); err == nil {
				s.invalidate(ctx, sp, updated.StartAt)
			}
		}
		s.log.Info().
			Str("appointment_id", updated.ID.String()).
			Str("status", string(updated.Status)).
			Msg("appointment state changed")
	}

	return updated, nil
}

func (s *Service) transition(ctx context.Context, tx Tx, current *Appointment, to AppointmentStatus, now time.Time) (*Appointment, error) {
	updated, err := tx.UpdateAppointmentStatus(ctx, current.ID, current.Status, to, now)
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	var event string
	switch to {
	case StatusConfirmed:
		event = EventAppointmentConfirmed
		if s.cfg.Reminder.ConfirmationEnabled {
			if err := tx.InsertReminders(ctx, []reminder.Reminder{
				reminder.New(updated.ID, reminder.KindConfirmation, now, now),
			}); err != nil {
				return nil, fmt.Errorf("insert confirmation reminder: %w", err)
			}
		}
	case StatusCancelled:
		event = EventAppointmentCancelled
		if _, err := tx.CancelPendingReminders(ctx, updated.ID, now); err != nil {
			return nil, fmt.Errorf("cancel reminders: %w", err)
		}
	case StatusCompleted:
		event = EventAppointmentCompleted
		if _, err := tx.CancelPendingReminders(ctx, updated.ID, now); err != nil {
			return nil, fmt.Errorf("cancel reminders: %w", err)
		}
		if delay := s.cfg.Reminder.FollowUpDelay; delay > 0 {
			at := updated.EndAt().Add(delay)
			if at.Before(now) {
				at = now
			}
			if err := tx.InsertReminders(ctx, []reminder.Reminder{
				reminder.New(updated.ID, reminder.KindFollowUp, at, now),
			}); err != nil {
				return nil, fmt.Errorf("insert follow-up reminder: %w", err)
			}
		}
	}

	if err := tx.InsertEvent(ctx, newEvent(updated.ID, event, map[string]any{
		"from": current.Status,
		"to":   to,
	})); err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel is UpdateState(id, cancelled).
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.UpdateState(ctx, id, StatusCancelled)
}

// Reschedule cancels an active appointment and books the new interval for
// the same patient in one transaction. If the new interval conflicts the
// original appointment is left untouched.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, durationMinutes int) (*Appointment, error) {
	now := s.now()

	if err := validateInterval(newStart, durationMinutes, now); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, appt.SpecialistID); err != nil {
		return nil, err
	}

	sp, err := s.repo.GetSpecialist(ctx, appt.SpecialistID)
	if err != nil {
		return nil, err
	}
	if !sp.Active {
		return nil, ErrSpecialistInactive
	}

	var created *Appointment
	err = s.locker.WithSpecialistLock(ctx, appt.SpecialistID, func(lockCtx context.Context) error {
		return s.repo.InSpecialistTx(lockCtx, appt.SpecialistID, func(txCtx context.Context, tx Tx) error {
			current, err := tx.GetAppointmentForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			if !current.Status.Active() {
				return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, current.Status)
			}

			if _, err := s.transition(txCtx, tx, current, StatusCancelled, now); err != nil {
				return err
			}

			next, err := s.book(txCtx, tx, CreateAppointmentInput{
				SpecialistID:    current.SpecialistID,
				PatientID:       current.PatientID,
				StartAt:         newStart,
				DurationMinutes: durationMinutes,
				Reason:          current.Reason,
			}, current.Status, now)
			if err != nil {
				return err
			}
			created = next

			return tx.InsertEvent(txCtx, newEvent(next.ID, EventAppointmentRescheduled, map[string]any{
				"previous_id": current.ID.String(),
				"start_at":    next.StartAt,
			}))
		})
	})
	if err != nil {
		return nil, s.bookingFailed(err)
	}

	s.metrics.Booking("rescheduled")
	s.invalidate(ctx, sp, appt.StartAt)
	s.invalidate(ctx, sp, created.StartAt)
	s.log.Info().
		Str("previous_id", appt.ID.String()).
		Str("appointment_id", created.ID.String()).
		Msg("appointment rescheduled")

	return created, nil
}

// GetAppointment returns an appointment visible to the caller.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, appt.SpecialistID); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointments returns a specialist's appointments overlapping [from, to).
func (s *Service) ListAppointments(ctx context.Context, specialistID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if err := authorize(ctx, specialistID); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: empty range", ErrInvalidInterval)
	}
	appts, err := s.repo.ListAppointments(ctx, specialistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) invalidate(ctx context.Context, sp *Specialist, at time.Time) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, sp.ID, at.In(s.location(sp)).Format(dayLayout))
}

func newEvent(appointmentID uuid.UUID, eventType string, payload map[string]any) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}

	apptID := appointmentID
	return EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}
}
